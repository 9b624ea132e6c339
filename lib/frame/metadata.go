// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Credentials is the identity snapshot of a connection's owner,
// captured at HELLO time.
type Credentials struct {
	UID uint32 `cbor:"uid"`
	GID uint32 `cbor:"gid"`
	PID uint32 `cbor:"pid"`
}

// Metadata is the CBOR-encoded body of a KindMetadata record. Its
// shape evolves independently of the fixed header/record envelope, so
// it is carried as an opaque sub-structure the same way the teacher's
// daemon↔launcher IPC protocol carries its evolving request bodies.
//
// Every field is optional: a connection's metadata-attach mask
// determines which fields the router populates before stamping this
// record on an inbound message, and fields outside that mask are left
// at their zero value rather than included. AuditID is the exception:
// EncodeMetadata fills in a fresh one whenever it is empty, so an
// encoded record always carries an audit id, whatever the mask.
type Metadata struct {
	Credentials    *Credentials `cbor:"credentials,omitempty"`
	CgroupPath     string       `cbor:"cgroup_path,omitempty"`
	ExecutablePath string       `cbor:"executable_path,omitempty"`
	CommandLine    []string     `cbor:"command_line,omitempty"`

	// MonotonicNs and RealtimeNs are the sender's clock readings at
	// the moment the router stamped this record.
	MonotonicNs int64 `cbor:"monotonic_ns,omitempty"`
	RealtimeNs  int64 `cbor:"realtime_ns,omitempty"`

	// AuditID uniquely identifies this stamping event for external
	// correlation. Generated by the router if the caller supplies
	// none.
	AuditID string `cbor:"audit_id,omitempty"`

	SecLabel     string `cbor:"seclabel,omitempty"`
	Capabilities uint64 `cbor:"capabilities,omitempty"`
}

// NewAuditID generates a fresh audit id for a Metadata record.
func NewAuditID() string {
	return uuid.NewString()
}

// EncodeMetadata renders m as a KindMetadata record's Data.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m.AuditID == "" {
		m.AuditID = NewAuditID()
	}
	return cbor.Marshal(m)
}

// DecodeMetadata parses a KindMetadata record's Data.
func DecodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// AttachMask controls which Metadata fields a connection wants
// stamped on inbound messages.
type AttachMask uint32

const (
	AttachCredentials AttachMask = 1 << iota
	AttachCgroupPath
	AttachExecutablePath
	AttachCommandLine
	AttachTimestamps
	AttachAuditID
	AttachSecLabel
	AttachCapabilities
)

// Apply zeroes every field of full that mask does not request,
// returning the subset a connection with that attach mask should
// receive. Synthetic kernel messages are stamped through the same
// path as sender-sourced ones, so the two cases share this helper.
func (mask AttachMask) Apply(full Metadata) Metadata {
	out := Metadata{}
	if mask&AttachCredentials != 0 {
		out.Credentials = full.Credentials
	}
	if mask&AttachCgroupPath != 0 {
		out.CgroupPath = full.CgroupPath
	}
	if mask&AttachExecutablePath != 0 {
		out.ExecutablePath = full.ExecutablePath
	}
	if mask&AttachCommandLine != 0 {
		out.CommandLine = full.CommandLine
	}
	if mask&AttachTimestamps != 0 {
		out.MonotonicNs = full.MonotonicNs
		out.RealtimeNs = full.RealtimeNs
	}
	if mask&AttachAuditID != 0 {
		out.AuditID = full.AuditID
	}
	if mask&AttachSecLabel != 0 {
		out.SecLabel = full.SecLabel
	}
	if mask&AttachCapabilities != 0 {
		out.Capabilities = full.Capabilities
	}
	return out
}
