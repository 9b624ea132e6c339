// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the bit-exact wire format exchanged between
// user space and the core: a fixed header followed by an 8-byte-aligned
// sequence of typed, length-prefixed records.
//
// The format mirrors the teacher's lib/ipc CBOR envelope in spirit (a
// fixed set of well-known fields, one evolving payload shape carried
// as an opaque sub-structure) but the framing itself is a raw
// little-endian binary layout, not CBOR — the header and record
// prefixes must round-trip byte-for-byte with a non-Go peer, so
// encoding/binary is used directly rather than a schema-driven codec.
// Only the METADATA record's body is CBOR (github.com/fxamacker/cbor/v2),
// since its shape evolves over time and does not need to be
// alignment-exact.
package frame
