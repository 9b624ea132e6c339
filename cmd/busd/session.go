// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"

	"github.com/busline/busd/internal/core"
	"github.com/busline/busd/lib/busclient"
	"github.com/busline/busd/lib/clock"
	"github.com/busline/busd/lib/codec"
	"github.com/busline/busd/lib/frame"
	"github.com/busline/busd/lib/policy"
	"github.com/busline/busd/lib/registry"
)

// errHelloTwice and errNoHandle are the two session-local usage errors
// that never reach internal/core: HELLO arriving twice on a socket
// that already has a handle, and any connection-scoped command
// arriving before HELLO has established one.
var (
	errHelloTwice = &core.Error{Kind: core.KindUsage, Code: core.CodeHelloTwice, Message: "HELLO already called on this connection"}
	errNoHandle   = &core.Error{Kind: core.KindUsage, Code: core.CodeWrongHandle, Message: "HELLO must complete before this command is valid"}
)

// session handles one accepted connection on a bus endpoint socket.
// Before HELLO it speaks only the CBOR control protocol; afterwards it
// owns a *core.Connection and relays SEND/RECV/FREE as raw frame bytes
// while still servicing ADD_MATCH/REMOVE_MATCH/NAME_* control commands
// on the same socket, distinguished by busclient's leading tag byte.
type session struct {
	conn     net.Conn
	bus      *core.Bus
	endpoint *core.Endpoint
	handle   *core.Connection
	logger   *slog.Logger
	memfds   *memfdRegistry

	// writeMu serializes writes to conn: the command loop (acks,
	// responses) and the pumpRecv goroutine (frame-tagged deliveries)
	// both write to the same socket once HELLO completes.
	writeMu sync.Mutex

	// recvErrs receives the error that ends the background pump that
	// relays core.Connection.Recv into frame-tagged socket writes.
	// Nothing reads it; the command-reading loop does not stop when the
	// pump does.
	recvErrs chan error
}

func newSession(conn net.Conn, bus *core.Bus, endpoint *core.Endpoint, memfds *memfdRegistry, logger *slog.Logger) *session {
	return &session{
		conn:     conn,
		bus:      bus,
		endpoint: endpoint,
		memfds:   memfds,
		logger:   logger,
		recvErrs: make(chan error, 1),
	}
}

func (s *session) run() {
	defer s.conn.Close()
	defer func() {
		if s.handle != nil {
			s.handle.Bye()
		}
	}()

	for {
		tag := make([]byte, 1)
		if _, err := io.ReadFull(s.conn, tag); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("session read error", "error", err)
			}
			return
		}

		switch tag[0] {
		case busclient.CommandTag:
			if !s.handleCommand() {
				return
			}
		case busclient.FrameTag:
			if !s.handleFrame() {
				return
			}
		default:
			s.logger.Warn("unknown stream tag", "tag", tag[0])
			return
		}
	}
}

// readUnitBody reads the u32 big-endian length prefix and that many
// bytes of body following a tag byte already consumed by the caller.
func readUnitBody(conn net.Conn) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf))
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// writeUnit writes one tagged, length-prefixed unit under writeMu,
// since pumpRecv and the command loop both write to s.conn.
func (s *session) writeUnit(tag byte, body []byte) error {
	buf := make([]byte, 1+4+len(body))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(body)))
	copy(buf[5:], body)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(buf)
	return err
}

func (s *session) writeResponse(resp busclient.Response) error {
	body, err := codec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return s.writeUnit(busclient.CommandTag, body)
}

func (s *session) handleCommand() bool {
	body, err := readUnitBody(s.conn)
	if err != nil {
		s.logger.Debug("reading request", "error", err)
		return false
	}
	var req busclient.Request
	if err := codec.Unmarshal(body, &req); err != nil {
		s.logger.Debug("decoding request", "error", err)
		return false
	}

	resp := s.dispatch(req)
	if err := s.writeResponse(resp); err != nil {
		s.logger.Debug("writing response", "error", err)
		return false
	}
	return true
}

// handleFrame reads one length-prefixed lib/frame message and hands it
// to the connection's Send. Every SEND gets an explicit command-tagged
// ack, success or failure: busclient.Client.Send blocks waiting for
// one, since a raw frame delivery has no other channel to report a
// unicast failure (NO_DEST, POLICY_DENIED, POOL_FULL) back to the caller.
func (s *session) handleFrame() bool {
	if s.handle == nil {
		s.logger.Warn("frame-tagged unit before HELLO")
		return false
	}

	body, err := readUnitBody(s.conn)
	if err != nil {
		s.logger.Debug("reading frame", "error", err)
		return false
	}
	header, records, err := frame.DecodeMessage(body)
	if err != nil {
		s.logger.Debug("decoding message", "error", err)
		return false
	}

	sendErr := s.handle.Send(header, records)
	if sendErr != nil {
		s.logger.Debug("send", "error", sendErr)
	}
	if err := s.writeResponse(errorResponse(sendErr)); err != nil {
		s.logger.Debug("writing send ack", "error", err)
		return false
	}
	return true
}

// pumpRecv relays every message delivered to the handle's mailbox onto
// the socket as a frame-tagged unit, for as long as the handle stays
// active. Runs in its own goroutine once HELLO completes, since the
// command loop's single reader cannot also block on Recv.
func (s *session) pumpRecv() {
	for {
		_, header, records, err := s.handle.Recv()
		if err != nil {
			s.recvErrs <- err
			return
		}
		if writeErr := s.writeUnit(busclient.FrameTag, frame.EncodeMessage(header, records)); writeErr != nil {
			s.recvErrs <- writeErr
			return
		}
	}
}

func (s *session) dispatch(req busclient.Request) busclient.Response {
	switch req.Command {
	case busclient.CmdMakeBus:
		return s.cmdMakeBus(req)
	case busclient.CmdMakeDomain:
		return s.cmdMakeDomain(req)
	case busclient.CmdEndpointMake:
		return s.cmdEndpointMake(req)
	case busclient.CmdEndpointPolicy:
		return s.cmdEndpointPolicy(req)
	case busclient.CmdHello:
		return s.cmdHello(req)
	case busclient.CmdAddMatch:
		return s.cmdAddMatch(req)
	case busclient.CmdRemoveMatch:
		return s.cmdRemoveMatch(req)
	case busclient.CmdNameAcquire:
		return s.cmdNameAcquire(req)
	case busclient.CmdNameRelease:
		return s.cmdNameRelease(req)
	case busclient.CmdNameList:
		return s.cmdNameList(req)
	case busclient.CmdFree:
		return s.cmdFree(req)
	case busclient.CmdMemfdNew:
		return s.cmdMemfdNew(req)
	case busclient.CmdMemfdSeal:
		return s.cmdMemfdSeal(req)
	case busclient.CmdMemfdUnseal:
		return s.cmdMemfdUnseal(req)
	case busclient.CmdStats:
		return s.cmdStats(req)
	default:
		return busclient.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *session) cmdMakeBus(req busclient.Request) busclient.Response {
	_, err := s.bus.Domain().MakeBus(req.BusName, req.Flags, req.Mode, req.UID, req.GID)
	if err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

func (s *session) cmdMakeDomain(req busclient.Request) busclient.Response {
	_, err := s.bus.Domain().MakeDomain(req.DomainName)
	if err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

func (s *session) cmdEndpointMake(req busclient.Request) busclient.Response {
	_, err := s.bus.MakeEndpoint(req.EndpointName, req.Mode, req.UID, req.GID, nil)
	if err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

func (s *session) cmdEndpointPolicy(req busclient.Request) busclient.Response {
	endpoint := s.endpoint
	if req.EndpointName != "" {
		var err error
		endpoint, err = s.bus.Endpoint(req.EndpointName)
		if err != nil {
			return errorResponse(err)
		}
	}
	overlay, err := policyFromWire(req.PolicyRules)
	if err != nil {
		return errorResponse(err)
	}
	endpoint.SetPolicy(overlay)
	return busclient.Response{OK: true}
}

// policyFromWire rebuilds a policy.Policy from the wire representation
// busctl sends. Endpoint overlays only narrow the bus policy, but that
// rule is enforced by policy.Overlay at check time, not here — an
// EP_POLICY_SET with Allow rules is accepted and simply has no effect.
func policyFromWire(rules []busclient.PolicyRuleWire) (*policy.Policy, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	out := &policy.Policy{Rules: make([]policy.Rule, 0, len(rules))}
	for _, wire := range rules {
		subjectKind, err := subjectKindFromWire(wire.SubjectKind)
		if err != nil {
			return nil, err
		}
		verb, err := verbFromWire(wire.Verb)
		if err != nil {
			return nil, err
		}
		decision, err := decisionFromWire(wire.Decision)
		if err != nil {
			return nil, err
		}
		out.Rules = append(out.Rules, policy.Rule{
			Subject:  policy.Subject{Kind: subjectKind, ID: wire.SubjectID},
			Verb:     verb,
			Object:   wire.Object,
			Decision: decision,
		})
	}
	return out, nil
}

func subjectKindFromWire(s string) (policy.SubjectKind, error) {
	switch s {
	case "world", "":
		return policy.SubjectWorld, nil
	case "uid":
		return policy.SubjectUID, nil
	case "gid":
		return policy.SubjectGID, nil
	default:
		return 0, &core.Error{Kind: core.KindUsage, Code: core.CodeBadRecord, Message: fmt.Sprintf("unknown policy subject kind %q", s)}
	}
}

func verbFromWire(s string) (policy.Verb, error) {
	switch s {
	case "own":
		return policy.Own, nil
	case "talk_to":
		return policy.TalkTo, nil
	case "see":
		return policy.See, nil
	default:
		return 0, &core.Error{Kind: core.KindUsage, Code: core.CodeBadRecord, Message: fmt.Sprintf("unknown policy verb %q", s)}
	}
}

func decisionFromWire(s string) (policy.Decision, error) {
	switch s {
	case "allow":
		return policy.Allow, nil
	case "deny", "":
		return policy.Deny, nil
	default:
		return 0, &core.Error{Kind: core.KindUsage, Code: core.CodeBadRecord, Message: fmt.Sprintf("unknown policy decision %q", s)}
	}
}

func (s *session) cmdHello(req busclient.Request) busclient.Response {
	if s.handle != nil {
		return errorResponse(errHelloTwice)
	}

	credentials, err := peerCredentials(s.conn)
	if err != nil {
		return errorResponse(err)
	}
	actor := policy.Actor{UID: credentials.UID, GID: credentials.GID}

	endpoint := s.endpoint
	if req.EndpointName != "" && req.EndpointName != endpoint.Name() {
		endpoint, err = s.bus.Endpoint(req.EndpointName)
		if err != nil {
			return errorResponse(err)
		}
	}

	unconn, err := endpoint.Open(actor, credentials)
	if err != nil {
		return errorResponse(err)
	}
	handle, err := unconn.Hello(req.PoolSize, frame.AttachMask(req.AttachMask), clock.Real())
	if err != nil {
		return errorResponse(err)
	}
	s.handle = handle
	go s.pumpRecv()
	return busclient.Response{OK: true, ConnectionID: handle.ID()}
}

func (s *session) cmdAddMatch(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	cookie, err := s.handle.AddMatch(req.Generation, req.Bits, req.SenderFilter)
	if err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true, Cookie: cookie}
}

func (s *session) cmdRemoveMatch(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	if err := s.handle.RemoveMatch(req.Cookie); err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

func (s *session) cmdNameAcquire(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	outcome, err := s.handle.RequestName(req.Name, registry.Flags(req.NameFlags))
	if err != nil {
		return errorResponse(err)
	}
	label := "primary"
	if outcome == registry.Queued {
		label = "queued"
	}
	return busclient.Response{OK: true, Outcome: label}
}

func (s *session) cmdNameRelease(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	if err := s.handle.ReleaseName(req.Name); err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

func (s *session) cmdNameList(req busclient.Request) busclient.Response {
	var filter func(string) bool
	if req.ListFilter != "" {
		filter = func(name string) bool { return matchGlob(req.ListFilter, name) }
	}
	return busclient.Response{OK: true, Names: s.bus.Names().List(filter)}
}

func (s *session) cmdFree(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	if err := s.handle.Free(req.Cookie); err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

func (s *session) cmdStats(req busclient.Request) busclient.Response {
	summaries := s.bus.Snapshot()
	out := make([]busclient.ConnectionStatus, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, busclient.ConnectionStatus{
			ID:          sum.ID,
			Endpoint:    sum.Endpoint,
			UID:         sum.UID,
			GID:         sum.GID,
			PID:         sum.PID,
			OwnedNames:  sum.OwnedNames,
			MailboxSize: sum.MailboxSize,
			PoolUsed:    sum.PoolUsed,
			PoolCap:     sum.PoolCap,
			Lossy:       sum.Lossy,
			Generations: sum.Generations,
		})
	}
	return busclient.Response{OK: true, Connections: out}
}

func (s *session) cmdMemfdNew(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	objectID, err := s.memfds.New(req.Size)
	if err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true, ObjectID: objectID, Size: req.Size}
}

func (s *session) cmdMemfdSeal(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	if err := s.memfds.Seal(req.ObjectID); err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

func (s *session) cmdMemfdUnseal(req busclient.Request) busclient.Response {
	if s.handle == nil {
		return errorResponse(errNoHandle)
	}
	if err := s.memfds.Unseal(req.ObjectID); err != nil {
		return errorResponse(err)
	}
	return busclient.Response{OK: true}
}

// errorResponse turns a nil or non-nil error into a Response: nil
// always means OK. Used both by ordinary command handlers and by
// handleFrame's SEND ack, where a nil error is the common case.
func errorResponse(err error) busclient.Response {
	if err == nil {
		return busclient.Response{OK: true}
	}
	return busclient.Response{OK: false, Error: err.Error(), ErrorCode: string(codeOf(err))}
}

func codeOf(err error) core.Code {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return ""
}

// matchGlob reports whether name matches a shell-style glob pattern,
// the same matching filepath.Match gives busctl's own name listing.
func matchGlob(pattern, name string) bool {
	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}
