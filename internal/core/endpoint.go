// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync"

	"github.com/busline/busd/lib/frame"
	"github.com/busline/busd/lib/policy"
)

// Endpoint is an access point to a bus (C7): a file-mode/uid/gid
// triple governing who may open it, plus an optional policy overlay
// connections opened through it inherit. Every bus has exactly one
// default endpoint, named "bus"; custom endpoints may carry tighter
// policy and are the only endpoints that enforce SEE rules.
type Endpoint struct {
	mu   sync.Mutex
	name string
	bus  *Bus // weak

	mode uint32
	uid  uint32
	gid  uint32

	overlay *policy.Policy // nil means no narrowing beyond the bus policy

	connections map[uint64]*Connection // weak; the bus owns the canonical table

	disconnected bool
}

func newEndpoint(bus *Bus, name string, mode, uid, gid uint32, overlay *policy.Policy) *Endpoint {
	return &Endpoint{
		name:        name,
		bus:         bus,
		mode:        mode,
		uid:         uid,
		gid:         gid,
		overlay:     overlay,
		connections: make(map[uint64]*Connection),
	}
}

// Name returns the endpoint's name.
func (e *Endpoint) Name() string {
	return e.name
}

// Bus returns the owning bus.
func (e *Endpoint) Bus() *Bus {
	return e.bus
}

// IsDefault reports whether this is a bus's built-in "bus" endpoint.
// SEE rules are enforced only by non-default endpoints — spec.md §4.5.
func (e *Endpoint) IsDefault() bool {
	return e.name == defaultEndpointName
}

// SetPolicy replaces the endpoint's policy overlay.
func (e *Endpoint) SetPolicy(overlay *policy.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overlay = overlay
}

// EffectivePolicy returns the bus policy overlaid with this endpoint's
// overlay: the endpoint may only narrow what the bus allows.
func (e *Endpoint) EffectivePolicy() *policy.Policy {
	e.mu.Lock()
	overlay := e.overlay
	e.mu.Unlock()
	return policy.Overlay(e.bus.Policy(), overlay)
}

// checkOpen enforces the endpoint's uid/gid/mode triple against the
// opening actor. If the mode has the other-read or other-write bit
// (0o006) set, anyone may open the endpoint. Otherwise an actor whose
// uid or gid matches the endpoint's may open it, whatever the owner
// and group bits say; a mode of 0 behaves the same way.
func (e *Endpoint) checkOpen(actor policy.Actor) error {
	const worldBits = 0o006
	if e.mode&worldBits != 0 {
		return nil
	}
	if actor.UID == e.uid || actor.GID == e.gid {
		return nil
	}
	return newError(KindPermission, CodePolicyDenied, "actor uid=%d gid=%d may not open endpoint %q", actor.UID, actor.GID, e.name)
}

// Open validates the opening actor against the endpoint's mode/uid/gid
// and returns an unconnected handle; the caller must still send HELLO
// to obtain an active Connection.
func (e *Endpoint) Open(actor policy.Actor, credentials frame.Credentials) (*UnconnectedConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disconnected {
		return nil, newError(KindState, CodeDisconnected, "endpoint %q is disconnected", e.name)
	}
	if err := e.checkOpen(actor); err != nil {
		return nil, err
	}
	return &UnconnectedConn{endpoint: e, credentials: credentials}, nil
}

func (e *Endpoint) addConnection(c *Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections[c.id] = c
}

func (e *Endpoint) removeConnection(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.connections, id)
}

func (e *Endpoint) snapshotConnections() []*Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Connection, 0, len(e.connections))
	for _, c := range e.connections {
		out = append(out, c)
	}
	return out
}

// Disconnected reports whether the endpoint has been torn down.
func (e *Endpoint) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnected
}

// Disconnect tears the endpoint down: every connection opened through
// it is terminated. Disconnecting an already-disconnected endpoint is
// a no-op.
func (e *Endpoint) Disconnect() {
	e.mu.Lock()
	if e.disconnected {
		e.mu.Unlock()
		return
	}
	e.disconnected = true
	conns := make([]*Connection, 0, len(e.connections))
	for _, c := range e.connections {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.terminate(CodeDisconnected)
	}

	if e.bus != nil && !e.IsDefault() {
		e.bus.removeEndpoint(e.name)
	}
}
