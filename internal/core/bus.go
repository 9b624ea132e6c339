// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"log/slog"
	"sync"

	"github.com/busline/busd/lib/policy"
	"github.com/busline/busd/lib/registry"
)

// defaultEndpointName is the name every bus's built-in endpoint is
// created under.
const defaultEndpointName = "bus"

// Bus is a named exchange inside one domain (C8): it owns endpoints,
// allocates connection and message ids, and holds the per-bus name
// registry and policy.
type Bus struct {
	mu     sync.Mutex
	name   string
	domain *Domain // weak
	flags  uint64

	nextConnID uint64
	nextMsgID  uint64

	connections map[uint64]*Connection
	endpoints   map[string]*Endpoint

	names     *registry.Registry
	busPolicy *policy.Policy
	logger    *slog.Logger

	disconnected bool
}

// newBus constructs a Bus owned by domain, with its default endpoint
// already created. Connection ids on a fresh bus begin at 1. The bus
// logs through domain's logger, defaulting to slog.Default() if
// domain was built from a raw struct literal by a test.
func newBus(domain *Domain, name string, flags uint64, mode, uid, gid uint32) *Bus {
	logger := domain.logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		name:        name,
		domain:      domain,
		flags:       flags,
		nextConnID:  1,
		connections: make(map[uint64]*Connection),
		endpoints:   make(map[string]*Endpoint),
		names:       registry.New(),
		busPolicy:   defaultBusPolicy(),
		logger:      logger,
	}
	b.endpoints[defaultEndpointName] = newEndpoint(b, defaultEndpointName, mode, uid, gid, nil)
	return b
}

// defaultBusPolicy grants OWN and TALK_TO to every actor. Absent
// policy means allow, the same as kdbus: SetPolicy installs
// restrictions on top of this base, it never starts a bus out at
// deny-everything.
func defaultBusPolicy() *policy.Policy {
	return &policy.Policy{Rules: []policy.Rule{
		{Subject: policy.Subject{Kind: policy.SubjectWorld}, Verb: policy.Own, Object: "*", Decision: policy.Allow},
		{Subject: policy.Subject{Kind: policy.SubjectWorld}, Verb: policy.TalkTo, Object: "*", Decision: policy.Allow},
	}}
}

// Name returns the bus's name.
func (b *Bus) Name() string {
	return b.name
}

// Flags returns the opaque flag bits passed at bus creation.
func (b *Bus) Flags() uint64 {
	return b.flags
}

// Domain returns the owning domain.
func (b *Bus) Domain() *Domain {
	return b.domain
}

// Names returns the bus's well-known-name registry. The registry
// guards its own state independently of the bus lock.
func (b *Bus) Names() *registry.Registry {
	return b.names
}

// Policy returns the bus-level policy, consulted by every endpoint's
// EffectivePolicy as the base an endpoint overlay may only narrow.
func (b *Bus) Policy() *policy.Policy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busPolicy
}

// SetPolicy replaces the bus-level policy.
func (b *Bus) SetPolicy(p *policy.Policy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busPolicy = p
}

// DefaultEndpoint returns the bus's always-present "bus" endpoint.
func (b *Bus) DefaultEndpoint() (*Endpoint, error) {
	return b.Endpoint(defaultEndpointName)
}

// Endpoint looks up an endpoint by name.
func (b *Bus) Endpoint(name string) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disconnected {
		return nil, newError(KindState, CodeDisconnected, "bus %q is disconnected", b.name)
	}
	ep, ok := b.endpoints[name]
	if !ok {
		return nil, newError(KindLookup, CodeNoDest, "no endpoint %q on bus %q", name, b.name)
	}
	return ep, nil
}

// MakeEndpoint creates a custom endpoint with its own open mode/uid/gid
// and an optional policy overlay (nil means no narrowing beyond the
// bus policy).
func (b *Bus) MakeEndpoint(name string, mode, uid, gid uint32, overlay *policy.Policy) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disconnected {
		return nil, newError(KindState, CodeDisconnected, "bus %q is disconnected", b.name)
	}
	if _, exists := b.endpoints[name]; exists {
		return nil, newError(KindUsage, CodeBadRecord, "endpoint %q already exists on bus %q", name, b.name)
	}

	ep := newEndpoint(b, name, mode, uid, gid, overlay)
	b.endpoints[name] = ep
	return ep, nil
}

// removeEndpoint drops name from b's endpoint table. Idempotent.
func (b *Bus) removeEndpoint(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, name)
}

// allocConnID hands out the next strictly increasing connection id.
func (b *Bus) allocConnID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextConnID
	b.nextConnID++
	return id
}

// nextMessageID hands out the next strictly increasing message id,
// used for internal ordering bookkeeping (the wire header carries no
// message-id field of its own — see spec.md §6).
func (b *Bus) nextMessageID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextMsgID
	b.nextMsgID++
	return id
}

func (b *Bus) registerConnection(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[c.id] = c
}

func (b *Bus) unregisterConnection(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, id)
}

// Connection looks up a live connection by id.
func (b *Bus) Connection(id uint64) (*Connection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.connections[id]
	return c, ok
}

// snapshotConnections takes the bus lock just long enough to copy out
// every live connection, per spec.md §5's fan-out discipline: the
// lock is released before any recipient's own lock is engaged.
func (b *Bus) snapshotConnections() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Connection, 0, len(b.connections))
	for _, c := range b.connections {
		out = append(out, c)
	}
	return out
}

func (b *Bus) snapshotEndpoints() []*Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		out = append(out, ep)
	}
	return out
}

// ConnectionSummary is a point-in-time snapshot of one connection's
// externally visible state, for introspection tools like bus-viewer.
type ConnectionSummary struct {
	ID          uint64
	Endpoint    string
	UID         uint32
	GID         uint32
	PID         uint32
	OwnedNames  []string
	MailboxSize int
	PoolUsed    uint64
	PoolCap     uint64
	Lossy       bool
	Generations []uint64
}

// Snapshot returns a summary of every live connection on the bus. Each
// connection's own lock is taken independently after the bus lock is
// released, following the fan-out discipline in doc.go.
func (b *Bus) Snapshot() []ConnectionSummary {
	conns := b.snapshotConnections()
	out := make([]ConnectionSummary, 0, len(conns))
	for _, c := range conns {
		creds := c.Credentials()
		out = append(out, ConnectionSummary{
			ID:          c.ID(),
			Endpoint:    c.Endpoint().Name(),
			UID:         creds.UID,
			GID:         creds.GID,
			PID:         creds.PID,
			OwnedNames:  c.OwnedNames(),
			MailboxSize: c.MailboxDepth(),
			PoolUsed:    c.Pool().Used(),
			PoolCap:     c.Pool().Capacity(),
			Lossy:       c.Pool().Lossy(),
			Generations: c.MatchGenerations(),
		})
	}
	return out
}

// notifyTransfer emits the synthetic name-lost/name-acquired messages
// spec.md §4.4 requires whenever the registry reassigns a name's
// ownership, whether by explicit release, replacement, or the owner's
// disconnect.
func (b *Bus) notifyTransfer(t registry.Transfer) {
	if t.HadOldOwner {
		if conn, ok := b.Connection(t.OldOwner); ok {
			conn.deliverSynthetic(synthNameLost, t.Name)
		}
	}
	if t.HasNewOwner {
		if conn, ok := b.Connection(t.NewOwner); ok {
			conn.deliverSynthetic(synthNameAcquired, t.Name)
		}
	}
}

// Disconnected reports whether the bus has been torn down.
func (b *Bus) Disconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

// Disconnect tears the bus down: every endpoint (and transitively
// every connection opened through it) is terminated, waking any
// blocked receivers. Disconnecting an already-disconnected bus is a
// no-op.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return
	}
	b.disconnected = true
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	b.mu.Unlock()

	for _, ep := range eps {
		ep.Disconnect()
	}

	if b.domain != nil {
		b.domain.removeBus(b.name)
	}
}
