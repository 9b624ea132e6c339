// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/busline/busd/lib/bloom"
	"github.com/busline/busd/lib/clock"
	"github.com/busline/busd/lib/frame"
	"github.com/busline/busd/lib/policy"
	"github.com/busline/busd/lib/registry"
)

// Synthetic event tags stamped as the body of kernel-sourced messages
// (SrcID == frame.SrcKernel). These are an internal convention between
// the router/registry and Connection.Recv callers, not part of the
// wire format spec.md §6 fixes — the header/record envelope is the
// same for synthetic and sender-sourced messages alike.
const (
	synthNameLost     = "name-lost"
	synthNameAcquired = "name-acquired"
	synthPeerGone     = "peer-gone"
	synthReplyTimeout = "reply-timeout"
)

type connState int32

const (
	connActive connState = iota
	connTerminated
)

// delivery is one queued, already-materialized message sitting in a
// connection's mailbox, addressed by its pool offset.
type delivery struct {
	offset  uint64
	length  uint64
	header  frame.Header
	records []frame.Record
}

// pendingReply is the bookkeeping a requester keeps for a send that
// expects a reply within a deadline (spec.md §4.10).
type pendingReply struct {
	timer *clock.Timer
}

// UnconnectedConn is the pre-HELLO handle returned by Endpoint.Open.
// Only Hello is valid on it; per spec.md §4.6's state machine, it is
// otherwise inert.
type UnconnectedConn struct {
	mu          sync.Mutex
	endpoint    *Endpoint
	credentials frame.Credentials
	helloCalled bool
}

// Hello completes the HELLO handshake, allocating a connection id from
// the bus and a receive pool of poolSize bytes. Calling Hello twice on
// the same handle fails with HELLO_TWICE.
func (u *UnconnectedConn) Hello(poolSize uint64, attachMask frame.AttachMask, clk clock.Clock) (*Connection, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.helloCalled {
		return nil, newError(KindUsage, CodeHelloTwice, "HELLO already completed on this handle")
	}
	u.helloCalled = true

	bus := u.endpoint.bus
	id := bus.allocConnID()

	conn := &Connection{
		id:             id,
		endpoint:       u.endpoint,
		bus:            bus,
		credentials:    u.credentials,
		attachMask:     attachMask,
		pool:           NewPool(poolSize),
		notify:         make(chan struct{}, 1),
		mask:           bloom.NewMask(),
		ownedNames:     make(map[string]bool),
		pendingReplies: make(map[uint64]*pendingReply),
		state:          connActive,
		clock:          clk,
	}
	bus.registerConnection(conn)
	u.endpoint.addConnection(conn)
	return conn, nil
}

// Connection is a client's attachment to an endpoint after HELLO (C6).
type Connection struct {
	mu sync.Mutex

	id          uint64
	endpoint    *Endpoint // weak
	bus         *Bus      // weak, == endpoint.Bus()
	credentials frame.Credentials
	attachMask  frame.AttachMask

	pool    *Pool
	mailbox []*delivery
	notify  chan struct{} // capacity 1, non-blocking signal on enqueue

	mask *bloom.Mask

	ownedNames map[string]bool

	pendingReplies map[uint64]*pendingReply

	state connState
	clock clock.Clock
}

// ID returns the connection's bus-scoped id.
func (c *Connection) ID() uint64 {
	return c.id
}

// Endpoint returns the endpoint this connection was opened through.
func (c *Connection) Endpoint() *Endpoint {
	return c.endpoint
}

// Bus returns the owning bus.
func (c *Connection) Bus() *Bus {
	return c.bus
}

// Credentials returns the credential snapshot captured at HELLO time.
func (c *Connection) Credentials() frame.Credentials {
	return c.credentials
}

// Actor projects this connection's credentials into a policy.Actor.
func (c *Connection) Actor() policy.Actor {
	return policy.Actor{UID: c.credentials.UID, GID: c.credentials.GID}
}

// Pool returns the connection's receive pool.
func (c *Connection) Pool() *Pool {
	return c.pool
}

func (c *Connection) checkActiveLocked() error {
	if c.state != connActive {
		return newError(KindState, CodeDisconnected, "connection %d is not active", c.id)
	}
	return nil
}

// Send frames and routes one outbound message on this connection. The
// router stamps src_id and enforces policy; SEND never blocks — a
// destination without room fails POOL_FULL rather than buffering.
func (c *Connection) Send(header frame.Header, records []frame.Record) error {
	c.mu.Lock()
	err := c.checkActiveLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return route(c.bus, c, header, records)
}

// deliver materializes a message into this connection's pool and
// enqueues a mailbox entry for it, waking any blocked Recv. Fails
// POOL_FULL if the pool has no room.
func (c *Connection) deliver(header frame.Header, records []frame.Record) (uint64, error) {
	c.mu.Lock()
	if err := c.checkActiveLocked(); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	c.mu.Unlock()

	encoded := frame.EncodeMessage(header, records)
	n := uint64(len(encoded))

	offset, err := c.pool.Reserve(n)
	if err != nil {
		return 0, err
	}
	if err := c.pool.Commit(offset, n); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.mailbox = append(c.mailbox, &delivery{offset: offset, length: n, header: header, records: records})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return offset, nil
}

// deliverSynthetic builds and delivers a kernel-sourced notification.
// Synthetic messages bypass policy but obey pool capacity like any
// other send; if delivery fails the connection is marked lossy
// instead of raising an error to a nonexistent sender. Metadata is
// stamped the same as any other message, filtered by c's own attach
// mask — a synthetic message has no external sender to take
// credentials from, so Credentials stays unset.
func (c *Connection) deliverSynthetic(event, name string) {
	header := frame.Header{DstID: c.id, SrcID: frame.SrcKernel, PayloadType: frame.PayloadType}
	records := []frame.Record{
		{Kind: frame.KindInlineBytes, Data: []byte(event)},
		{Kind: frame.KindName, Data: frame.EncodeNameRecord(name)},
	}
	records = attachMetadata(records, c, nil, c.clock)
	if _, err := c.deliver(header, records); err != nil {
		c.pool.MarkLossy()
	}
}

// attachMetadata appends a KindMetadata record to records when dest
// has requested any metadata fields, filtered down to dest's attach
// mask. credentials is nil for kernel-sourced synthetic messages.
// records itself is never mutated in place — the returned slice may
// share dest's backing array with the caller's own copy but each call
// site consumes its result immediately, before any other destination
// reuses the same array.
func attachMetadata(records []frame.Record, dest *Connection, credentials *frame.Credentials, clk clock.Clock) []frame.Record {
	if dest.attachMask == 0 {
		return records
	}
	now := clk.Now()
	full := frame.Metadata{
		Credentials: credentials,
		MonotonicNs: now.UnixNano(),
		RealtimeNs:  now.UnixNano(),
		AuditID:     frame.NewAuditID(),
	}
	data, err := frame.EncodeMetadata(dest.attachMask.Apply(full))
	if err != nil {
		return records
	}
	return append(records, frame.Record{Kind: frame.KindMetadata, Data: data})
}

// Recv blocks until a message is available or the connection is
// terminated, returning the next mailbox entry in FIFO arrival order.
// A terminated connection still returns the entries already in its
// mailbox, then CANCELED once the mailbox is empty.
func (c *Connection) Recv() (uint64, frame.Header, []frame.Record, error) {
	for {
		c.mu.Lock()
		if c.state != connActive && len(c.mailbox) == 0 {
			c.mu.Unlock()
			return 0, frame.Header{}, nil, newError(KindInterrupt, CodeCanceled, "connection %d was closed", c.id)
		}
		if len(c.mailbox) > 0 {
			d := c.mailbox[0]
			c.mailbox = c.mailbox[1:]
			c.mu.Unlock()
			return d.offset, d.header, d.records, nil
		}
		c.mu.Unlock()
		<-c.notify
	}
}

// Free releases the pool reservation at offset after the caller has
// consumed that message.
func (c *Connection) Free(offset uint64) error {
	return c.pool.Free(offset)
}

// matchesBroadcast reports whether filter, sent by srcID, admits this
// connection under its currently installed mask. Any sender filter
// travels with the mask's selected generation, not with the
// connection as a whole — see bloom.Filter.
func (c *Connection) matchesBroadcast(filter *bloom.Filter, srcID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mask.Match(filter, srcID)
}

// AddMatch installs a (generation, bits) match rule, optionally
// restricted to a single sender id. Generations must install in
// non-decreasing order per connection; the returned cookie is the
// generation itself — the mask is already generation-keyed, so
// REMOVE_MATCH addresses rules by generation rather than a separately
// allocated cookie space. The sender filter is stored on this
// generation's own rule, so removing the rule (or superseding it with
// a later AddMatch at the same generation) clears it along with the
// rest of the rule rather than leaking into other generations.
func (c *Connection) AddMatch(generation uint64, bits []byte, senderFilter *uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActiveLocked(); err != nil {
		return 0, err
	}

	filter := &bloom.Filter{Generation: generation, Words: bitsToWords(bits)}
	if senderFilter != nil {
		id := *senderFilter
		filter.SenderFilter = &id
	}
	if err := c.mask.Install(filter); err != nil {
		return 0, newError(KindUsage, CodeBadRecord, "add match: %v", err)
	}
	return generation, nil
}

// RemoveMatch uninstalls the match rule for the given generation.
func (c *Connection) RemoveMatch(cookie uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mask.Remove(cookie) {
		return newError(KindLookup, CodeNoDest, "no match rule installed for generation %d", cookie)
	}
	return nil
}

// RequestName attempts to acquire ownership of name, subject to the
// connection's effective OWN policy.
func (c *Connection) RequestName(name string, flags registry.Flags) (registry.Outcome, error) {
	c.mu.Lock()
	activeErr := c.checkActiveLocked()
	c.mu.Unlock()
	if activeErr != nil {
		return 0, activeErr
	}

	if c.endpoint.EffectivePolicy().Check(c.Actor(), policy.Own, name) == policy.Deny {
		c.bus.logger.Debug("name request denied by policy", "bus", c.bus.name, "conn", c.id, "name", name)
		return 0, newError(KindPermission, CodePolicyDenied, "own %q denied by policy", name)
	}

	outcome, transfer, err := c.bus.names.Acquire(name, c.id, flags)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNameTaken):
			return 0, newError(KindPermission, CodePolicyDenied, "name %q already owned", name)
		case errors.Is(err, registry.ErrReplacementNotAllowed):
			return 0, newError(KindPermission, CodePolicyDenied, "current owner of %q does not allow replacement", name)
		default:
			return 0, newError(KindUsage, CodeBadRecord, "acquire %q: %v", name, err)
		}
	}

	if outcome == registry.BecamePrimary {
		c.mu.Lock()
		c.ownedNames[name] = true
		c.mu.Unlock()
	}
	if transfer != nil {
		c.bus.notifyTransfer(*transfer)
	}
	return outcome, nil
}

// ReleaseName gives up ownership of name, promoting any queued waiter.
func (c *Connection) ReleaseName(name string) error {
	transfer, err := c.bus.names.Release(name, c.id)
	if err != nil {
		return newError(KindUsage, CodeBadRecord, "release %q: %v", name, err)
	}

	c.mu.Lock()
	delete(c.ownedNames, name)
	c.mu.Unlock()

	if transfer != nil {
		c.bus.notifyTransfer(*transfer)
	}
	return nil
}

// OwnedNames returns a snapshot of the names currently owned by c.
func (c *Connection) OwnedNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ownedNames))
	for name := range c.ownedNames {
		out = append(out, name)
	}
	return out
}

// List returns every registered name on the bus for which filter
// returns true (a nil filter returns all names).
func (c *Connection) List(filter func(string) bool) []string {
	return c.bus.names.List(filter)
}

// MailboxDepth returns the number of deliveries currently queued and
// unread, for introspection tools.
func (c *Connection) MailboxDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mailbox)
}

// MatchGenerations returns the ascending list of broadcast match
// generations currently installed on c, for introspection tools.
func (c *Connection) MatchGenerations() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mask.Generations()
}

// registerPendingReply arms a reply-timeout timer for cookie if
// timeoutNs is positive. When the timer fires without a matching reply
// having arrived, a synthetic timeout message is delivered to c.
func (c *Connection) registerPendingReply(cookie uint64, timeoutNs uint64) {
	if timeoutNs == 0 {
		return
	}
	c.mu.Lock()
	if err := c.checkActiveLocked(); err != nil {
		c.mu.Unlock()
		return
	}
	pr := &pendingReply{}
	pr.timer = c.clock.AfterFunc(time.Duration(timeoutNs), func() {
		c.mu.Lock()
		_, stillPending := c.pendingReplies[cookie]
		delete(c.pendingReplies, cookie)
		c.mu.Unlock()
		if stillPending {
			c.deliverSynthetic(synthReplyTimeout, "")
		}
	})
	c.pendingReplies[cookie] = pr
	c.mu.Unlock()
}

// resolvePendingReply reports whether c has a pending request matching
// cookie and, if so, cancels its timeout timer and clears it. A reply
// that does not match an outstanding request is REPLY_ORPHAN.
func (c *Connection) resolvePendingReply(cookie uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pendingReplies[cookie]
	if !ok {
		return false
	}
	pr.timer.Stop()
	delete(c.pendingReplies, cookie)
	return true
}

// Bye closes the connection: BYE per spec.md §4.6. No new deliveries
// are accepted; deliveries already in the mailbox stay readable
// through Recv, and Recv returns CANCELED once the mailbox is empty.
func (c *Connection) Bye() {
	c.terminate(CodeDisconnected)
}

// terminate transitions the connection to terminated, releases its
// names, removes it from its endpoint and bus tables, and wakes any
// blocked Recv. Idempotent.
func (c *Connection) terminate(_ Code) {
	c.mu.Lock()
	if c.state == connTerminated {
		c.mu.Unlock()
		return
	}
	c.state = connTerminated
	for _, pr := range c.pendingReplies {
		pr.timer.Stop()
	}
	c.pendingReplies = nil
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}

	transfers := c.bus.names.OnConnectionGone(c.id)
	for _, t := range transfers {
		c.bus.notifyTransfer(t)
	}

	c.bus.unregisterConnection(c.id)
	c.endpoint.removeConnection(c.id)
}

// Terminated reports whether the connection has been closed.
func (c *Connection) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connTerminated
}

func bitsToWords(bits []byte) []uint64 {
	words := make([]uint64, len(bits)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(bits[i*8 : i*8+8])
	}
	return words
}
