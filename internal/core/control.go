// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync"

	"github.com/busline/busd/lib/frame"
	"github.com/busline/busd/lib/policy"
)

// Control is a control handle bound to a domain (C11). It may be used
// exactly once to create one bus or one sub-domain; after that it is
// inert except for Close, which destroys the object it created. This
// couples an object's lifecycle to its creator's handle — there is no
// way to keep a bus or sub-domain alive without holding the Control
// that made it.
//
// The original kdbus header models this with a single struct carrying
// a runtime tag (UNDEFINED -> CONTROL -> {NS_OWNER, BUS_OWNER}); here
// the one-time transition is enforced by Go's type system instead —
// MakeBus and MakeDomain each return a distinct concrete type
// (*Bus, *Domain), and a Control that has already created one of them
// refuses a second creation rather than silently retagging itself.
type Control struct {
	mu     sync.Mutex
	domain *Domain

	createdBus    *Bus
	createdDomain *Domain
}

// OpenControl returns a fresh control handle bound to domain.
func OpenControl(domain *Domain) *Control {
	return &Control{domain: domain}
}

// MakeBus creates a new bus as a child of the bound domain. Fails with
// WRONG_HANDLE if this handle has already created an object.
func (ctl *Control) MakeBus(name string, flags uint64, mode, uid, gid uint32) (*Bus, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.createdBus != nil || ctl.createdDomain != nil {
		return nil, newError(KindUsage, CodeWrongHandle, "control handle already used to create an object")
	}
	bus, err := ctl.domain.MakeBus(name, flags, mode, uid, gid)
	if err != nil {
		return nil, err
	}
	ctl.createdBus = bus
	return bus, nil
}

// MakeDomain creates a new sub-domain as a child of the bound domain.
// Fails with WRONG_HANDLE if this handle has already created an
// object.
func (ctl *Control) MakeDomain(name string) (*Domain, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.createdBus != nil || ctl.createdDomain != nil {
		return nil, newError(KindUsage, CodeWrongHandle, "control handle already used to create an object")
	}
	child, err := ctl.domain.MakeDomain(name)
	if err != nil {
		return nil, err
	}
	ctl.createdDomain = child
	return child, nil
}

// Close destroys whatever object this handle created, cascading to
// every descendant (spec.md §8 invariant 7: closing a control handle
// destroys exactly the object it created and nothing else). Closing a
// handle that created nothing is a no-op.
func (ctl *Control) Close() {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.createdBus != nil {
		ctl.createdBus.Disconnect()
	}
	if ctl.createdDomain != nil {
		ctl.createdDomain.Disconnect()
	}
}

// OpenEndpoint is the control-surface entry point for opening a
// connection against a named endpoint on a bus, returning an
// unconnected handle that only HELLO accepts (spec.md §4.11). actor
// and credentials both describe the opening process; actor drives the
// endpoint's uid/gid/mode check and credentials is what gets stamped
// on the resulting Connection.
func OpenEndpoint(bus *Bus, endpointName string, actor policy.Actor, credentials frame.Credentials) (*UnconnectedConn, error) {
	ep, err := bus.Endpoint(endpointName)
	if err != nil {
		return nil, err
	}
	return ep.Open(actor, credentials)
}
