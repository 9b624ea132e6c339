// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"log/slog"
	"sync"
)

// Domain is a named container of buses plus sub-domains (C9): the
// isolation boundary above Bus. A connection inside a sub-domain sees
// only that sub-domain's own tree — siblings, and anything above the
// sub-domain, are unreachable from it.
type Domain struct {
	mu       sync.Mutex
	name     string
	parent   *Domain // weak; nil for the root domain
	buses    map[string]*Bus
	children map[string]*Domain
	logger   *slog.Logger

	disconnected bool
}

// NewRootDomain creates the unnamed root domain, logging through
// slog.Default(). Exactly one root domain should exist per running
// subsystem; it is never destroyed.
func NewRootDomain() *Domain {
	return NewRootDomainWithLogger(nil)
}

// NewRootDomainWithLogger creates the unnamed root domain with an
// explicit logger; nil means slog.Default(). Every bus and connection
// created underneath the domain, and any of its sub-domains, logs
// through this same logger.
func NewRootDomainWithLogger(logger *slog.Logger) *Domain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Domain{
		buses:    make(map[string]*Bus),
		children: make(map[string]*Domain),
		logger:   logger,
	}
}

// Name returns the domain's name, empty for the root domain.
func (d *Domain) Name() string {
	return d.name
}

// Parent returns the domain's parent, or nil for the root domain.
func (d *Domain) Parent() *Domain {
	return d.parent
}

// MakeBus creates a new bus named name within d, with the default
// endpoint's open mode/uid/gid and flags bits passed through opaque to
// observers. Fails if the domain is disconnected or the name is taken.
func (d *Domain) MakeBus(name string, flags uint64, mode uint32, uid, gid uint32) (*Bus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disconnected {
		return nil, newError(KindState, CodeDisconnected, "domain %q is disconnected", d.name)
	}
	if _, exists := d.buses[name]; exists {
		return nil, newError(KindUsage, CodeBadRecord, "bus %q already exists in domain %q", name, d.name)
	}

	bus := newBus(d, name, flags, mode, uid, gid)
	d.buses[name] = bus
	d.logger.Debug("bus created", "domain", d.name, "bus", name)
	return bus, nil
}

// MakeDomain creates a sub-domain named name within d.
func (d *Domain) MakeDomain(name string) (*Domain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disconnected {
		return nil, newError(KindState, CodeDisconnected, "domain %q is disconnected", d.name)
	}
	if _, exists := d.children[name]; exists {
		return nil, newError(KindUsage, CodeBadRecord, "sub-domain %q already exists in domain %q", name, d.name)
	}

	child := &Domain{
		name:     name,
		parent:   d,
		buses:    make(map[string]*Bus),
		children: make(map[string]*Domain),
		logger:   d.logger,
	}
	d.children[name] = child
	return child, nil
}

// Bus looks up a direct child bus by name.
func (d *Domain) Bus(name string) (*Bus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disconnected {
		return nil, newError(KindState, CodeDisconnected, "domain %q is disconnected", d.name)
	}
	bus, ok := d.buses[name]
	if !ok {
		return nil, newError(KindLookup, CodeNoDest, "no bus %q in domain %q", name, d.name)
	}
	return bus, nil
}

// SubDomain looks up a direct child sub-domain by name.
func (d *Domain) SubDomain(name string) (*Domain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disconnected {
		return nil, newError(KindState, CodeDisconnected, "domain %q is disconnected", d.name)
	}
	child, ok := d.children[name]
	if !ok {
		return nil, newError(KindLookup, CodeNoDest, "no sub-domain %q in domain %q", name, d.name)
	}
	return child, nil
}

// removeBus drops name from d's bus table once its owning handle has
// destroyed it. Idempotent.
func (d *Domain) removeBus(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buses, name)
}

// removeSubDomain drops name from d's sub-domain table. Idempotent.
func (d *Domain) removeSubDomain(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.children, name)
}

// Disconnected reports whether d has been torn down.
func (d *Domain) Disconnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnected
}

// Disconnect tears d down: every bus and sub-domain it owns is
// disconnected in turn, cascading arbitrarily deep. Disconnecting an
// already-disconnected domain is a no-op. The root domain is never
// disconnected in normal operation, but Disconnect does not special-
// case it — callers are responsible for not tearing down the root.
func (d *Domain) Disconnect() {
	d.mu.Lock()
	if d.disconnected {
		d.mu.Unlock()
		return
	}
	d.disconnected = true

	buses := make([]*Bus, 0, len(d.buses))
	for _, b := range d.buses {
		buses = append(buses, b)
	}
	children := make([]*Domain, 0, len(d.children))
	for _, c := range d.children {
		children = append(children, c)
	}
	d.mu.Unlock()

	for _, b := range buses {
		b.Disconnect()
	}
	for _, c := range children {
		c.Disconnect()
	}
}
