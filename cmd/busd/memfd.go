// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/busline/busd/lib/sealedmem"
)

// memfdRegistry tracks sealed-memory objects by the object id handed
// out to MEMFD_NEW callers on one bus. Object identity is scoped to
// the bus rather than to a single connection, since a KindMemfd record
// referencing an object travels to whatever connection the message is
// routed to, which must then resolve the same id against the same
// registry to map the payload.
//
// This lives in cmd/busd rather than internal/core because it is a
// transport-level bookkeeping concern, not part of the kernel object
// graph the spec describes: domains, buses, endpoints, and connections
// never need to know an object id exists.
type memfdRegistry struct {
	mu      sync.Mutex
	objects map[uint64]*sealedmem.Object
	nextID  uint64
}

func newMemfdRegistry() *memfdRegistry {
	return &memfdRegistry{objects: make(map[uint64]*sealedmem.Object)}
}

// New allocates a fresh mutable sealed-memory object and returns the
// id callers reference it by in subsequent MEMFD_SEAL/MEMFD_UNSEAL
// calls and in KindMemfd records.
func (r *memfdRegistry) New(size uint64) (uint64, error) {
	object, err := sealedmem.New(int64(size))
	if err != nil {
		return 0, fmt.Errorf("memfd registry: %w", err)
	}

	id := atomic.AddUint64(&r.nextID, 1)
	r.mu.Lock()
	r.objects[id] = object
	r.mu.Unlock()
	return id, nil
}

// Get resolves an object id, for a receiver decoding a KindMemfd
// record and mapping the payload it names.
func (r *memfdRegistry) Get(id uint64) (*sealedmem.Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	object, ok := r.objects[id]
	return object, ok
}

func (r *memfdRegistry) Seal(id uint64) error {
	object, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("memfd registry: unknown object %d", id)
	}
	return object.Seal()
}

func (r *memfdRegistry) Unseal(id uint64) error {
	object, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("memfd registry: unknown object %d", id)
	}
	return object.Unseal()
}

// Release drops the registry's reference to an object, for connection
// teardown. The underlying memfd stays alive as long as any other
// reference (another connection that received a KindMemfd record
// naming it) keeps it mapped; this only stops the registry from
// resolving the id for new lookups.
func (r *memfdRegistry) Release(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, id)
}
