// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"strings"
	"sync"
)

// Flags control how Acquire resolves a name that already has an owner.
type Flags uint8

const (
	// ReplaceExisting requests that, if the current owner allowed
	// replacement, the caller boot them into the queue and take
	// primacy. If the current owner did not set AllowReplacement on
	// its own acquisition, the request fails.
	ReplaceExisting Flags = 1 << iota

	// AllowReplacement marks this acquisition as one a later
	// ReplaceExisting request is permitted to displace.
	AllowReplacement

	// Queue requests enqueueing behind the current owner instead of
	// failing outright, when the name is already taken.
	Queue
)

// ErrNameTaken is returned by Acquire when the name is owned by another
// connection and neither ReplaceExisting (with permission) nor Queue
// was requested.
var ErrNameTaken = errors.New("registry: name already owned")

// ErrReplacementNotAllowed is returned by Acquire when ReplaceExisting
// was requested but the current owner did not set AllowReplacement.
var ErrReplacementNotAllowed = errors.New("registry: current owner does not allow replacement")

// ErrNotOwner is returned by Release when the caller does not own the
// name it is trying to release.
var ErrNotOwner = errors.New("registry: caller does not own this name")

// pendingOwner is one entry in a name's wait queue.
type pendingOwner struct {
	connID uint64
	flags  Flags
}

// entry is the registry's bookkeeping for a single name.
type entry struct {
	owner uint64
	flags Flags
	queue []pendingOwner
}

// Outcome describes the effect of a successful Acquire.
type Outcome int

const (
	// BecamePrimary means the caller is now the name's primary owner.
	BecamePrimary Outcome = iota
	// Queued means the caller was enqueued behind the current owner.
	Queued
)

// Transfer describes a name changing owners, used to drive the
// synthetic kernel notifications spec.md §4.4 requires on release,
// replacement, or owner disconnect.
type Transfer struct {
	Name     string
	OldOwner uint64
	// HadOldOwner distinguishes "a connection used to own this name"
	// from "this name had no owner" (OldOwner would otherwise be
	// indistinguishable from connection id 0, which spec.md reserves
	// for kernel-sourced messages and is never a real connection id).
	HadOldOwner bool
	NewOwner    uint64
	HasNewOwner bool
}

// Registry is the per-bus well-known-name table.
type Registry struct {
	mu        sync.RWMutex
	names     map[string]*entry
	wildcards map[string]*entry // pattern -> entry, pattern ends in ".*"
}

// New creates an empty name registry.
func New() *Registry {
	return &Registry{
		names:     make(map[string]*entry),
		wildcards: make(map[string]*entry),
	}
}

func isWildcard(name string) bool {
	return strings.HasSuffix(name, ".*")
}

func (r *Registry) table(name string) map[string]*entry {
	if isWildcard(name) {
		return r.wildcards
	}
	return r.names
}

// Acquire attempts to take ownership of name for connID. See Flags for
// the behavior when the name is already owned.
func (r *Registry) Acquire(name string, connID uint64, flags Flags) (Outcome, *Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.table(name)
	current, exists := table[name]
	if !exists {
		table[name] = &entry{owner: connID, flags: flags}
		return BecamePrimary, nil, nil
	}

	if current.owner == connID {
		current.flags = flags
		return BecamePrimary, nil, nil
	}

	if flags&ReplaceExisting != 0 {
		if current.flags&AllowReplacement == 0 {
			return 0, nil, ErrReplacementNotAllowed
		}
		oldOwner := current.owner
		bootedQueue := append([]pendingOwner{{connID: oldOwner, flags: current.flags}}, current.queue...)
		table[name] = &entry{owner: connID, flags: flags, queue: bootedQueue}
		return BecamePrimary, &Transfer{Name: name, OldOwner: oldOwner, HadOldOwner: true, NewOwner: connID, HasNewOwner: true}, nil
	}

	if flags&Queue != 0 {
		current.queue = append(current.queue, pendingOwner{connID: connID, flags: flags})
		return Queued, nil, nil
	}

	return 0, nil, ErrNameTaken
}

// Release gives up ownership of name held by connID. If a queue exists,
// the head is promoted to primary owner and the returned Transfer
// describes the promotion so the caller can emit synthetic
// name-acquired/name-lost notifications.
func (r *Registry) Release(name string, connID uint64) (*Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(name, connID)
}

func (r *Registry) releaseLocked(name string, connID uint64) (*Transfer, error) {
	table := r.table(name)
	current, exists := table[name]
	if !exists || current.owner != connID {
		return nil, ErrNotOwner
	}

	if len(current.queue) == 0 {
		delete(table, name)
		return &Transfer{Name: name, OldOwner: connID, HadOldOwner: true}, nil
	}

	next := current.queue[0]
	table[name] = &entry{owner: next.connID, flags: next.flags, queue: current.queue[1:]}
	return &Transfer{Name: name, OldOwner: connID, HadOldOwner: true, NewOwner: next.connID, HasNewOwner: true}, nil
}

// Lookup resolves an exact name to its current primary owner.
func (r *Registry) Lookup(name string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	current, ok := r.names[name]
	if !ok {
		return 0, false
	}
	return current.owner, true
}

// LookupWildcard resolves name against installed wildcard entries by
// stripping its trailing label and comparing against each pattern's
// prefix: a lookup of "a.b.c" matches a registered "a.b.*" entry.
// Exact entries are preferred if both exist for the same effective
// match; LookupWildcard only consults wildcard entries, so callers
// that want "exact, falling back to wildcard" should try Lookup first.
func (r *Registry) LookupWildcard(name string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lastDot := strings.LastIndex(name, ".")
	if lastDot < 0 {
		return 0, false
	}
	pattern := name[:lastDot] + ".*"
	current, ok := r.wildcards[pattern]
	if !ok {
		return 0, false
	}
	return current.owner, true
}

// OnConnectionGone releases every name owned or queued by connID
// (typically called when that connection disconnects), promoting any
// queued waiter. Returns one Transfer per name connID owned; removing
// connID from a name's wait queue produces no Transfer.
func (r *Registry) OnConnectionGone(connID uint64) []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var transfers []Transfer
	for _, table := range []map[string]*entry{r.names, r.wildcards} {
		for name, current := range table {
			if current.owner == connID {
				transfer, err := r.releaseLocked(name, connID)
				if err == nil {
					transfers = append(transfers, *transfer)
				}
				continue
			}
			filtered := current.queue[:0:0]
			for _, pending := range current.queue {
				if pending.connID != connID {
					filtered = append(filtered, pending)
				}
			}
			current.queue = filtered
		}
	}
	return transfers
}

// List returns every name currently recorded (owned or wildcard
// registered) for which filter returns true. A nil filter returns all
// names.
func (r *Registry) List(filter func(name string) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, table := range []map[string]*entry{r.names, r.wildcards} {
		for name := range table {
			if filter == nil || filter(name) {
				names = append(names, name)
			}
		}
	}
	return names
}
