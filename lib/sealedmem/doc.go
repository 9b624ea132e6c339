// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealedmem implements the append-then-freeze shared byte
// container used as the zero-copy payload path for the message bus.
//
// An Object starts mutable: the owner may Write into it but no one may
// map it. Seal() is a one-way transition to a read-only, shareable
// state; once sealed, the backing bytes never change again and any
// number of connections may hold a reference to the same Object without
// copying its contents. Unseal() reverses the transition, but only when
// the Object has exactly one live reference — shared sealed memory
// cannot be mutated out from under a reader that still holds it.
//
// The backing storage is a memfd (memfd_create(2)) mapped with mmap(2),
// the same family of primitives the teacher's lib/secret package uses
// for protected credential buffers, applied here to a different end: a
// sealable, shareable region instead of a zeroed-on-close private one.
package sealedmem
