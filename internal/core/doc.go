// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package core implements the kernel-resident object graph: domains,
// buses, endpoints, connections, the receive pool, and the message
// router that ties them together. It is the tightly coupled half of
// the bus — the self-contained engines it builds on (bloom masks, the
// name registry, the policy engine, sealed memory objects) live under
// lib/ and know nothing of this package.
//
// Lock order, top-down: Domain -> Bus -> Endpoint -> Connection ->
// (Pool | registry.Registry). A function that must hold more than one
// of these locks acquires them in this order and never the reverse.
// Fan-out (broadcast, domain/bus/endpoint cascade) takes the owning
// lock only long enough to snapshot the children it must visit, then
// releases it before engaging any child lock — no lock is held across
// a copy into a receiver's pool or across a wakeup.
//
// Upward references (connection -> endpoint -> bus -> domain) are
// weak: they are plain pointers guarded by a disconnected flag on the
// target, checked under the target's own lock before use. Downward
// references (domain -> bus -> endpoint -> connection) are owning.
package core
