// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now or time.AfterFunc directly. Real() provides the
// standard library behavior; Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// The core only needs two things from time: a stamp for Metadata
// timestamps, and a cancelable delayed callback to drive per-connection
// reply timeouts (spec.md §4.10's "timeouts on reply-expecting sends").
// That pares the teacher's fuller Clock interface — which also offers
// tickers and Sleep for its daemon's polling loops — down to Now and
// AfterFunc; busline's control surface never polls.
//
// # Wiring pattern
//
// Add a Clock field to structs that use time:
//
//	type Connection struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production: clock.Real(). In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	conn := &Connection{clock: c}
//	// ... register a reply timeout ...
//	c.WaitForTimers(1)         // wait for it to be registered
//	c.Advance(5 * time.Second) // fire it deterministically
package clock
