// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"github.com/busline/busd/lib/clock"
	"github.com/busline/busd/lib/frame"
	"github.com/busline/busd/lib/policy"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testClock() clock.Clock {
	return clock.Fake(testEpoch)
}

func testActor(uid, gid uint32) policy.Actor {
	return policy.Actor{UID: uid, GID: gid}
}

func testCredentials(uid, gid uint32) frame.Credentials {
	return frame.Credentials{UID: uid, GID: gid, PID: 1}
}

// openHello is a small helper that opens the bus's default endpoint
// for the given actor/credentials and completes HELLO in one step,
// for tests that don't care about the unconnected intermediate state
// or about metadata attachment. Its attach mask is empty so that
// message assertions can count records without accounting for a
// stamped metadata record; tests that exercise attachment use
// openHelloAttach instead.
func openHello(t testingT, bus *Bus, poolSize uint64) *Connection {
	t.Helper()
	return openHelloAttach(t, bus, poolSize, 0)
}

// openHelloAttach is openHello with an explicit attach mask, for
// tests that exercise metadata stamping.
func openHelloAttach(t testingT, bus *Bus, poolSize uint64, attachMask frame.AttachMask) *Connection {
	t.Helper()
	ep, err := bus.DefaultEndpoint()
	if err != nil {
		t.Fatalf("DefaultEndpoint: %v", err)
	}
	unconn, err := ep.Open(testActor(0, 0), testCredentials(0, 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	conn, err := unconn.Hello(poolSize, attachMask, testClock())
	if err != nil {
		t.Fatalf("Hello: %v", err)
	}
	return conn
}

// testingT is the subset of *testing.T this helper package needs,
// so it can be shared without importing "testing" into non-test code.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}
