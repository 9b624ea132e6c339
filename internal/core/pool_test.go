// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "testing"

func TestPoolReserveCommitFree(t *testing.T) {
	p := NewPool(1024)

	offset, err := p.Reserve(100)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if offset != 0 {
		t.Fatalf("Reserve offset: got %d, want 0", offset)
	}
	if err := p.Commit(offset, 100); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := p.Used(); got != 100 {
		t.Fatalf("Used: got %d, want 100", got)
	}
	if err := p.Free(offset); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if got := p.Used(); got != 0 {
		t.Fatalf("Used after Free: got %d, want 0", got)
	}
}

func TestPoolFullScenario(t *testing.T) {
	// Pool-level form of S4: a 4 KiB pool, eight 512-byte messages without the
	// receiver consuming; the ninth Reserve fails, then freeing
	// one lets a retry succeed.
	p := NewPool(4096)

	var offsets []uint64
	for i := 0; i < 8; i++ {
		offset, err := p.Reserve(512)
		if err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
		offsets = append(offsets, offset)
	}
	if got := p.Used(); got != 4096 {
		t.Fatalf("Used: got %d, want 4096", got)
	}

	if _, err := p.Reserve(512); !IsCode(err, CodePoolFull) {
		t.Fatalf("Reserve on full pool: got %v, want POOL_FULL", err)
	}

	if err := p.Free(offsets[0]); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := p.Reserve(512); err != nil {
		t.Fatalf("Reserve after Free: %v", err)
	}
}

func TestPoolReserveLargerThanCapacityFails(t *testing.T) {
	p := NewPool(100)
	if _, err := p.Reserve(200); !IsCode(err, CodePoolFull) {
		t.Fatalf("Reserve: got %v, want POOL_FULL", err)
	}
}

func TestPoolReclaimsWhenFullyDrained(t *testing.T) {
	p := NewPool(100)

	a, err := p.Reserve(60)
	if err != nil {
		t.Fatalf("Reserve a: %v", err)
	}
	b, err := p.Reserve(40)
	if err != nil {
		t.Fatalf("Reserve b: %v", err)
	}

	if err := p.Free(a); err != nil {
		t.Fatalf("Free a: %v", err)
	}
	if err := p.Free(b); err != nil {
		t.Fatalf("Free b: %v", err)
	}
	if got := p.Used(); got != 0 {
		t.Fatalf("Used after full drain: got %d, want 0", got)
	}

	// Fully drained, so the full capacity is available again even
	// though the offset cursor has already run past it.
	if _, err := p.Reserve(100); err != nil {
		t.Fatalf("Reserve after drain: %v", err)
	}
}

func TestPoolFreeOrderDoesNotMatter(t *testing.T) {
	p := NewPool(100)

	a, err := p.Reserve(50)
	if err != nil {
		t.Fatalf("Reserve a: %v", err)
	}
	b, err := p.Reserve(50)
	if err != nil {
		t.Fatalf("Reserve b: %v", err)
	}

	// Freeing the later reservation first still returns its capacity
	// immediately — Pool tracks outstanding bytes, not physical
	// address order.
	if err := p.Free(b); err != nil {
		t.Fatalf("Free b: %v", err)
	}
	if _, err := p.Reserve(50); err != nil {
		t.Fatalf("Reserve after freeing b: %v", err)
	}

	if err := p.Free(a); err != nil {
		t.Fatalf("Free a: %v", err)
	}
	if got := p.Used(); got != 50 {
		t.Fatalf("Used after freeing a: got %d, want 50", got)
	}
}

func TestPoolCommitRejectsUnknownOffset(t *testing.T) {
	p := NewPool(100)
	if err := p.Commit(42, 10); !IsCode(err, CodeBadRecord) {
		t.Fatalf("Commit: got %v, want BAD_RECORD", err)
	}
}

func TestPoolLossyFlag(t *testing.T) {
	p := NewPool(100)
	if p.Lossy() {
		t.Fatalf("expected fresh pool to not be lossy")
	}
	p.MarkLossy()
	if !p.Lossy() {
		t.Fatalf("expected pool to be marked lossy")
	}
}
