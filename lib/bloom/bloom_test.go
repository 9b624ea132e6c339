// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package bloom

import "testing"

func TestMatchBasic(t *testing.T) {
	mask := NewMask()
	subscribed := NewFilter(1, 64)
	subscribed.SetBit(3)
	if err := mask.Install(subscribed); err != nil {
		t.Fatalf("Install: %v", err)
	}

	filter := NewFilter(1, 64)
	filter.SetBit(3)
	if !mask.Match(filter, 0) {
		t.Fatalf("expected match on bit 3")
	}

	other := NewFilter(1, 64)
	other.SetBit(5)
	if mask.Match(other, 0) {
		t.Fatalf("expected no match on bit 5")
	}
}

func TestMonotoneGenerationsRecognizedAgainstHigherFilter(t *testing.T) {
	mask := NewMask()
	gen1 := NewFilter(1, 64)
	gen1.SetBit(3)
	if err := mask.Install(gen1); err != nil {
		t.Fatalf("Install gen1: %v", err)
	}

	// Generation 2 is a strict superset of generation 1's elements.
	gen2 := NewFilter(2, 64)
	gen2.SetBit(3)
	gen2.SetBit(9)
	if err := mask.Install(gen2); err != nil {
		t.Fatalf("Install gen2: %v", err)
	}

	// A filter stamped generation 2 carrying only bit 3 still matches
	// against the installed generation-2 mask.
	incoming := NewFilter(2, 64)
	incoming.SetBit(3)
	if !mask.Match(incoming, 0) {
		t.Fatalf("expected match against nearest-generation mask")
	}
}

func TestNearestGenerationSelection(t *testing.T) {
	mask := NewMask()
	gen1 := NewFilter(1, 64)
	gen1.SetBit(3)
	if err := mask.Install(gen1); err != nil {
		t.Fatalf("Install gen1: %v", err)
	}

	// Incoming filter is newer than anything installed: the nearest
	// generation <= 5 is generation 1.
	incoming := NewFilter(5, 64)
	incoming.SetBit(3)
	if !mask.Match(incoming, 0) {
		t.Fatalf("expected match using nearest older generation mask")
	}
}

func TestOutOfOrderGenerationRejected(t *testing.T) {
	mask := NewMask()
	gen5 := NewFilter(5, 64)
	if err := mask.Install(gen5); err != nil {
		t.Fatalf("Install gen5: %v", err)
	}

	gen2 := NewFilter(2, 64)
	if err := mask.Install(gen2); err != ErrOutOfOrderGeneration {
		t.Fatalf("Install out-of-order generation: got %v, want ErrOutOfOrderGeneration", err)
	}
}

func TestNoInstalledGenerationNeverMatches(t *testing.T) {
	mask := NewMask()
	filter := NewFilter(0, 64)
	filter.SetBit(1)
	if mask.Match(filter, 0) {
		t.Fatalf("expected no match with an empty mask")
	}
}

func TestRemove(t *testing.T) {
	mask := NewMask()
	gen1 := NewFilter(1, 64)
	if err := mask.Install(gen1); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !mask.Remove(1) {
		t.Fatalf("Remove: expected true for existing generation")
	}
	if mask.Remove(1) {
		t.Fatalf("Remove: expected false for already-removed generation")
	}
	if !mask.Empty() {
		t.Fatalf("expected mask to be empty after removing its only generation")
	}
}

func TestSenderFilterScopedToItsOwnGeneration(t *testing.T) {
	mask := NewMask()

	scoped := NewFilter(1, 64)
	scoped.SetBit(3)
	senderA := uint64(7)
	scoped.SenderFilter = &senderA
	if err := mask.Install(scoped); err != nil {
		t.Fatalf("Install gen1: %v", err)
	}

	incoming := NewFilter(1, 64)
	incoming.SetBit(3)
	if mask.Match(incoming, 9) {
		t.Fatalf("expected no match from a sender other than the one the rule was scoped to")
	}
	if !mask.Match(incoming, senderA) {
		t.Fatalf("expected match from the scoped sender")
	}

	// A later, unscoped generation must not inherit gen1's sender
	// filter — it is its own independent rule.
	unscoped := NewFilter(2, 64)
	unscoped.SetBit(3)
	if err := mask.Install(unscoped); err != nil {
		t.Fatalf("Install gen2: %v", err)
	}
	incomingGen2 := NewFilter(2, 64)
	incomingGen2.SetBit(3)
	if !mask.Match(incomingGen2, 9) {
		t.Fatalf("expected gen2's unscoped rule to admit any sender")
	}

	// Removing gen1 does not disturb gen2's independent rule.
	if !mask.Remove(1) {
		t.Fatalf("Remove gen1: expected true")
	}
	if !mask.Match(incomingGen2, 9) {
		t.Fatalf("expected gen2 to still match after removing gen1")
	}
}
