// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package sealedmem

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

func TestWriteSealUnsealRoundTrip(t *testing.T) {
	object, err := New(64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer object.Unref()

	payload := []byte("hello, sealed world")
	if err := object.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := object.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	view, err := object.MapReadOnly()
	if err != nil {
		t.Fatalf("MapReadOnly: %v", err)
	}
	if !bytes.Equal(view[:len(payload)], payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", view[:len(payload)], payload)
	}

	if err := object.Unseal(); err != nil {
		t.Fatalf("Unseal on single-ref object: %v", err)
	}
}

func TestWriteOnSealedFails(t *testing.T) {
	object, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer object.Unref()

	if err := object.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := object.Write(0, []byte("x")); err != ErrWriteOnSealed {
		t.Fatalf("Write on sealed object: got %v, want ErrWriteOnSealed", err)
	}
}

func TestUnsealSharedFails(t *testing.T) {
	object, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer object.Unref()
	defer object.Unref()

	if err := object.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	object.Ref() // second reference: now shared

	if err := object.Unseal(); err != ErrUnsealShared {
		t.Fatalf("Unseal on shared object: got %v, want ErrUnsealShared", err)
	}
}

func TestRefCounting(t *testing.T) {
	object, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := object.RefCount(); got != 1 {
		t.Fatalf("initial RefCount: got %d, want 1", got)
	}
	object.Ref()
	if got := object.RefCount(); got != 2 {
		t.Fatalf("RefCount after Ref: got %d, want 2", got)
	}
	if remaining := object.Unref(); remaining != 1 {
		t.Fatalf("Unref: got %d remaining, want 1", remaining)
	}
	if remaining := object.Unref(); remaining != 0 {
		t.Fatalf("final Unref: got %d remaining, want 0", remaining)
	}
}

func TestDigestStableAfterSeal(t *testing.T) {
	object, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer object.Unref()

	if err := object.Write(0, []byte("abcdefgh")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := object.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	first := object.Digest()
	second := object.Digest()
	if first != second {
		t.Fatalf("digest not stable across calls: %x != %x", first, second)
	}
}

func TestDupProducesIndependentDescriptor(t *testing.T) {
	object, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer object.Unref()

	dupFD, err := object.Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer unix.Close(dupFD)

	if dupFD == object.FD() {
		t.Fatalf("Dup returned the same fd as the original")
	}
}
