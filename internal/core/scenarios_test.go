// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"testing"

	"github.com/busline/busd/lib/bloom"
	"github.com/busline/busd/lib/frame"
	"github.com/busline/busd/lib/registry"
	"github.com/busline/busd/lib/sealedmem"
)

// TestScenarioS1BasicSendRecvByID: create root bus, open two
// connections A (id=1) and B (id=2), A sends bytes "hi" to id 2, B
// recv returns a message with src=1, payload "hi".
func TestScenarioS1BasicSendRecvByID(t *testing.T) {
	bus := newTestBus(t)
	a := openHello(t, bus, 4096)
	b := openHello(t, bus, 4096)

	if a.ID() != 1 || b.ID() != 2 {
		t.Fatalf("connection ids: got a=%d b=%d, want 1,2", a.ID(), b.ID())
	}

	if err := sendBytes(t, a, b.ID(), []byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, header, records, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if header.SrcID != 1 {
		t.Fatalf("src: got %d, want 1", header.SrcID)
	}
	if len(records) != 1 || string(records[0].Data) != "hi" {
		t.Fatalf("payload: got %+v, want \"hi\"", records)
	}
}

// TestScenarioS2SendByName: B requests name org.foo. A sends to
// dst=0 with a name record org.foo. B receives it; registry
// lookup("org.foo") == B's id.
func TestScenarioS2SendByName(t *testing.T) {
	bus := newTestBus(t)
	a := openHello(t, bus, 4096)
	b := openHello(t, bus, 4096)

	if _, err := b.RequestName("org.foo", 0); err != nil {
		t.Fatalf("RequestName: %v", err)
	}

	header := frame.Header{DstID: frame.DstByName, PayloadType: frame.PayloadType}
	records := []frame.Record{{Kind: frame.KindName, Data: frame.EncodeNameRecord("org.foo")}}
	if err := a.Send(header, records); err != nil {
		t.Fatalf("Send by name: %v", err)
	}

	_, respHeader, _, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if respHeader.SrcID != a.ID() {
		t.Fatalf("src: got %d, want %d", respHeader.SrcID, a.ID())
	}

	owner, ok := bus.Names().Lookup("org.foo")
	if !ok || owner != b.ID() {
		t.Fatalf("lookup(org.foo): got owner=%d ok=%v, want %d", owner, ok, b.ID())
	}
}

// TestScenarioS3BroadcastBloomMatch: B subscribes with mask bit 3
// set; A broadcasts filter bit 3; B receives. C subscribes with bit 5;
// C does not receive.
func TestScenarioS3BroadcastBloomMatch(t *testing.T) {
	bus := newTestBus(t)
	a := openHello(t, bus, 4096)
	b := openHello(t, bus, 4096)
	c := openHello(t, bus, 4096)

	bBits := make([]byte, 8)
	bBits[0] = 1 << 3
	if _, err := b.AddMatch(1, bBits, nil); err != nil {
		t.Fatalf("AddMatch b: %v", err)
	}

	cBits := make([]byte, 8)
	cBits[0] = 1 << 5
	if _, err := c.AddMatch(1, cBits, nil); err != nil {
		t.Fatalf("AddMatch c: %v", err)
	}

	filterBits := make([]byte, 8)
	filterBits[0] = 1 << 3
	entry, err := frame.EncodeBloomEntries([]frame.BloomEntry{{Generation: 1, Bits: filterBits}})
	if err != nil {
		t.Fatalf("EncodeBloomEntries: %v", err)
	}

	header := frame.Header{DstID: frame.DstBroadcast, PayloadType: frame.PayloadType}
	records := []frame.Record{{Kind: frame.KindBloom, Data: entry}}
	if err := a.Send(header, records); err != nil {
		t.Fatalf("Send broadcast: %v", err)
	}

	if _, _, _, err := b.Recv(); err != nil {
		t.Fatalf("B should have received the broadcast: %v", err)
	}

	select {
	case <-c.notify:
		t.Fatalf("C should not have received a notification for a non-matching mask")
	default:
	}
	if len(c.mailbox) != 0 {
		t.Fatalf("C's mailbox should be empty, got %d entries", len(c.mailbox))
	}
}

// TestScenarioS4PoolFullThenFreeRetrySucceeds: A sends twelve 512-byte
// messages without B consuming. Each framed message occupies the
// 64-byte header plus the 512-byte record, 576 bytes total, so B's
// pool is sized to exactly twelve of them; the thirteenth SEND fails
// POOL_FULL. B then FREEs one and A's retry succeeds.
func TestScenarioS4PoolFullThenFreeRetrySucceeds(t *testing.T) {
	const framedSize = frame.HeaderSize + 512 // header + one padded record
	const messageCount = 12
	const poolSize = framedSize * messageCount

	bus := newTestBus(t)
	a := openHello(t, bus, 4096)
	b := openHello(t, bus, poolSize)

	payload := make([]byte, 512-16) // one record: 16-byte prefix + body pads to 512
	var firstOffset uint64
	for i := 0; i < messageCount; i++ {
		if err := sendBytes(t, a, b.ID(), payload); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if b.pool.Used() != poolSize {
		t.Fatalf("pool used: got %d, want %d", b.pool.Used(), poolSize)
	}

	if err := sendBytes(t, a, b.ID(), payload); !IsCode(err, CodePoolFull) {
		t.Fatalf("13th send: got %v, want POOL_FULL", err)
	}

	offset, _, _, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	firstOffset = offset
	if err := b.Free(firstOffset); err != nil {
		t.Fatalf("Free: %v", err)
	}

	if err := sendBytes(t, a, b.ID(), payload); err != nil {
		t.Fatalf("retry send after Free: %v", err)
	}
}

// TestScenarioS5OwnerDisconnectPromotesQueue: B owns org.foo. B
// disconnects. C (queued with QUEUE flag) receives a synthetic
// name-acquired for org.foo; registry lookup("org.foo") returns C.
func TestScenarioS5OwnerDisconnectPromotesQueue(t *testing.T) {
	bus := newTestBus(t)
	b := openHello(t, bus, 4096)
	c := openHello(t, bus, 4096)

	if _, err := b.RequestName("org.foo", 0); err != nil {
		t.Fatalf("RequestName b: %v", err)
	}
	if _, err := c.RequestName("org.foo", registry.Queue); err != nil {
		t.Fatalf("RequestName c (queued): %v", err)
	}

	b.Bye()

	owner, ok := bus.Names().Lookup("org.foo")
	if !ok || owner != c.ID() {
		t.Fatalf("lookup(org.foo) after disconnect: got owner=%d ok=%v, want %d", owner, ok, c.ID())
	}

	_, header, records, err := c.Recv()
	if err != nil {
		t.Fatalf("Recv synthetic: %v", err)
	}
	if header.SrcID != frame.SrcKernel {
		t.Fatalf("synthetic message should be kernel-sourced")
	}
	if len(records) == 0 || string(records[0].Data) != synthNameAcquired {
		t.Fatalf("expected name-acquired synthetic, got %+v", records)
	}
}

// TestScenarioS6SealedMemfdZeroCopy: A sends a sealed-memfd payload to
// B; B maps the payload read-only and reads it. A's attempt to write
// the memfd after seal fails WRITE_ON_SEALED.
func TestScenarioS6SealedMemfdZeroCopy(t *testing.T) {
	bus := newTestBus(t)
	a := openHello(t, bus, 4096)
	b := openHello(t, bus, 4096)

	object, err := sealedmem.New(1 << 20) // 1 MiB
	if err != nil {
		t.Fatalf("sealedmem.New: %v", err)
	}
	defer object.Unref()

	payload := []byte("zero-copy payload")
	if err := object.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := object.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	header := frame.Header{DstID: b.ID(), PayloadType: frame.PayloadType}
	records := []frame.Record{{Kind: frame.KindMemfd, Data: frame.EncodeMemfdRef(frame.MemfdRef{ObjectID: 1, Size: uint64(object.Size())})}}
	if err := a.Send(header, records); err != nil {
		t.Fatalf("Send memfd ref: %v", err)
	}

	_, _, gotRecords, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	ref, err := frame.DecodeMemfdRef(gotRecords[0].Data)
	if err != nil {
		t.Fatalf("DecodeMemfdRef: %v", err)
	}
	if ref.Size != uint64(object.Size()) {
		t.Fatalf("ref size: got %d, want %d", ref.Size, object.Size())
	}

	view, err := object.MapReadOnly()
	if err != nil {
		t.Fatalf("MapReadOnly: %v", err)
	}
	if string(view[:len(payload)]) != string(payload) {
		t.Fatalf("read-only view mismatch: got %q, want %q", view[:len(payload)], payload)
	}

	if err := object.Write(0, []byte("x")); err != sealedmem.ErrWriteOnSealed {
		t.Fatalf("Write after seal: got %v, want ErrWriteOnSealed", err)
	}
}

var _ = bloom.NewMask // referenced indirectly via AddMatch above
