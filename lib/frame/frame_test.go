// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Flags:       1,
		DstID:       2,
		SrcID:       1,
		PayloadType: PayloadType,
		Cookie:      42,
		CookieReply: 0,
		TimeoutNs:   1000,
	}
	buf := make([]byte, HeaderSize)
	h.Size = HeaderSize
	EncodeHeader(buf, h)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip: got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsBadPayloadType(t *testing.T) {
	h := Header{Size: HeaderSize, PayloadType: 0xdeadbeef}
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, h)
	if _, err := DecodeHeader(buf); err != ErrBadPayloadType {
		t.Fatalf("DecodeHeader: got %v, want ErrBadPayloadType", err)
	}
}

func TestMessageRoundTripInlineBytesAndName(t *testing.T) {
	h := Header{DstID: 0, SrcID: 1, PayloadType: PayloadType, Cookie: 7}
	records := []Record{
		{Kind: KindInlineBytes, Data: []byte("hi")},
		{Kind: KindName, Data: EncodeNameRecord("org.foo")},
	}

	buf := EncodeMessage(h, records)

	gotHeader, gotRecords, err := DecodeMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if gotHeader.Cookie != 7 || gotHeader.SrcID != 1 {
		t.Fatalf("header: got %+v", gotHeader)
	}
	if len(gotRecords) != 2 {
		t.Fatalf("records: got %d, want 2", len(gotRecords))
	}
	if gotRecords[0].Kind != KindInlineBytes || string(gotRecords[0].Data) != "hi" {
		t.Fatalf("record 0: got %+v", gotRecords[0])
	}
	if gotRecords[1].Kind != KindName || DecodeNameRecord(gotRecords[1].Data) != "org.foo" {
		t.Fatalf("record 1: got %+v", gotRecords[1])
	}
}

func TestEveryRecordOffsetIsEightByteAligned(t *testing.T) {
	h := Header{PayloadType: PayloadType}
	records := []Record{
		{Kind: KindInlineBytes, Data: []byte("a")},   // 1 byte, forces padding
		{Kind: KindInlineBytes, Data: []byte("abc")}, // 3 bytes, forces padding
		{Kind: KindName, Data: EncodeNameRecord("x")},
	}
	buf := EncodeMessage(h, records)

	offset := HeaderSize
	for offset < len(buf) {
		if offset%8 != 0 {
			t.Fatalf("record at offset %d is not 8-byte aligned", offset)
		}
		size := int(le64(buf[offset : offset+8]))
		offset += recordPrefixSize + padTo8(size)
	}
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func TestDecodeMessageDetectsTruncation(t *testing.T) {
	h := Header{PayloadType: PayloadType}
	buf := EncodeMessage(h, []Record{{Kind: KindInlineBytes, Data: []byte("hello world")}})

	if _, _, err := DecodeMessage(buf[:len(buf)-1]); err != ErrTruncatedRecord {
		t.Fatalf("DecodeMessage on truncated buffer: got %v, want ErrTruncatedRecord", err)
	}
}

func TestVectorAndMemfdRefRoundTrip(t *testing.T) {
	v := VectorRef{Address: 0x1000, Length: 256}
	got, err := DecodeVectorRef(EncodeVectorRef(v))
	if err != nil || got != v {
		t.Fatalf("VectorRef round trip: got (%+v, %v)", got, err)
	}

	m := MemfdRef{ObjectID: 99, Size: 4096}
	gotM, err := DecodeMemfdRef(EncodeMemfdRef(m))
	if err != nil || gotM != m {
		t.Fatalf("MemfdRef round trip: got (%+v, %v)", gotM, err)
	}
}

func TestBloomEntriesRoundTrip(t *testing.T) {
	entries := []BloomEntry{
		{Generation: 1, Bits: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}},
		{Generation: 2, Bits: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}
	encoded, err := EncodeBloomEntries(entries)
	if err != nil {
		t.Fatalf("EncodeBloomEntries: %v", err)
	}
	decoded, err := DecodeBloomEntries(encoded)
	if err != nil {
		t.Fatalf("DecodeBloomEntries: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded: got %d entries, want 2", len(decoded))
	}
	for i := range entries {
		if decoded[i].Generation != entries[i].Generation || !bytes.Equal(decoded[i].Bits, entries[i].Bits) {
			t.Fatalf("entry %d: got %+v, want %+v", i, decoded[i], entries[i])
		}
	}
}

func TestBloomEntriesRejectsUnalignedBits(t *testing.T) {
	_, err := EncodeBloomEntries([]BloomEntry{{Generation: 1, Bits: []byte{1, 2, 3}}})
	if err != ErrBadBloomEntry {
		t.Fatalf("EncodeBloomEntries: got %v, want ErrBadBloomEntry", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := Metadata{
		Credentials:    &Credentials{UID: 1000, GID: 1000, PID: 4242},
		ExecutablePath: "/usr/bin/foo",
		CommandLine:    []string{"foo", "--bar"},
	}
	encoded, err := EncodeMetadata(m)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	decoded, err := DecodeMetadata(encoded)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if decoded.AuditID == "" {
		t.Fatalf("expected EncodeMetadata to fill in a generated AuditID")
	}
	if decoded.Credentials == nil || *decoded.Credentials != *m.Credentials {
		t.Fatalf("Credentials: got %+v", decoded.Credentials)
	}
	if decoded.ExecutablePath != m.ExecutablePath {
		t.Fatalf("ExecutablePath: got %q", decoded.ExecutablePath)
	}
}

func TestAttachMaskOmitsUnrequestedFields(t *testing.T) {
	full := Metadata{
		Credentials:    &Credentials{UID: 1000},
		ExecutablePath: "/usr/bin/foo",
		SecLabel:       "unconfined",
	}
	mask := AttachCredentials | AttachExecutablePath

	got := mask.Apply(full)
	if got.Credentials == nil || got.Credentials.UID != 1000 {
		t.Fatalf("expected credentials to survive masking")
	}
	if got.ExecutablePath != "/usr/bin/foo" {
		t.Fatalf("expected executable path to survive masking")
	}
	if got.SecLabel != "" {
		t.Fatalf("expected seclabel to be omitted, got %q", got.SecLabel)
	}
}

func TestInlineBytesRoundTripSmall(t *testing.T) {
	payload := []byte("small payload")
	encoded, err := EncodeInlineBytes(payload)
	if err != nil {
		t.Fatalf("EncodeInlineBytes: %v", err)
	}
	if CompressionTag(encoded[0]) != CompressionNone {
		t.Fatalf("expected CompressionNone for a small payload")
	}
	decoded, err := DecodeInlineBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeInlineBytes: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("round trip: got %q, want %q", decoded, payload)
	}
}

func TestInlineBytesCompressesLargeCompressiblePayload(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 1000) // > CompressionThreshold, highly compressible

	encoded, err := EncodeInlineBytes(payload)
	if err != nil {
		t.Fatalf("EncodeInlineBytes: %v", err)
	}
	if CompressionTag(encoded[0]) != CompressionLZ4 {
		t.Fatalf("expected CompressionLZ4 for a mid-size compressible payload, got tag %d", encoded[0])
	}
	if len(encoded) >= len(payload) {
		t.Fatalf("expected compression to shrink a highly repetitive payload")
	}

	decoded, err := DecodeInlineBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeInlineBytes: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("round trip mismatch after compression")
	}
}

func TestInlineBytesFallsBackToNoneForIncompressibleData(t *testing.T) {
	payload := make([]byte, CompressionThreshold+1)
	rand.New(rand.NewSource(1)).Read(payload)

	encoded, err := EncodeInlineBytes(payload)
	if err != nil {
		t.Fatalf("EncodeInlineBytes: %v", err)
	}
	decoded, err := DecodeInlineBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeInlineBytes: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("round trip mismatch for random payload")
	}
}
