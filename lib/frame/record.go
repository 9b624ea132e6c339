// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"encoding/binary"
	"errors"
)

// Kind identifies a record's payload shape.
type Kind uint64

const (
	// KindInlineBytes carries an opaque byte payload copied verbatim.
	KindInlineBytes Kind = iota + 1
	// KindVector carries an (address, length) pair into the sender's
	// address space, to be copied once into the receiver's pool.
	KindVector
	// KindMemfd carries a reference to a sealed memory object (C1);
	// the router attaches it without copying.
	KindMemfd
	// KindFD carries a file descriptor to duplicate into the
	// receiver's descriptor table.
	KindFD
	// KindName carries a well-known name string used to resolve a
	// by-name destination.
	KindName
	// KindBloom carries one or more (generation, bit array) entries:
	// a single entry for a broadcast's filter, or an array of entries
	// for a receiver's installed match mask.
	KindBloom
	// KindMetadata carries a CBOR-encoded Metadata structure.
	KindMetadata
)

// recordPrefixSize is the on-wire size of a record's size+type prefix,
// before its body.
const recordPrefixSize = 16

// ErrTruncatedRecord is returned when fewer bytes remain than a
// record's declared prefix or body requires.
var ErrTruncatedRecord = errors.New("frame: truncated record")

// ErrMisaligned is returned when a record's declared size does not
// leave the next record (or the end of the message) on an 8-byte
// boundary — spec invariant: every record offset is a multiple of 8.
var ErrMisaligned = errors.New("frame: record not 8-byte aligned")

// ErrSizeMismatch is returned by DecodeMessage when the header's
// declared Size does not equal HeaderSize plus the padded size of
// every record.
var ErrSizeMismatch = errors.New("frame: header size does not match record sum")

// Record is a single decoded typed record. Data excludes trailing
// padding; Kind-specific helpers (VectorRef, NameRecord, and so on)
// interpret Data's contents.
type Record struct {
	Kind Kind
	Data []byte
}

func padTo8(n int) int {
	return (n + 7) &^ 7
}

// EncodedSize returns the total bytes r occupies on the wire,
// including its prefix and padding.
func (r Record) EncodedSize() int {
	return padTo8(recordPrefixSize + len(r.Data))
}

// EncodeMessage assembles a complete framed message: header followed
// by every record in order, each padded to 8 bytes. The header's Size
// field is overwritten with the computed total.
func EncodeMessage(h Header, records []Record) []byte {
	total := HeaderSize
	for _, r := range records {
		total += r.EncodedSize()
	}
	h.Size = uint64(total)

	buf := make([]byte, total)
	EncodeHeader(buf, h)

	offset := HeaderSize
	for _, r := range records {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(len(r.Data)))
		binary.LittleEndian.PutUint64(buf[offset+8:offset+16], uint64(r.Kind))
		copy(buf[offset+recordPrefixSize:], r.Data)
		offset += r.EncodedSize()
	}
	return buf
}

// DecodeMessage parses a complete framed message, validating that the
// header's declared Size matches the sum of HeaderSize and every
// record's padded size, and that every record begins 8-byte aligned.
func DecodeMessage(buf []byte) (Header, []Record, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	if uint64(len(buf)) < h.Size {
		return Header{}, nil, ErrTruncatedRecord
	}

	var records []Record
	offset := HeaderSize
	for offset < int(h.Size) {
		if offset%8 != 0 {
			return Header{}, nil, ErrMisaligned
		}
		if offset+recordPrefixSize > int(h.Size) {
			return Header{}, nil, ErrTruncatedRecord
		}
		size := binary.LittleEndian.Uint64(buf[offset : offset+8])
		kind := binary.LittleEndian.Uint64(buf[offset+8 : offset+16])
		bodyStart := offset + recordPrefixSize
		bodyEnd := bodyStart + int(size)
		if bodyEnd > int(h.Size) {
			return Header{}, nil, ErrTruncatedRecord
		}
		data := make([]byte, size)
		copy(data, buf[bodyStart:bodyEnd])
		records = append(records, Record{Kind: Kind(kind), Data: data})
		offset = bodyStart + padTo8(int(size))
	}
	if offset != int(h.Size) {
		return Header{}, nil, ErrSizeMismatch
	}
	return h, records, nil
}

// VectorRef is the decoded form of a KindVector record: an address and
// length into the sender's address space, to be copied once into the
// receiver's pool by the router.
type VectorRef struct {
	Address uint64
	Length  uint64
}

// EncodeVectorRef renders v as a KindVector record's Data.
func EncodeVectorRef(v VectorRef) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], v.Address)
	binary.LittleEndian.PutUint64(buf[8:16], v.Length)
	return buf
}

// DecodeVectorRef parses a KindVector record's Data.
func DecodeVectorRef(data []byte) (VectorRef, error) {
	if len(data) < 16 {
		return VectorRef{}, ErrTruncatedRecord
	}
	return VectorRef{
		Address: binary.LittleEndian.Uint64(data[0:8]),
		Length:  binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// MemfdRef is the decoded form of a KindMemfd record: an opaque
// object id the router resolves against its sealed-memory table, plus
// the sealed size at the time the reference was taken.
type MemfdRef struct {
	ObjectID uint64
	Size     uint64
}

// EncodeMemfdRef renders m as a KindMemfd record's Data.
func EncodeMemfdRef(m MemfdRef) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], m.ObjectID)
	binary.LittleEndian.PutUint64(buf[8:16], m.Size)
	return buf
}

// DecodeMemfdRef parses a KindMemfd record's Data.
func DecodeMemfdRef(data []byte) (MemfdRef, error) {
	if len(data) < 16 {
		return MemfdRef{}, ErrTruncatedRecord
	}
	return MemfdRef{
		ObjectID: binary.LittleEndian.Uint64(data[0:8]),
		Size:     binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// FDRef is the decoded form of a KindFD record: the sender-side
// descriptor number the router duplicates into the receiver's table.
type FDRef struct {
	FD int32
}

// EncodeFDRef renders f as a KindFD record's Data.
func EncodeFDRef(f FDRef) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.FD))
	return buf
}

// DecodeFDRef parses a KindFD record's Data.
func DecodeFDRef(data []byte) (FDRef, error) {
	if len(data) < 4 {
		return FDRef{}, ErrTruncatedRecord
	}
	return FDRef{FD: int32(binary.LittleEndian.Uint32(data[0:4]))}, nil
}

// EncodeNameRecord renders a well-known name as a KindName record's Data.
func EncodeNameRecord(name string) []byte {
	return []byte(name)
}

// DecodeNameRecord parses a KindName record's Data.
func DecodeNameRecord(data []byte) string {
	return string(data)
}
