// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"encoding/binary"
	"errors"
	"math"
)

// HeaderSize is the fixed on-wire size of a Header: eight u64 fields.
const HeaderSize = 64

// PayloadType is the 8-byte ASCII constant "DBusDBus" interpreted as a
// little-endian u64, stamped into every header's PayloadType field.
// The core never inspects bytes past the header/record envelope for
// any other tag — this is the only payload type in scope.
var PayloadType = binary.LittleEndian.Uint64([]byte("DBusDBus"))

// DstByName marks a header's DstID as "resolve the destination through
// the embedded name record" rather than a numeric connection id.
const DstByName uint64 = 0

// DstBroadcast marks a header's DstID as "fan out to every connection
// whose match rules admit this message's filter."
const DstBroadcast uint64 = math.MaxUint64

// SrcKernel marks a header's SrcID as core-synthesized rather than
// sent by a real connection. Connection ids are allocated starting at
// 1, so 0 is never a legitimate source.
const SrcKernel uint64 = 0

// Header is the fixed-size prefix of every framed message.
type Header struct {
	Size        uint64
	Flags       uint64
	DstID       uint64
	SrcID       uint64
	PayloadType uint64
	Cookie      uint64
	CookieReply uint64
	TimeoutNs   uint64
}

// ErrTruncatedHeader is returned by DecodeHeader when fewer than
// HeaderSize bytes are available.
var ErrTruncatedHeader = errors.New("frame: truncated header")

// ErrBadPayloadType is returned when a decoded header's PayloadType is
// not the DBusDBus tag.
var ErrBadPayloadType = errors.New("frame: unrecognized payload type")

// EncodeHeader writes h to the first HeaderSize bytes of dst, which
// must be at least that long.
func EncodeHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint64(dst[0:8], h.Size)
	binary.LittleEndian.PutUint64(dst[8:16], h.Flags)
	binary.LittleEndian.PutUint64(dst[16:24], h.DstID)
	binary.LittleEndian.PutUint64(dst[24:32], h.SrcID)
	binary.LittleEndian.PutUint64(dst[32:40], h.PayloadType)
	binary.LittleEndian.PutUint64(dst[40:48], h.Cookie)
	binary.LittleEndian.PutUint64(dst[48:56], h.CookieReply)
	binary.LittleEndian.PutUint64(dst[56:64], h.TimeoutNs)
}

// DecodeHeader reads a Header from the first HeaderSize bytes of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrTruncatedHeader
	}
	h := Header{
		Size:        binary.LittleEndian.Uint64(src[0:8]),
		Flags:       binary.LittleEndian.Uint64(src[8:16]),
		DstID:       binary.LittleEndian.Uint64(src[16:24]),
		SrcID:       binary.LittleEndian.Uint64(src[24:32]),
		PayloadType: binary.LittleEndian.Uint64(src[32:40]),
		Cookie:      binary.LittleEndian.Uint64(src[40:48]),
		CookieReply: binary.LittleEndian.Uint64(src[48:56]),
		TimeoutNs:   binary.LittleEndian.Uint64(src[56:64]),
	}
	if h.PayloadType != PayloadType {
		return Header{}, ErrBadPayloadType
	}
	return h, nil
}
