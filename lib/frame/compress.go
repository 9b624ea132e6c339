// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm applied to an
// inline-bytes record's body before it was placed on the wire. Every
// body EncodeInlineBytes produces starts with this byte; only bodies
// above CompressionThreshold can carry a tag other than
// CompressionNone. VEC and MEMFD records carry no tag: they are
// single-copy or zero-copy paths that compression would defeat.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

// CompressionThreshold is the inline-bytes payload size, in bytes,
// above which EncodeInlineBytes attempts compression. Below it the
// framing and compression-header overhead is not worth paying.
const CompressionThreshold = 4096

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// textLikeThreshold is the payload size above which EncodeInlineBytes
// reaches for zstd instead of lz4: past this point the better ratio on
// text-like content (logs, JSON command lines, CBOR metadata blobs)
// outweighs zstd's slower encode.
const textLikeThreshold = 256 * 1024

// EncodeInlineBytes renders payload as a KindInlineBytes record's
// Data, prefixed with a CompressionTag byte. Payloads at or below
// CompressionThreshold are stored with CompressionNone. Above it,
// lz4 is the fast default for mixed/binary content; past
// textLikeThreshold zstd's better ratio is worth its slower encode.
// Either way, a compression attempt that does not shrink the payload
// falls back to storing it uncompressed.
func EncodeInlineBytes(payload []byte) ([]byte, error) {
	if len(payload) <= CompressionThreshold {
		return append([]byte{byte(CompressionNone)}, payload...), nil
	}

	tag := CompressionLZ4
	var buf bytes.Buffer
	if len(payload) > textLikeThreshold {
		tag = CompressionZstd
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	} else {
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if buf.Len() >= len(payload) {
		return append([]byte{byte(CompressionNone)}, payload...), nil
	}
	return append([]byte{byte(tag)}, buf.Bytes()...), nil
}

// DecodeInlineBytes reverses EncodeInlineBytes.
func DecodeInlineBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrTruncatedRecord
	}
	tag := CompressionTag(data[0])
	body := data[1:]
	switch tag {
	case CompressionNone:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		r := lz4.NewReader(bytes.NewReader(body))
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("frame: unknown compression tag %d", tag)
	}
}
