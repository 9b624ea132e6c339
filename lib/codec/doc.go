// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides this module's standard CBOR encoding
// configuration.
//
// CBOR is the wire format everywhere a busd endpoint socket carries
// structured control data: the busclient request/response envelope
// (MAKE_BUS, HELLO, ADD_MATCH, ...) and the METADATA record body
// attached to messages. Message payloads and framing themselves stay
// raw binary — see lib/frame's doc comment for why the two are kept
// separate.
//
// This package provides the shared CBOR encoding and decoding modes so
// that busd and busclient encode identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations (files, one-shot request/response
// bodies):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Struct fields destined for the wire use `cbor` tags throughout this
// module; there is no JSON-tag fallback path to worry about, since
// nothing here also serializes to JSON.
package codec
