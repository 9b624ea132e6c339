// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package bloom implements the versioned Bloom filter/mask engine used
// to match broadcast messages against per-connection subscriptions.
//
// A Filter is a fixed-size bit array stamped with a generation. A Mask
// is the set of bit arrays a single connection has installed over time,
// one per generation it has seen. Matching never interprets what a bit
// means — it only performs the bitwise test (filter &^ mask) == 0 — so
// false positives are expected and acceptable; false negatives are not.
package bloom
