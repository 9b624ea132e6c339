// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the per-bus well-known-name table: name
// string to (primary owner, queue of pending owners), with wildcard
// entries matched by stripping a looked-up name's trailing label.
//
// Registry is self-contained and knows nothing about connections,
// messages, or policy — it deals entirely in connection ids (uint64)
// handed to it by the caller, the same separation of concerns the
// teacher's lib/authorization keeps from the proxy package that drives
// it.
package registry
