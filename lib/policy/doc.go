// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the allow/deny rule engine that decides
// who may own a name, talk to a connection, or see traffic on an
// endpoint.
//
// A Policy is an ordered list of Rules; the first rule whose subject,
// verb, and object all match the query wins, and the default is deny.
// This mirrors the teacher's lib/authorization evaluation shape
// (first-match grant/denial walk over an ordered rule slice), adapted
// from Matrix user-id grants to uid/gid/world subjects and OWN/TALK_TO/
// SEE verbs over bus-level names.
package policy
