// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "strings"

// Verb identifies the kind of action a rule governs.
type Verb int

const (
	// Own governs whether a subject may acquire a well-known name.
	Own Verb = iota
	// TalkTo governs whether a subject may send to a named destination.
	TalkTo
	// See governs whether a subject may observe traffic on a custom
	// endpoint. The default endpoint never consults See rules — that
	// is enforced by the caller, not by this package.
	See
)

// SubjectKind identifies what a Subject matches against.
type SubjectKind int

const (
	// SubjectWorld matches any actor.
	SubjectWorld SubjectKind = iota
	// SubjectUID matches an actor whose uid equals Subject.ID.
	SubjectUID
	// SubjectGID matches an actor whose gid equals Subject.ID.
	SubjectGID
)

// Subject identifies who a rule applies to.
type Subject struct {
	Kind SubjectKind
	ID   uint32
}

// Actor is the credential of whoever is asking for a decision.
type Actor struct {
	UID uint32
	GID uint32
}

func (s Subject) matches(actor Actor) bool {
	switch s.Kind {
	case SubjectWorld:
		return true
	case SubjectUID:
		return actor.UID == s.ID
	case SubjectGID:
		return actor.GID == s.ID
	default:
		return false
	}
}

// Decision is the outcome of a policy check.
type Decision int

const (
	// Deny means the action is not permitted. This is the default
	// when no rule matches.
	Deny Decision = iota
	// Allow means the action is permitted.
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Rule is one ordered entry in a Policy.
type Rule struct {
	Subject  Subject
	Verb     Verb
	Object   string // exact name, "a.b.*" wildcard, or "*" for any object
	Decision Decision
}

// Policy is an ordered list of rules evaluated first-match-wins.
type Policy struct {
	Rules []Rule
}

func matchObject(pattern, object string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := pattern[:len(pattern)-2]
		lastDot := strings.LastIndex(object, ".")
		if lastDot < 0 {
			return false
		}
		return object[:lastDot] == prefix
	}
	return pattern == object
}

// Check evaluates the policy for actor performing verb on object.
// Returns Deny if no rule matches.
func (p *Policy) Check(actor Actor, verb Verb, object string) Decision {
	if p == nil {
		return Deny
	}
	for _, rule := range p.Rules {
		if rule.Verb != verb {
			continue
		}
		if !rule.Subject.matches(actor) {
			continue
		}
		if !matchObject(rule.Object, object) {
			continue
		}
		return rule.Decision
	}
	return Deny
}

// Overlay returns the effective policy obtained by layering endpoint
// on top of base. Per spec.md §4.5, an endpoint policy "may only
// narrow" the bus policy — so only the endpoint's Deny rules are
// allowed to take precedence; any Allow rule the endpoint declares is
// dropped from the overlay (it cannot grant what the bus policy does
// not already grant). Endpoint Deny rules are evaluated before base's
// rules, consistent with first-match-wins.
func Overlay(base, endpoint *Policy) *Policy {
	if endpoint == nil {
		return base
	}
	combined := &Policy{}
	for _, rule := range endpoint.Rules {
		if rule.Decision == Deny {
			combined.Rules = append(combined.Rules, rule)
		}
	}
	if base != nil {
		combined.Rules = append(combined.Rules, base.Rules...)
	}
	return combined
}
