// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "testing"

func TestFirstMatchWins(t *testing.T) {
	p := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectUID, ID: 1000}, Verb: TalkTo, Object: "org.foo", Decision: Deny},
		{Subject: Subject{Kind: SubjectWorld}, Verb: TalkTo, Object: "org.foo", Decision: Allow},
	}}

	got := p.Check(Actor{UID: 1000}, TalkTo, "org.foo")
	if got != Deny {
		t.Fatalf("Check: got %v, want deny (first rule should win)", got)
	}

	got = p.Check(Actor{UID: 2000}, TalkTo, "org.foo")
	if got != Allow {
		t.Fatalf("Check: got %v, want allow for a different uid", got)
	}
}

func TestDefaultDeny(t *testing.T) {
	p := &Policy{}
	if got := p.Check(Actor{UID: 1000}, TalkTo, "org.foo"); got != Deny {
		t.Fatalf("Check on empty policy: got %v, want deny", got)
	}

	var nilPolicy *Policy
	if got := nilPolicy.Check(Actor{UID: 1000}, Own, "org.foo"); got != Deny {
		t.Fatalf("Check on nil policy: got %v, want deny", got)
	}
}

func TestVerbsAreIndependent(t *testing.T) {
	p := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectWorld}, Verb: Own, Object: "org.foo", Decision: Allow},
	}}

	if got := p.Check(Actor{UID: 1}, Own, "org.foo"); got != Allow {
		t.Fatalf("Check Own: got %v, want allow", got)
	}
	if got := p.Check(Actor{UID: 1}, TalkTo, "org.foo"); got != Deny {
		t.Fatalf("Check TalkTo: got %v, want deny (rule only covers Own)", got)
	}
	if got := p.Check(Actor{UID: 1}, See, "org.foo"); got != Deny {
		t.Fatalf("Check See: got %v, want deny (rule only covers Own)", got)
	}
}

func TestWildcardObjectMatch(t *testing.T) {
	p := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectWorld}, Verb: TalkTo, Object: "org.foo.*", Decision: Allow},
	}}

	if got := p.Check(Actor{}, TalkTo, "org.foo.bar"); got != Allow {
		t.Fatalf("Check wildcard match: got %v, want allow", got)
	}
	if got := p.Check(Actor{}, TalkTo, "org.baz.bar"); got != Deny {
		t.Fatalf("Check wildcard non-match: got %v, want deny", got)
	}
	if got := p.Check(Actor{}, TalkTo, "org.foo"); got != Deny {
		t.Fatalf("Check wildcard requires a label after the prefix: got %v, want deny", got)
	}
}

func TestStarMatchesAnyObject(t *testing.T) {
	p := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectGID, ID: 100}, Verb: See, Object: "*", Decision: Allow},
	}}

	if got := p.Check(Actor{GID: 100}, See, "literally.anything"); got != Allow {
		t.Fatalf("Check: got %v, want allow", got)
	}
	if got := p.Check(Actor{GID: 200}, See, "literally.anything"); got != Deny {
		t.Fatalf("Check with non-matching gid: got %v, want deny", got)
	}
}

func TestOverlayEndpointCanOnlyNarrow(t *testing.T) {
	base := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectWorld}, Verb: TalkTo, Object: "org.foo", Decision: Allow},
	}}

	// Endpoint tries to deny a uid that the bus allows: this should win,
	// since a Deny narrows.
	endpointDeny := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectUID, ID: 1000}, Verb: TalkTo, Object: "org.foo", Decision: Deny},
	}}
	effective := Overlay(base, endpointDeny)
	if got := effective.Check(Actor{UID: 1000}, TalkTo, "org.foo"); got != Deny {
		t.Fatalf("Check after narrowing overlay: got %v, want deny", got)
	}
	if got := effective.Check(Actor{UID: 2000}, TalkTo, "org.foo"); got != Allow {
		t.Fatalf("Check for unaffected uid: got %v, want allow", got)
	}

	// Endpoint tries to allow something the bus does not: this must be
	// dropped from the overlay, since an endpoint may not grant beyond
	// the bus policy.
	endpointAllow := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectWorld}, Verb: TalkTo, Object: "org.bar", Decision: Allow},
	}}
	effective = Overlay(base, endpointAllow)
	if got := effective.Check(Actor{UID: 1}, TalkTo, "org.bar"); got != Deny {
		t.Fatalf("Check for endpoint-only allow: got %v, want deny (endpoint cannot grant beyond base)", got)
	}
}

func TestOverlayWithNilEndpointReturnsBase(t *testing.T) {
	base := &Policy{Rules: []Rule{
		{Subject: Subject{Kind: SubjectWorld}, Verb: Own, Object: "org.foo", Decision: Allow},
	}}
	if got := Overlay(base, nil); got != base {
		t.Fatalf("Overlay with nil endpoint policy should return base unchanged")
	}
}
