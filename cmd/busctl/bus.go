// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/busline/busd/lib/busclient"
)

func runMakeBus(args []string) error {
	fs, socket := newFlagSet("make-bus")
	name := fs.String("name", "", "bus name (required)")
	flags := fs.Uint64("flags", 0, "opaque flag bits")
	mode := fs.Uint32("mode", 0o600, "default endpoint open mode")
	uid := fs.Uint32("uid", 0, "default endpoint owning uid")
	gid := fs.Uint32("gid", 0, "default endpoint owning gid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.MakeBus(*name, *flags, *mode, *uid, *gid); err != nil {
		return err
	}
	fmt.Printf("bus %q created\n", *name)
	return nil
}

func runMakeDomain(args []string) error {
	fs, socket := newFlagSet("make-domain")
	name := fs.String("name", "", "sub-domain name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.MakeDomain(*name); err != nil {
		return err
	}
	fmt.Printf("domain %q created\n", *name)
	return nil
}

func runEndpointMake(args []string) error {
	fs, socket := newFlagSet("ep-make")
	name := fs.String("name", "", "endpoint name (required)")
	mode := fs.Uint32("mode", 0o600, "open mode")
	uid := fs.Uint32("uid", 0, "owning uid")
	gid := fs.Uint32("gid", 0, "owning gid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	// The bus name is implied by the socket busctl dialed; ep-make asks
	// busd for a new endpoint on that same bus. busName is left empty on
	// the wire since session.cmdEndpointMake resolves it from the
	// session's own bus, not from the request.
	if err := client.MakeEndpoint("", *name, *mode, *uid, *gid); err != nil {
		return err
	}
	fmt.Printf("endpoint %q created\n", *name)
	return nil
}

func runEndpointPolicySet(args []string) error {
	fs, socket := newFlagSet("ep-policy-set")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	var rules []string
	fs.StringArrayVar(&rules, "rule", nil, "policy rule: subject:verb:object:decision (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}

	wireRules := make([]busclient.PolicyRuleWire, 0, len(rules))
	for _, raw := range rules {
		wire, err := parseRule(raw)
		if err != nil {
			return err
		}
		wireRules = append(wireRules, wire)
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SetEndpointPolicy("", *endpoint, wireRules); err != nil {
		return err
	}
	fmt.Printf("policy set: %d rule(s)\n", len(wireRules))
	return nil
}

// parseRule parses "subject:verb:object:decision" into a
// PolicyRuleWire. subject is "world", "uid:<n>", or "gid:<n>".
func parseRule(raw string) (busclient.PolicyRuleWire, error) {
	// uid:<n> and gid:<n> subjects span two colon-separated fields.
	subjectFields := 1
	if strings.HasPrefix(raw, "uid:") || strings.HasPrefix(raw, "gid:") {
		subjectFields = 2
	}
	parts := strings.SplitN(raw, ":", subjectFields+1)
	if len(parts) != subjectFields+1 {
		return busclient.PolicyRuleWire{}, fmt.Errorf("malformed rule %q: expected subject:verb:object:decision", raw)
	}
	subjectKind, subjectID, err := parseSubject(strings.Join(parts[:subjectFields], ":"))
	if err != nil {
		return busclient.PolicyRuleWire{}, fmt.Errorf("rule %q: %w", raw, err)
	}

	rest := strings.SplitN(parts[subjectFields], ":", 3)
	if len(rest) != 3 {
		return busclient.PolicyRuleWire{}, fmt.Errorf("malformed rule %q: expected subject:verb:object:decision", raw)
	}
	verb, object, decision := rest[0], rest[1], rest[2]
	if verb != "own" && verb != "talk_to" && verb != "see" {
		return busclient.PolicyRuleWire{}, fmt.Errorf("rule %q: unknown verb %q", raw, verb)
	}
	if decision != "allow" && decision != "deny" {
		return busclient.PolicyRuleWire{}, fmt.Errorf("rule %q: unknown decision %q", raw, decision)
	}

	return busclient.PolicyRuleWire{
		SubjectKind: subjectKind,
		SubjectID:   subjectID,
		Verb:        verb,
		Object:      object,
		Decision:    decision,
	}, nil
}

func parseSubject(raw string) (kind string, id uint32, err error) {
	if raw == "world" {
		return "world", 0, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("unknown subject %q: expected world, uid:<n>, or gid:<n>", raw)
	}
	value, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("invalid subject id in %q: %w", raw, err)
	}
	switch parts[0] {
	case "uid":
		return "uid", uint32(value), nil
	case "gid":
		return "gid", uint32(value), nil
	default:
		return "", 0, fmt.Errorf("unknown subject %q: expected world, uid:<n>, or gid:<n>", raw)
	}
}
