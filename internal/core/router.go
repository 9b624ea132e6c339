// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"github.com/busline/busd/lib/bloom"
	"github.com/busline/busd/lib/frame"
	"github.com/busline/busd/lib/policy"
)

// route is the message router (C10). It validates framing (already
// done by the caller via frame.DecodeMessage before reaching here),
// stamps the source id, resolves the destination, enforces policy,
// and materializes the payload into the destination's pool.
func route(bus *Bus, sender *Connection, header frame.Header, records []frame.Record) error {
	header.SrcID = sender.id
	bus.nextMessageID() // strictly monotonic per-bus bookkeeping counter

	switch header.DstID {
	case frame.DstBroadcast:
		routeBroadcast(bus, sender, header, records)
		return nil
	case frame.DstByName:
		return routeByName(bus, sender, header, records)
	default:
		return routeByID(bus, sender, header, records)
	}
}

func routeByName(bus *Bus, sender *Connection, header frame.Header, records []frame.Record) error {
	name, ok := findNameRecord(records)
	if !ok {
		return newError(KindUsage, CodeBadRecord, "dst_id=0 requires an embedded name record")
	}

	destID, ok := bus.names.Lookup(name)
	if !ok {
		destID, ok = bus.names.LookupWildcard(name)
	}
	if !ok {
		return newError(KindLookup, CodeNameNotFound, "no owner for name %q", name)
	}

	dest, ok := bus.Connection(destID)
	if !ok {
		return newError(KindLookup, CodeNoDest, "resolved owner %d for %q no longer exists", destID, name)
	}

	if sender.endpoint.EffectivePolicy().Check(sender.Actor(), policy.TalkTo, name) == policy.Deny {
		bus.logger.Debug("talk-to denied by policy", "bus", bus.name, "sender", sender.id, "name", name)
		return newError(KindPermission, CodePolicyDenied, "talk-to %q denied by policy", name)
	}

	return deliverUnicast(bus, sender, dest, header, records)
}

func routeByID(bus *Bus, sender *Connection, header frame.Header, records []frame.Record) error {
	dest, ok := bus.Connection(header.DstID)
	if !ok {
		return newError(KindLookup, CodeNoDest, "no connection with id %d", header.DstID)
	}

	// TALK_TO checks run against every name the destination currently
	// owns when addressed directly by id (spec.md §4.10c); a
	// destination that owns no names at all is reachable by id with no
	// further check, since there is nothing for the policy to name.
	ownedNames := dest.OwnedNames()
	for _, name := range ownedNames {
		if sender.endpoint.EffectivePolicy().Check(sender.Actor(), policy.TalkTo, name) == policy.Deny {
			bus.logger.Debug("talk-to denied by policy", "bus", bus.name, "sender", sender.id, "dest", dest.id, "name", name)
			return newError(KindPermission, CodePolicyDenied, "talk-to connection %d denied by policy on name %q", dest.id, name)
		}
	}

	return deliverUnicast(bus, sender, dest, header, records)
}

func deliverUnicast(bus *Bus, sender, dest *Connection, header frame.Header, records []frame.Record) error {
	if header.CookieReply != 0 {
		if !dest.resolvePendingReply(header.CookieReply) {
			return newError(KindState, CodeReplyOrphan, "no pending request on connection %d matches reply cookie %d", dest.id, header.CookieReply)
		}
	}

	credentials := sender.Credentials()
	records = attachMetadata(records, dest, &credentials, sender.clock)

	if _, err := dest.deliver(header, records); err != nil {
		return err
	}

	if header.CookieReply == 0 && header.TimeoutNs > 0 {
		sender.registerPendingReply(header.Cookie, header.TimeoutNs)
	}
	return nil
}

// routeBroadcast fans a message out to every connection on the bus
// whose mask admits the embedded filter. Per-recipient failures (a
// full pool) are recorded on the recipient as a lossy flag and are not
// reported to the sender — spec.md §7.
func routeBroadcast(bus *Bus, sender *Connection, header frame.Header, records []frame.Record) {
	entries, ok := findBloomRecord(records)
	if !ok || len(entries) == 0 {
		return
	}
	filter := &bloom.Filter{Generation: entries[0].Generation, Words: bitsToWords(entries[0].Bits)}

	for _, dest := range bus.snapshotConnections() {
		if !dest.matchesBroadcast(filter, header.SrcID) {
			continue
		}
		if !dest.endpoint.IsDefault() {
			if dest.endpoint.EffectivePolicy().Check(sender.Actor(), policy.See, "*") == policy.Deny {
				continue
			}
		}
		if dest.endpoint.EffectivePolicy().Check(sender.Actor(), policy.TalkTo, "*") == policy.Deny {
			continue
		}
		credentials := sender.Credentials()
		stamped := attachMetadata(records, dest, &credentials, sender.clock)
		if _, err := dest.deliver(header, stamped); err != nil {
			bus.logger.Debug("broadcast dropped, marking recipient lossy", "bus", bus.name, "sender", sender.id, "dest", dest.id, "err", err)
			dest.pool.MarkLossy()
		}
	}
}

func findNameRecord(records []frame.Record) (string, bool) {
	for _, r := range records {
		if r.Kind == frame.KindName {
			return frame.DecodeNameRecord(r.Data), true
		}
	}
	return "", false
}

func findBloomRecord(records []frame.Record) ([]frame.BloomEntry, bool) {
	for _, r := range records {
		if r.Kind == frame.KindBloom {
			entries, err := frame.DecodeBloomEntries(r.Data)
			if err != nil {
				return nil, false
			}
			return entries, true
		}
	}
	return nil, false
}
