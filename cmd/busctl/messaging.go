// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/busline/busd/lib/busclient"
	"github.com/busline/busd/lib/frame"
)

func runHello(args []string) error {
	fs, socket := newFlagSet("hello")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	connID, err := client.Hello("", *endpoint, *poolSize, 0)
	if err != nil {
		return err
	}
	fmt.Printf("connection id %d\n", connID)
	return nil
}

func runSend(args []string) error {
	fs, socket := newFlagSet("send")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	dstName := fs.String("dst-name", "", "destination well-known name")
	dstID := fs.Uint64("dst-id", 0, "destination connection id")
	broadcast := fs.Bool("broadcast", false, "broadcast to every subscriber whose mask admits --bits")
	data := fs.String("data", "", "message payload")
	cookie := fs.Uint64("cookie", 1, "message cookie")
	timeoutNs := fs.Uint64("timeout-ns", 0, "reply timeout in nanoseconds (0 disables)")
	bitsHex := fs.String("bits", "", "hex-encoded bloom filter bits, required with --broadcast")
	generation := fs.Uint64("generation", 0, "bloom filter generation, used with --broadcast")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}

	header := frame.Header{Cookie: *cookie, TimeoutNs: *timeoutNs}
	var records []frame.Record

	switch {
	case *broadcast:
		if *bitsHex == "" {
			return fmt.Errorf("--broadcast requires --bits")
		}
		bits, err := hex.DecodeString(*bitsHex)
		if err != nil {
			return fmt.Errorf("decoding --bits: %w", err)
		}
		encoded, err := frame.EncodeBloomEntries([]frame.BloomEntry{{Generation: *generation, Bits: bits}})
		if err != nil {
			return err
		}
		header.DstID = frame.DstBroadcast
		records = append(records, frame.Record{Kind: frame.KindBloom, Data: encoded})
	case *dstName != "":
		header.DstID = frame.DstByName
		records = append(records, frame.Record{Kind: frame.KindName, Data: frame.EncodeNameRecord(*dstName)})
	case *dstID != 0:
		header.DstID = *dstID
	default:
		return fmt.Errorf("one of --dst-name, --dst-id, or --broadcast is required")
	}

	body, err := frame.EncodeInlineBytes([]byte(*data))
	if err != nil {
		return err
	}
	records = append(records, frame.Record{Kind: frame.KindInlineBytes, Data: body})

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	if err := client.Send(header, records); err != nil {
		return err
	}
	fmt.Println("sent")
	return nil
}

func runRecv(args []string) error {
	fs, socket := newFlagSet("recv")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	attachMask := fs.Uint32("attach-mask", 0, "metadata attach mask")
	count := fs.Int("count", 1, "number of messages to receive before exiting (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	connID, err := client.Hello("", *endpoint, *poolSize, *attachMask)
	if err != nil {
		return err
	}
	fmt.Fprintf(fs.Output(), "connection id %d, waiting for messages\n", connID)

	for i := 0; *count == 0 || i < *count; i++ {
		header, records, err := client.Recv()
		if err != nil {
			return err
		}
		printDelivery(header, records)
	}
	return nil
}

func printDelivery(header frame.Header, records []frame.Record) {
	fmt.Printf("from=%d cookie=%d cookie_reply=%d\n", header.SrcID, header.Cookie, header.CookieReply)
	for _, r := range records {
		switch r.Kind {
		case frame.KindInlineBytes:
			payload, err := frame.DecodeInlineBytes(r.Data)
			if err != nil {
				fmt.Printf("  inline: <undecodable: %v>\n", err)
				continue
			}
			fmt.Printf("  inline: %s\n", payload)
		case frame.KindName:
			fmt.Printf("  name: %s\n", frame.DecodeNameRecord(r.Data))
		case frame.KindMetadata:
			meta, err := frame.DecodeMetadata(r.Data)
			if err != nil {
				fmt.Printf("  metadata: <undecodable: %v>\n", err)
				continue
			}
			fmt.Printf("  metadata: %+v\n", meta)
		case frame.KindMemfd:
			ref, err := frame.DecodeMemfdRef(r.Data)
			if err != nil {
				fmt.Printf("  memfd: <undecodable: %v>\n", err)
				continue
			}
			fmt.Printf("  memfd: object=%d size=%d\n", ref.ObjectID, ref.Size)
		default:
			fmt.Printf("  record kind=%d len=%d\n", r.Kind, len(r.Data))
		}
	}
}

func runAddMatch(args []string) error {
	fs, socket := newFlagSet("add-match")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	generation := fs.Uint64("generation", 0, "match generation")
	bitsHex := fs.String("bits", "", "hex-encoded bloom filter bits (required)")
	senderID := fs.Uint64("sender-filter", 0, "restrict this mask to a single sender connection id (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *bitsHex == "" {
		return fmt.Errorf("--bits is required")
	}
	bits, err := hex.DecodeString(*bitsHex)
	if err != nil {
		return fmt.Errorf("decoding --bits: %w", err)
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	var senderFilter *uint64
	if *senderID != 0 {
		senderFilter = senderID
	}
	cookie, err := client.AddMatch(*generation, bits, senderFilter)
	if err != nil {
		return err
	}
	fmt.Printf("cookie %d\n", cookie)
	return nil
}

func runRemoveMatch(args []string) error {
	fs, socket := newFlagSet("remove-match")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	cookie := fs.Uint64("cookie", 0, "cookie returned by add-match (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *cookie == 0 {
		return fmt.Errorf("--cookie is required")
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	if err := client.RemoveMatch(*cookie); err != nil {
		return err
	}
	fmt.Println("removed")
	return nil
}
