// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/busline/busd/lib/busclient"
)

func runStats(args []string) error {
	fs, socket := newFlagSet("stats")
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

	conns, err := client.Stats()
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		fmt.Println("no connections")
		return nil
	}
	for _, c := range conns {
		fmt.Printf("conn=%d endpoint=%s uid=%d gid=%d pid=%d mailbox=%d pool=%d/%d lossy=%v names=%v generations=%v\n",
			c.ID, c.Endpoint, c.UID, c.GID, c.PID, c.MailboxSize, c.PoolUsed, c.PoolCap, c.Lossy, c.OwnedNames, c.Generations)
	}
	return nil
}
