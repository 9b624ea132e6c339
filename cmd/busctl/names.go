// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/busline/busd/lib/busclient"
)

func runNameAcquire(args []string) error {
	fs, socket := newFlagSet("name-acquire")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	name := fs.String("name", "", "well-known name to acquire (required)")
	replaceExisting := fs.Bool("replace-existing", false, "become owner immediately, evicting the current owner if it allows replacement")
	allowReplacement := fs.Bool("allow-replacement", false, "allow a future replace-existing request to evict this ownership")
	queue := fs.Bool("queue", false, "queue for ownership instead of failing if the name is taken")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	var nameFlags uint8
	if *replaceExisting {
		nameFlags |= 1
	}
	if *allowReplacement {
		nameFlags |= 2
	}
	if *queue {
		nameFlags |= 4
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	outcome, err := client.RequestName(*name, nameFlags)
	if err != nil {
		return err
	}
	fmt.Println(outcome)
	return nil
}

func runNameRelease(args []string) error {
	fs, socket := newFlagSet("name-release")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	name := fs.String("name", "", "well-known name to release (required)")
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

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	if err := client.ReleaseName(*name); err != nil {
		return err
	}
	fmt.Println("released")
	return nil
}

func runNameList(args []string) error {
	fs, socket := newFlagSet("name-list")
	filter := fs.String("filter", "", "glob-style filter (empty matches everything)")
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

	names, err := client.ListNames(*filter)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
