// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/busline/busd/lib/busclient"
)

func runMemfdNew(args []string) error {
	fs, socket := newFlagSet("memfd-new")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	size := fs.Uint64("size", 0, "object size in bytes (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *size == 0 {
		return fmt.Errorf("--size is required")
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	objectID, err := client.MemfdNew(*size)
	if err != nil {
		return err
	}
	fmt.Printf("object id %d\n", objectID)
	return nil
}

func runMemfdSeal(args []string) error {
	fs, socket := newFlagSet("memfd-seal")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	objectID := fs.Uint64("object-id", 0, "object id returned by memfd-new (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *objectID == 0 {
		return fmt.Errorf("--object-id is required")
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	if err := client.MemfdSeal(*objectID); err != nil {
		return err
	}
	fmt.Println("sealed")
	return nil
}

func runMemfdUnseal(args []string) error {
	fs, socket := newFlagSet("memfd-unseal")
	endpoint := fs.String("endpoint", "", "endpoint name (defaults to the socket's own endpoint)")
	poolSize := fs.Uint64("pool-size", 1<<20, "connection pool size in bytes")
	objectID := fs.Uint64("object-id", 0, "object id returned by memfd-new (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSocket(fs, *socket); err != nil {
		return err
	}
	if *objectID == 0 {
		return fmt.Errorf("--object-id is required")
	}

	client, err := busclient.Dial(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Hello("", *endpoint, *poolSize, 0); err != nil {
		return err
	}

	if err := client.MemfdUnseal(*objectID); err != nil {
		return err
	}
	fmt.Println("unsealed")
	return nil
}
