// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// busctl is a scriptable command-line client for a running busd. Each
// invocation dials one bus endpoint socket, issues a single control
// operation (or a short session of them, for send/recv), and exits —
// there is no persistent busctl process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "busctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := args[0]
	rest := args[1:]

	switch subcommand {
	case "make-bus":
		return runMakeBus(rest)
	case "make-domain":
		return runMakeDomain(rest)
	case "ep-make":
		return runEndpointMake(rest)
	case "ep-policy-set":
		return runEndpointPolicySet(rest)
	case "hello":
		return runHello(rest)
	case "send":
		return runSend(rest)
	case "recv":
		return runRecv(rest)
	case "add-match":
		return runAddMatch(rest)
	case "remove-match":
		return runRemoveMatch(rest)
	case "name-acquire":
		return runNameAcquire(rest)
	case "name-release":
		return runNameRelease(rest)
	case "name-list":
		return runNameList(rest)
	case "memfd-new":
		return runMemfdNew(rest)
	case "memfd-seal":
		return runMemfdSeal(rest)
	case "memfd-unseal":
		return runMemfdUnseal(rest)
	case "stats":
		return runStats(rest)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: busctl <subcommand> [flags]

Bus and endpoint management:
  make-bus        Create a bus in the root domain
  make-domain     Create a sub-domain
  ep-make         Create a custom endpoint on a bus
  ep-policy-set   Replace an endpoint's policy overlay

Connection lifecycle and messaging:
  hello           Open a connection and print its connection id
  send            Send one message and exit
  recv            Receive and print messages
  add-match       Install a broadcast subscription mask
  remove-match    Remove a previously installed subscription

Name registry:
  name-acquire    Request ownership of a well-known name
  name-release    Release an owned name
  name-list       List registered names

Sealed memory:
  memfd-new       Allocate a sealed memory object
  memfd-seal      Seal an object against further writes
  memfd-unseal    Reverse a seal (requires refcount == 1)

Introspection:
  stats           Print a snapshot of every live connection

Run 'busctl <subcommand> --help' for subcommand flags. Every
subcommand requires --socket, the path to a bus endpoint socket
served by busd.
`)
}

// newFlagSet builds a pflag.FlagSet for one subcommand and registers
// the --socket flag every subcommand shares.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	socket := fs.String("socket", "", "path to a bus endpoint socket (required)")
	return fs, socket
}

func requireSocket(fs *pflag.FlagSet, socket string) error {
	if socket == "" {
		fs.Usage()
		return fmt.Errorf("--socket is required")
	}
	return nil
}
