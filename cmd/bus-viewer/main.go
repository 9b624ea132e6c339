// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

// bus-viewer is a read-only terminal UI for watching a bus's live
// state: connections, mailbox depths, owned names, and installed
// match generations. It polls busd's STATS command on an interval and
// never issues a mutating command of its own.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bus-viewer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var socket string
	var interval time.Duration

	flagSet := pflag.NewFlagSet("bus-viewer", pflag.ContinueOnError)
	flagSet.StringVar(&socket, "socket", "", "path to a bus endpoint socket (required)")
	flagSet.DurationVar(&interval, "interval", time.Second, "poll interval")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if socket == "" {
		printHelp(flagSet)
		return fmt.Errorf("--socket is required")
	}

	model, err := newModel(socket, interval)
	if err != nil {
		return err
	}
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bus-viewer — read-only terminal UI for a live bus.

Usage:
  bus-viewer --socket /path/to/bus.sock

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
