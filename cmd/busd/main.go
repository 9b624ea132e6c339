// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/busline/busd/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configFlag string
	flag.StringVar(&configFlag, "config", "", "path to busd YAML config (overrides BUSD_CONFIG)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	path, err := configPath(configFlag)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if len(cfg.Buses) == 0 {
		return fmt.Errorf("config %s defines no buses", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	domain := core.NewRootDomainWithLogger(logger)
	control := core.OpenControl(domain)
	defer control.Close()

	var wg sync.WaitGroup
	for _, busCfg := range cfg.Buses {
		bus, err := control.MakeBus(busCfg.Name, 0, busCfg.Mode, busCfg.UID, busCfg.GID)
		if err != nil {
			return fmt.Errorf("creating bus %s: %w", busCfg.Name, err)
		}
		endpoint, err := bus.DefaultEndpoint()
		if err != nil {
			return fmt.Errorf("opening default endpoint of bus %s: %w", busCfg.Name, err)
		}

		listener, err := listenUnix(busCfg.SocketPath, busCfg.Mode)
		if err != nil {
			return fmt.Errorf("listening for bus %s: %w", busCfg.Name, err)
		}

		memfds := newMemfdRegistry()
		busLogger := logger.With("bus", busCfg.Name, "socket", busCfg.SocketPath)
		busLogger.Info("bus listening", "pool_size", busCfg.PoolSize)

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveBus(ctx, listener, bus, endpoint, memfds, busLogger)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// listenUnix removes any stale socket file, listens, and applies the
// configured mode, following the teacher's lib/service.SocketServer
// convention of owning the socket file's lifetime end to end.
func listenUnix(path string, mode uint32) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}

	if mode != 0 {
		if err := os.Chmod(path, os.FileMode(mode)); err != nil {
			listener.Close()
			return nil, fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return listener, nil
}

// serveBus accepts connections on one bus's default-endpoint socket
// until ctx is cancelled, spawning a session per connection.
func serveBus(ctx context.Context, listener net.Listener, bus *core.Bus, endpoint *core.Endpoint, memfds *memfdRegistry, logger *slog.Logger) {
	defer func() {
		listener.Close()
		if unixAddr, ok := listener.Addr().(*net.UnixAddr); ok {
			os.Remove(unixAddr.Name)
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var sessions sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error("accept failed", "error", err)
			continue
		}

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			newSession(conn, bus, endpoint, memfds, logger).run()
		}()
	}
	sessions.Wait()
}
