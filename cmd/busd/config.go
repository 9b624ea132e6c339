// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is busd's configuration, loaded from a single YAML file
// selected by BUSD_CONFIG or --config. There is no fallback discovery
// and no environment-variable override of loaded values — same
// deliberate-no-magic policy as the rest of the corpus's config layer.
type Config struct {
	// Buses lists the buses to create at startup, each with its own
	// default-endpoint socket.
	Buses []BusConfig `yaml:"buses"`
}

// BusConfig describes one bus to create and the socket to expose its
// default endpoint on.
type BusConfig struct {
	Name       string `yaml:"name"`
	SocketPath string `yaml:"socket_path"`
	Mode       uint32 `yaml:"mode"`
	UID        uint32 `yaml:"uid"`
	GID        uint32 `yaml:"gid"`
	// PoolSize is a receive pool size in bytes that busd logs at
	// startup. It is not applied to connections: each connection's pool
	// is the size its HELLO requests.
	PoolSize uint64 `yaml:"pool_size"`
}

// LoadConfig reads and parses a busd configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	for i := range cfg.Buses {
		if cfg.Buses[i].PoolSize == 0 {
			cfg.Buses[i].PoolSize = 1 << 20
		}
	}
	return &cfg, nil
}

// configPath resolves the config file location from --config or
// BUSD_CONFIG, failing if neither is set.
func configPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("BUSD_CONFIG"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no config file: set BUSD_CONFIG or pass --config")
}
