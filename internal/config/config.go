// Package config loads coordinator configuration from a YAML file, with
// environment variables overriding whatever the file sets. See doc.go
// for the full package documentation.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds everything the coordinator binary needs to start.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// DurableLogPath is where the pebble-backed durable log keeps its
	// files. Empty disables durability; the coordinator starts with an
	// empty ServerList every time.
	DurableLogPath string `yaml:"durable_log_path"`

	// RecoveryMasterFanout caps how many recovery masters a single
	// will is split across when its owner is hinted down.
	RecoveryMasterFanout int `yaml:"recovery_master_fanout"`

	// MembershipMaxRetries is how many times the membership updater
	// retries a failed push before declaring the recipient unreachable.
	MembershipMaxRetries int `yaml:"membership_max_retries"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Addr:                 ":8080",
		DurableLogPath:       "",
		RecoveryMasterFanout: 3,
		MembershipMaxRetries: 4,
	}
}

// Load reads YAML configuration from path, falling back to Default for
// any field the file doesn't set, then applies environment overrides.
// An empty path skips the file and loads Default plus environment
// overrides only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COORDINATOR_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("COORDINATOR_DURABLE_LOG_PATH"); v != "" {
		cfg.DurableLogPath = v
	}
	if v, ok := getenvInt("COORDINATOR_RECOVERY_MASTER_FANOUT"); ok {
		cfg.RecoveryMasterFanout = v
	}
	if v, ok := getenvInt("COORDINATOR_MEMBERSHIP_MAX_RETRIES"); ok {
		cfg.MembershipMaxRetries = v
	}
}

func getenvInt(k string) (int, bool) {
	v := os.Getenv(k)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
