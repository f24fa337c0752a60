// SPDX-License-Identifier: MIT

// Package config loads restreamerd's daemon configuration from CLI flags
// and EPHYR_RESTREAMER_* environment variables, mirroring spec.md §6's
// external interface.
package config

import (
	"fmt"

	"github.com/restreamerd/restreamerd/internal/state"
)

// Config is the complete daemon configuration assembled from flag
// defaults, explicitly passed flags, and environment overrides, in that
// order of increasing precedence.
type Config struct {
	HTTPPort        int    `koanf:"http_port"`
	CallbackHost    string `koanf:"callback_host"`
	SRSPath         string `koanf:"srs_path"`
	SRSHTTPDir      string `koanf:"srs_http_dir"`
	PublicHost      string `koanf:"public_host"`
	StatePath       string `koanf:"state"`
	LogLevel        string `koanf:"log_level"`
	PasswordKDFCost string `koanf:"password_kdf_cost"`
}

// KDFCostPreset names a state.KDFCost preset selectable via
// --password-kdf-cost.
type KDFCostPreset string

const (
	KDFCostLight    KDFCostPreset = "light"
	KDFCostModerate KDFCostPreset = "moderate"
	KDFCostHeavy    KDFCostPreset = "heavy"
)

var kdfCostPresets = map[KDFCostPreset]state.KDFCost{
	KDFCostLight:    {Time: 1, Memory: 16 * 1024, Threads: 2},
	KDFCostModerate: state.DefaultKDFCost,
	KDFCostHeavy:    {Time: 3, Memory: 128 * 1024, Threads: 4},
}

// ResolveKDFCost maps the configured preset name to a state.KDFCost.
func (c *Config) ResolveKDFCost() (state.KDFCost, error) {
	cost, ok := kdfCostPresets[KDFCostPreset(c.PasswordKDFCost)]
	if !ok {
		return state.KDFCost{}, fmt.Errorf("unknown password-kdf-cost preset %q", c.PasswordKDFCost)
	}
	return cost, nil
}

// Default returns the flag defaults named in spec.md §6. CallbackHost
// and PublicHost default to "" (auto-detect, resolved by internal/netutil
// at boot) rather than a literal address.
func Default() Config {
	return Config{
		HTTPPort:        80,
		CallbackHost:    "",
		SRSPath:         "/usr/local/srs",
		SRSHTTPDir:      "/var/www/srs",
		PublicHost:      "",
		StatePath:       "state.json",
		LogLevel:        "INFO",
		PasswordKDFCost: string(KDFCostModerate),
	}
}

// Validate checks for configuration values that would fail later in a
// confusing way if left unchecked.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.SRSPath == "" {
		return fmt.Errorf("srs-path must not be empty")
	}
	if c.SRSHTTPDir == "" {
		return fmt.Errorf("srs-http-dir must not be empty")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state path must not be empty")
	}
	if _, err := c.ResolveKDFCost(); err != nil {
		return err
	}
	return nil
}
