// SPDX-License-Identifier: MIT

package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix every mirrored environment variable carries,
// per spec.md §6 ("EPHYR_RESTREAMER_* variables mirror every flag").
const EnvPrefix = "EPHYR_RESTREAMER_"

// flagSpecs declares every CLI flag's name and usage text. The koanf key
// of a flag is its name with dashes turned into underscores (flagToKey);
// Load lists each key and its default separately.
var flagSpecs = []struct {
	name  string
	usage string
}{
	{"http-port", "API + callback port"},
	{"callback-host", "host SRS uses to reach the HTTP callback (auto-detect if empty)"},
	{"srs-path", "SRS installation root"},
	{"srs-http-dir", "segment/DVR output root"},
	{"public-host", "host advertised to the UI (auto-detected public IP if empty)"},
	{"state", "snapshot path"},
	{"log-level", "zerolog level (debug, info, warn, error)"},
	{"password-kdf-cost", "Argon2id cost preset: light, moderate, heavy"},
}

// flagToKey maps a dash-separated flag name to its underscore-separated
// koanf/env key, e.g. "http-port" -> "http_port".
func flagToKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Load parses args (normally os.Args[1:]) as CLI flags, then overlays
// EPHYR_RESTREAMER_* environment variables, which take precedence over
// any flag value — including one explicitly passed on the command line.
// Values nobody set fall back to Default().
func Load(args []string) (*Config, error) {
	defaults := Default()

	fs := flag.NewFlagSet("restreamerd", flag.ContinueOnError)
	httpPort := fs.Int("http-port", defaults.HTTPPort, flagUsage("http-port"))
	callbackHost := fs.String("callback-host", defaults.CallbackHost, flagUsage("callback-host"))
	srsPath := fs.String("srs-path", defaults.SRSPath, flagUsage("srs-path"))
	srsHTTPDir := fs.String("srs-http-dir", defaults.SRSHTTPDir, flagUsage("srs-http-dir"))
	publicHost := fs.String("public-host", defaults.PublicHost, flagUsage("public-host"))
	statePath := fs.String("state", defaults.StatePath, flagUsage("state"))
	logLevel := fs.String("log-level", defaults.LogLevel, flagUsage("log-level"))
	kdfCost := fs.String("password-kdf-cost", defaults.PasswordKDFCost, flagUsage("password-kdf-cost"))

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]any{
		"http_port":         *httpPort,
		"callback_host":     *callbackHost,
		"srs_path":          *srsPath,
		"srs_http_dir":      *srsHTTPDir,
		"public_host":       *publicHost,
		"state":             *statePath,
		"log_level":         *logLevel,
		"password_kdf_cost": *kdfCost,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("load flag values: %w", err)
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, EnvPrefix)
			return strings.ToLower(k), v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// env.Provider hands every value back as a string; koanf's struct
	// tag unmarshaling of "http_port" as a string into an int field
	// fails, so re-read that one key through koanf's own Int accessor,
	// which parses numeric strings transparently.
	cfg.HTTPPort = k.Int("http_port")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func flagUsage(name string) string {
	for _, spec := range flagSpecs {
		if spec.name == name {
			return spec.usage
		}
	}
	return ""
}
