// SPDX-License-Identifier: MIT

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFlagsOrEnv(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--http-port", "8080", "--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverridesExplicitFlag(t *testing.T) {
	t.Setenv("EPHYR_RESTREAMER_HTTP_PORT", "9443")

	cfg, err := Load([]string{"--http-port", "8080"})
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.HTTPPort)
}

func TestLoad_EnvSetsUnpassedFlag(t *testing.T) {
	t.Setenv("EPHYR_RESTREAMER_STATE", "/var/lib/restreamerd/state.json")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/restreamerd/state.json", cfg.StatePath)
}

func TestLoad_RejectsInvalidValueAfterMerge(t *testing.T) {
	_, err := Load([]string{"--password-kdf-cost", "bogus"})
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--does-not-exist", "x"})
	assert.Error(t, err)
}
