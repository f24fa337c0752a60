package netutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveHost_PrefersConfiguredOverDiscovery(t *testing.T) {
	called := false
	discover := func() (string, error) {
		called = true
		return "10.0.0.1", nil
	}

	host, err := ResolveHost("configured.example", discover)
	assert.NoError(t, err)
	assert.Equal(t, "configured.example", host)
	assert.False(t, called, "discover must not run when a host is explicitly configured")
}

func TestResolveHost_FallsBackToDiscoveryWhenUnconfigured(t *testing.T) {
	host, err := ResolveHost("", func() (string, error) { return "10.0.0.1", nil })
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1", host)
}

func TestResolveHost_PropagatesDiscoveryError(t *testing.T) {
	_, err := ResolveHost("", func() (string, error) { return "", errors.New("no route") })
	assert.Error(t, err)
}

func TestOutboundIP_ReturnsAnAddress(t *testing.T) {
	ip, err := OutboundIP()
	if err != nil {
		t.Skipf("no network route available in test environment: %v", err)
	}
	assert.NotEmpty(t, ip)
}

func TestFirstNonLoopbackIP_ReturnsAnAddressOrClearError(t *testing.T) {
	ip, err := FirstNonLoopbackIP()
	if err != nil {
		assert.Contains(t, err.Error(), "no non-loopback interface address found")
		return
	}
	assert.NotEmpty(t, ip)
}
