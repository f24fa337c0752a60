package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restreamerd/restreamerd/internal/state"
)

// statusRecorder collects Status transitions from a Unit's statusFn
// callback, which may fire from a different goroutine than the test.
type statusRecorder struct {
	mu   sync.Mutex
	seen []state.Status
}

func (r *statusRecorder) record(s state.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *statusRecorder) has(target state.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.seen {
		if s == target {
			return true
		}
	}
	return false
}

// writeScript writes an executable shell script standing in for ffmpeg
// in tests, so Unit.Serve exercises real process spawn/signal/wait
// behavior without depending on an actual ffmpeg binary being present.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return path
}

func testSpec(id string) Spec {
	return Spec{
		Kind:      KindPullInput,
		UnitID:    id,
		Upstream:  "rtmp://origin.example.com/live/key",
		SourceURL: "rtmp://127.0.0.1:1935/restream/in",
	}
}

func TestUnit_Name(t *testing.T) {
	u := NewUnit(testSpec("unit-1"), "ffmpeg", zerolog.Nop(), nil, nil)
	assert.Equal(t, "unit-1", u.Name())
}

func TestUnit_Serve_RunsThenStopsOnCancel(t *testing.T) {
	script := writeScript(t, `trap 'exit 0' TERM; while true; do sleep 0.05; done`)

	statuses := &statusRecorder{}
	u := NewUnit(testSpec("unit-run"), script, zerolog.Nop(), nil, statuses.record)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- u.Serve(ctx) }()

	require.Eventually(t, func() bool { return u.State() == UnitStateRunning }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, UnitStateStopped, u.State())
	assert.True(t, statuses.has(state.StatusOffline))
}

func TestUnit_Serve_EntersCooldownOnFailure(t *testing.T) {
	script := writeScript(t, `exit 1`)

	u := NewUnit(testSpec("unit-fail"), script, zerolog.Nop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = u.Serve(ctx) }()

	require.Eventually(t, func() bool { return u.State() == UnitStateCooldown }, 2*time.Second, 5*time.Millisecond)
}

func TestUnit_Disable_StopsTheLoop(t *testing.T) {
	script := writeScript(t, `exit 1`)

	u := NewUnit(testSpec("unit-disable"), script, zerolog.Nop(), nil, nil)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- u.Serve(ctx) }()

	require.Eventually(t, func() bool { return u.State() == UnitStateCooldown }, 2*time.Second, 5*time.Millisecond)
	u.Disable()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not stop after Disable")
	}
	assert.Equal(t, UnitStateStopped, u.State())
}

func TestUnit_Serve_InvalidSpecReturnsErrorOnEveryAttempt(t *testing.T) {
	u := NewUnit(Spec{Kind: KindPullInput, UnitID: "unit-bad"}, "ffmpeg", zerolog.Nop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = u.Serve(ctx) }()

	require.Eventually(t, func() bool { return u.State() == UnitStateCooldown }, 2*time.Second, 5*time.Millisecond)
}

func TestUnit_StdinPipe_AvailableForMixedOutputWhileRunning(t *testing.T) {
	script := writeScript(t, `trap 'exit 0' TERM; cat >/dev/null & wait`)

	spec := Spec{
		Kind:        KindMixedOutput,
		UnitID:      "unit-mixed",
		SourceURL:   "rtmp://127.0.0.1:1935/restream/main",
		Destination: "rtmp://dest.example.com/live/key",
	}
	u := NewUnit(spec, script, zerolog.Nop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = u.Serve(ctx) }()
	defer cancel()

	require.Eventually(t, func() bool { return u.StdinPipe() != nil }, 2*time.Second, 10*time.Millisecond)
}

func TestUnit_OnlineConfirmer_ReportsOnlineOnlyAfterConfirm(t *testing.T) {
	script := writeScript(t, `trap 'exit 0' TERM; while true; do sleep 0.05; done`)

	confirmed := make(chan struct{})
	statuses := &statusRecorder{}
	u := NewUnit(testSpec("unit-confirm"), script, zerolog.Nop(),
		func(ctx context.Context) error {
			select {
			case <-confirmed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		statuses.record,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = u.Serve(ctx) }()

	require.Eventually(t, func() bool { return u.State() == UnitStateRunning }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, statuses.has(state.StatusOnline))

	close(confirmed)
	require.Eventually(t, func() bool { return statuses.has(state.StatusOnline) }, 2*time.Second, 10*time.Millisecond)
}
