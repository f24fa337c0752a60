// SPDX-License-Identifier: MIT

package mixinfeed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/restreamerd/restreamerd/internal/ffmpeg"
	"github.com/restreamerd/restreamerd/internal/teamspeak"
)

func testUnit() *ffmpeg.Unit {
	return ffmpeg.NewUnit(ffmpeg.Spec{UnitID: "u1", Kind: ffmpeg.KindMixedOutput}, "/bin/false", zerolog.Nop(), nil, nil)
}

func noopDialer(ctx context.Context, target teamspeak.URL) (teamspeak.VoiceSession, error) {
	return nil, context.Canceled
}

func TestFeeder_StartStop_UnsupportedScheme(t *testing.T) {
	f := New(noopDialer, "/bin/false", zerolog.Nop())
	f.Start("u1", "ftp://example.invalid/x", testUnit())
	f.Stop("u1") // must not panic, even though no goroutine was spawned for an unsupported scheme
}

func TestFeeder_Start_ReplacesPriorFeed(t *testing.T) {
	f := New(noopDialer, "/bin/false", zerolog.Nop())

	f.Start("u1", "ts://127.0.0.1:1/chan", testUnit())
	f.mu.Lock()
	first := f.cancels["u1"]
	f.mu.Unlock()
	require.NotNil(t, first)

	f.Start("u1", "ts://127.0.0.1:1/chan", testUnit())
	f.mu.Lock()
	second := f.cancels["u1"]
	f.mu.Unlock()
	require.NotNil(t, second)

	f.Stop("u1")
	f.mu.Lock()
	_, stillPresent := f.cancels["u1"]
	f.mu.Unlock()
	require.False(t, stillPresent)
}

func TestFeeder_Stop_NoActiveFeedIsNoop(t *testing.T) {
	f := New(noopDialer, "/bin/false", zerolog.Nop())
	f.Stop("unknown")
}

func TestWaitForStdin_ReturnsNilWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	pipe := waitForStdin(ctx, testUnit())
	require.Nil(t, pipe)
}

func TestFeeder_Start_EmptySourceStartsNoFeed(t *testing.T) {
	f := New(noopDialer, "/bin/false", zerolog.Nop())
	f.Start("u1", "", testUnit())
	f.mu.Lock()
	_, present := f.cancels["u1"]
	f.mu.Unlock()
	require.False(t, present)
}
