// SPDX-License-Identifier: MIT

// Package mixinfeed resolves a state.Mixin's Source URL into a live PCM
// byte stream and pipes it into a running mixed-output ffmpeg.Unit's
// stdin. It is the missing link between internal/reconciler's
// Target.MixinSource and internal/ffmpeg.Unit.StdinPipe: the reconciler
// only tunes volume/delay on an already-running unit, it never resolves
// where the second audio source actually comes from. Feed lifetime is
// owned here, started and torn down as the declared unit set changes,
// keyed by the same unit id the reconciler assigns.
package mixinfeed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/ffmpeg"
	"github.com/restreamerd/restreamerd/internal/teamspeak"
)

// mp3RetryDelay bounds how quickly a failed MP3 pull is retried, so a
// dead remote URL doesn't spin the host.
const mp3RetryDelay = 5 * time.Second

// Feeder owns the set of live mixin feeds, one per KindMixedOutput unit
// currently running.
type Feeder struct {
	dialer     teamspeak.VoiceDialer
	ffmpegPath string
	logger     zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Feeder. dialer is the TeamSpeak voice transport used for
// ts:// sources; ffmpegPath locates the ffmpeg binary used to decode
// http(s) MP3 sources to PCM.
func New(dialer teamspeak.VoiceDialer, ffmpegPath string, logger zerolog.Logger) *Feeder {
	return &Feeder{
		dialer:     dialer,
		ffmpegPath: ffmpegPath,
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start resolves mixinSource and begins feeding unit's stdin, replacing
// any feed already running for unitID. A malformed or unsupported
// mixinSource is logged and produces no feed — the unit then plays
// unmixed original audio rather than failing to start.
func (f *Feeder) Start(unitID, mixinSource string, unit *ffmpeg.Unit) {
	f.Stop(unitID)
	if mixinSource == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.cancels[unitID] = cancel
	f.mu.Unlock()

	logger := f.logger.With().Str("unit", unitID).Str("mixin_source", mixinSource).Logger()

	switch {
	case strings.HasPrefix(mixinSource, "ts://"):
		go f.runTeamspeak(ctx, mixinSource, unit, logger)
	case strings.HasPrefix(mixinSource, "http://"), strings.HasPrefix(mixinSource, "https://"):
		go f.runMP3(ctx, mixinSource, unit, logger)
	default:
		logger.Warn().Msg("unsupported mixin source scheme, feeding no audio")
	}
}

// Stop cancels unitID's feed, if one is running. Safe to call for a unit
// with no active feed.
func (f *Feeder) Stop(unitID string) {
	f.mu.Lock()
	cancel, ok := f.cancels[unitID]
	delete(f.cancels, unitID)
	f.mu.Unlock()
	if ok {
		cancel()
	}
}

// runTeamspeak negotiates and runs a TeamSpeak voice ingestor, copying
// its mixed PCM output into unit's stdin until ctx is cancelled or the
// ingestor ends. The ingestor owns its own reconnect-with-backoff loop
// (internal/teamspeak), so this only runs it once and relays the stream;
// a voice session that ends with io.EOF ends the ingestor, and with it
// this feed.
func (f *Feeder) runTeamspeak(ctx context.Context, mixinSource string, unit *ffmpeg.Unit, logger zerolog.Logger) {
	target, err := teamspeak.ParseURL(mixinSource)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid teamspeak mixin source")
		return
	}

	ingestor := teamspeak.NewIngestor(target, f.dialer, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ingestor.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("teamspeak ingestor exited")
		}
	}()

	f.relay(ctx, ingestor.Reader(), unit, logger)
	<-done
}

// runMP3 decodes an http(s) MP3 mixin source to raw PCM via a local
// ffmpeg subprocess, restarting it with a fixed delay if the remote
// stream drops (no reconnect-state to preserve, unlike the TeamSpeak
// voice session).
func (f *Feeder) runMP3(ctx context.Context, mixinSource string, unit *ffmpeg.Unit, logger zerolog.Logger) {
	if _, err := url.Parse(mixinSource); err != nil {
		logger.Warn().Err(err).Msg("invalid mp3 mixin source")
		return
	}

	for ctx.Err() == nil {
		if err := f.pullOnce(ctx, mixinSource, unit, logger); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("mp3 mixin puller exited, retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(mp3RetryDelay):
		}
	}
}

func (f *Feeder) pullOnce(ctx context.Context, mixinSource string, unit *ffmpeg.Unit, logger zerolog.Logger) error {
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-i", mixinSource,
		"-f", "s16le", "-ar", "48000", "-ac", "2",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...) // #nosec G204 -- mixinSource is an operator-configured Mixin.Source, not web request input

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open mp3 puller stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mp3 puller: %w", err)
	}

	f.relay(ctx, bufio.NewReader(stdout), unit, logger)
	return cmd.Wait()
}

// relay copies src into unit's stdin, waiting for StdinPipe to become
// available (the ffmpeg process may still be Spawning when the feed
// starts) and returning once ctx is cancelled, src hits EOF, or the
// write side errors.
func (f *Feeder) relay(ctx context.Context, src io.Reader, unit *ffmpeg.Unit, logger zerolog.Logger) {
	dst := waitForStdin(ctx, unit)
	if dst == nil {
		return
	}

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug().Err(err).Msg("mixin source read error")
			}
			return
		}
	}
}

const stdinPollInterval = 50 * time.Millisecond

func waitForStdin(ctx context.Context, unit *ffmpeg.Unit) io.WriteCloser {
	ticker := time.NewTicker(stdinPollInterval)
	defer ticker.Stop()
	for {
		if pipe := unit.StdinPipe(); pipe != nil {
			return pipe
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
