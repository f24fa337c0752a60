// SPDX-License-Identifier: MIT

package teamspeak

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/multiplay/go-ts3"
	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/backoff"
	"github.com/restreamerd/restreamerd/internal/metrics"
)

// reconnect backoff bounds from spec.md §4.3: "start 500ms, factor 2, cap 30s".
const (
	backoffBase   = 500 * time.Millisecond
	backoffCap    = 30 * time.Second
	backoffFactor = 2
	resetAfter    = 30 * time.Second
)

// VoicePacket is one Opus-encoded frame from one talker, as delivered by
// the TeamSpeak voice transport. ClientID identifies the talker so the
// ingestor can keep one opus.Decoder (and jitter buffer) per speaker.
type VoicePacket struct {
	ClientID uint16
	Opus     []byte
	LastInSequence bool // true if this is the last packet before silence (Opus FEC hint)
}

// VoiceSession receives decoded voice packets for the channel the
// session has joined. ServerQuery (go-ts3) only handles login/channel
// negotiation; the actual voice transport is a separate connection this
// interface abstracts, so tests can supply a fake without a real
// TeamSpeak server.
type VoiceSession interface {
	// Recv blocks until a voice packet arrives, ctx is cancelled, or the
	// session disconnects (io.EOF).
	Recv(ctx context.Context) (VoicePacket, error)
	Close() error
}

// VoiceDialer opens a VoiceSession for a negotiated ServerQuery session.
// In production this dials TeamSpeak's UDP voice protocol; tests supply
// a fake.
type VoiceDialer func(ctx context.Context, target URL) (VoiceSession, error)

// Ingestor implements supervisor.Unit, running the Serve loop spec.md
// §4.3 describes: negotiate session, decode+mix at 20ms ticks, emit
// silence when no one talks or while reconnecting, reconnect with
// backoff after a failed negotiation or a session error. A session that
// ends with io.EOF ends Serve instead.
type Ingestor struct {
	target  URL
	dialer  VoiceDialer
	logger  zerolog.Logger
	backoff *backoff.Policy

	pcmR *io.PipeReader
	pcmW *io.PipeWriter

	mu       sync.Mutex
	decoders map[uint16]*opus.Decoder
}

// NewIngestor builds an Ingestor for target, using dialer to establish
// the voice transport after ServerQuery session negotiation succeeds.
func NewIngestor(target URL, dialer VoiceDialer, logger zerolog.Logger) *Ingestor {
	r, w := io.Pipe()
	return &Ingestor{
		target:   target,
		dialer:   dialer,
		logger:   logger.With().Str("channel", target.Channel).Logger(),
		backoff:  backoff.New(backoffBase, backoffCap, backoffFactor, resetAfter),
		pcmR:     r,
		pcmW:     w,
		decoders: make(map[uint16]*opus.Decoder),
	}
}

// Name identifies this unit for internal/supervisor.
func (i *Ingestor) Name() string { return "teamspeak:" + i.target.Channel }

// Reader exposes the continuous 16-bit little-endian PCM byte stream
// (spec.md §4.3's "expose a readable byte stream"), normally wired to a
// KindMixedOutput ffmpeg Unit's stdin.
func (i *Ingestor) Reader() io.Reader { return i.pcmR }

// Serve negotiates a session, decodes and mixes voice at 20ms ticks
// until the session ends (io.EOF, per spec.md §4.3 "on EOF, the
// ingestor terminates, signalling its Supervisor") or ctx is cancelled,
// reconnecting with backoff in between while still emitting silence.
func (i *Ingestor) Serve(ctx context.Context) error {
	defer func() { _ = i.pcmW.Close() }()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		session, err := i.connect(ctx)
		if err != nil {
			i.logger.Warn().Err(err).Msg("teamspeak session negotiation failed, retrying")
			if eofErr := i.backoffWithSilence(ctx); eofErr != nil {
				return eofErr
			}
			continue
		}

		err = i.runSession(ctx, session)
		_ = session.Close()
		if err == io.EOF {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.TeamspeakReconnectsTotal.WithLabelValues(i.target.Channel).Inc()
		i.logger.Warn().Err(err).Msg("teamspeak voice session ended, reconnecting")
		if eofErr := i.backoffWithSilence(ctx); eofErr != nil {
			return eofErr
		}
	}
}

// connect negotiates the ServerQuery session (select the virtual server,
// move our query client to the target channel so we receive its voice
// traffic) and then dials the voice transport via the configured
// VoiceDialer. The ServerQuery connection itself is only needed for
// this negotiation; actual voice frames arrive over the separate
// transport VoiceDialer opens.
func (i *Ingestor) connect(ctx context.Context) (VoiceSession, error) {
	client, err := ts3.NewClient(fmt.Sprintf("%s:%d", i.target.Host, i.target.Port))
	if err != nil {
		return nil, fmt.Errorf("connect serverquery: %w", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := client.Exec(ts3.NewCmd("use").WithArgs(ts3.NewArg("sid", 1))); err != nil {
		return nil, fmt.Errorf("select virtual server: %w", err)
	}

	moveCmd := ts3.NewCmd("clientmove").WithArgs(ts3.NewArg("channel_path", i.target.Channel))
	if i.target.DisplayName != "" {
		moveCmd = moveCmd.WithArgs(ts3.NewArg("client_nickname", i.target.DisplayName))
	}
	if _, err := client.Exec(moveCmd); err != nil {
		return nil, fmt.Errorf("move to channel %q: %w", i.target.Channel, err)
	}

	return i.dialer(ctx, i.target)
}

// runSession reads voice packets until the session ends, decoding and
// accumulating them into per-tick mixes on a 20ms ticker, so the PCM
// output cadence is driven by wall-clock time, not packet arrival rate.
func (i *Ingestor) runSession(ctx context.Context, session VoiceSession) error {
	packets := make(chan VoicePacket, 64)
	recvErr := make(chan error, 1)

	go func() {
		for {
			pkt, err := session.Recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case packets <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	active := make(map[uint16][]int16)
	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-recvErr:
			return err
		case pkt := <-packets:
			pcm, err := i.decode(pkt)
			if err != nil {
				i.logger.Debug().Err(err).Uint16("client", pkt.ClientID).Msg("opus decode failed, dropping frame")
				continue
			}
			active[pkt.ClientID] = pcm
		case <-ticker.C:
			frame := i.mixActive(active)
			buf := make([]byte, FrameBytes)
			EncodeLE16(frame, buf)
			if _, err := i.pcmW.Write(buf); err != nil {
				return err
			}
			active = make(map[uint16][]int16)
		}
	}
}

func (i *Ingestor) mixActive(active map[uint16][]int16) []int16 {
	if len(active) == 0 {
		return SilenceFrame()
	}
	talkers := make([][]int16, 0, len(active))
	for _, pcm := range active {
		talkers = append(talkers, pcm)
	}
	return MixTick(talkers)
}

// decode runs one talker's Opus packet through its (lazily created,
// FEC-enabled) decoder.
func (i *Ingestor) decode(pkt VoicePacket) ([]int16, error) {
	i.mu.Lock()
	dec, ok := i.decoders[pkt.ClientID]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(SampleRate, Channels)
		if err != nil {
			i.mu.Unlock()
			return nil, fmt.Errorf("create opus decoder: %w", err)
		}
		i.decoders[pkt.ClientID] = dec
	}
	i.mu.Unlock()

	pcm := make([]int16, FrameInt16Len)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		return nil, err
	}
	return pcm[:n*Channels], nil
}

// backoffWithSilence waits the current backoff delay, writing silence
// frames on the usual 20ms cadence so the downstream ffmpeg unit is
// never starved during a reconnect attempt (spec.md §4.3).
func (i *Ingestor) backoffWithSilence(ctx context.Context) error {
	defer i.backoff.RecordFailure()

	deadline := time.Now().Add(i.backoff.CurrentDelay())
	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	buf := make([]byte, FrameBytes)
	EncodeLE16(SilenceFrame(), buf)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := i.pcmW.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}
