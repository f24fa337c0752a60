package teamspeak

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	packets chan VoicePacket
	closed  chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{packets: make(chan VoicePacket, 16), closed: make(chan struct{})}
}

func (f *fakeSession) Recv(ctx context.Context) (VoicePacket, error) {
	select {
	case p, ok := <-f.packets:
		if !ok {
			return VoicePacket{}, io.EOF
		}
		return p, nil
	case <-f.closed:
		return VoicePacket{}, io.EOF
	case <-ctx.Done():
		return VoicePacket{}, ctx.Err()
	}
}

func (f *fakeSession) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func testIngestor(t *testing.T) *Ingestor {
	t.Helper()
	target := URL{Host: "voice.example.com", Port: DefaultPort, Channel: "Lobby"}
	return NewIngestor(target, nil, zerolog.Nop())
}

func TestIngestor_Name(t *testing.T) {
	ing := testIngestor(t)
	assert.Equal(t, "teamspeak:Lobby", ing.Name())
}

func TestIngestor_RunSession_EmitsSilenceWhenNoTalkers(t *testing.T) {
	ing := testIngestor(t)
	session := newFakeSession()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.runSession(ctx, session) }()

	reader := bufio.NewReaderSize(ing.Reader(), FrameBytes*2)
	buf := make([]byte, FrameBytes)
	_, err := io.ReadFull(reader, buf)
	require.NoError(t, err)

	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	assert.True(t, allZero, "expected a silent frame when no talkers are active")

	cancel()
	<-done
}

func TestIngestor_RunSession_DropsUndecodablePacketsAndContinues(t *testing.T) {
	ing := testIngestor(t)
	session := newFakeSession()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ing.runSession(ctx, session) }()

	session.packets <- VoicePacket{ClientID: 1, Opus: []byte{0xFF, 0xFF, 0xFF}}

	reader := bufio.NewReaderSize(ing.Reader(), FrameBytes*2)
	buf := make([]byte, FrameBytes)
	_, err := io.ReadFull(reader, buf)
	assert.NoError(t, err, "an undecodable packet must not stall the tick loop")
}

func TestIngestor_RunSession_EndsOnSessionEOF(t *testing.T) {
	ing := testIngestor(t)
	session := newFakeSession()

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(session.packets)
	}()

	go func() {
		_, _ = io.Copy(io.Discard, ing.Reader())
	}()

	err := ing.runSession(context.Background(), session)
	assert.ErrorIs(t, err, io.EOF)
}

func TestIngestor_BackoffWithSilence_WritesSilenceAndReturns(t *testing.T) {
	ing := testIngestor(t)
	ing.backoff.RecordFailure() // 1s (twice the base delay), short enough for a test

	go func() {
		_, _ = io.Copy(io.Discard, ing.Reader())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := ing.backoffWithSilence(ctx)
	assert.NoError(t, err)
}

func TestIngestor_BackoffWithSilence_RespectsContextCancellation(t *testing.T) {
	ing := testIngestor(t)
	for i := 0; i < 20; i++ {
		ing.backoff.RecordFailure() // push delay well past the test's cancellation
	}

	go func() {
		_, _ = io.Copy(io.Discard, ing.Reader())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ing.backoffWithSilence(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
