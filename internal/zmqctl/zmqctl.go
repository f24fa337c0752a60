// SPDX-License-Identifier: MIT

// Package zmqctl implements a REQ client that sends the ffmpeg `azmq`
// sink's plain-ASCII tuning commands (volume@orig, volume@mix,
// adelay@mix) to a running mixed-output unit's filter graph, so the
// reconciler can retune a mixin's volume/delay without restarting its
// ffmpeg process. Sends are retried up to 3 times with 200ms jitter;
// failure surfaces as a warning but does not tear down the unit.
package zmqctl

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/metrics"
)

// maxAttempts and jitter implement spec.md §4.6's retry policy exactly:
// up to 3 attempts, 200ms of jitter between them.
const (
	maxAttempts  = 3
	retryJitter  = 200 * time.Millisecond
	replyTimeout = 2 * time.Second
)

// Client sends tuning commands to one unit's azmq REQ endpoint.
type Client struct {
	addr   string // tcp://127.0.0.1:<port>
	logger zerolog.Logger
}

// NewClient builds a Client targeting the ZMQ endpoint ffmpeg.ZMQPort
// derives for a unit.
func NewClient(addr string, logger zerolog.Logger) *Client {
	return &Client{addr: addr, logger: logger}
}

// SetVolume sends `volume@<label> volume <factor>` where factor is
// spec.md §4.6's 0..10.0 rate (1.0 == 100%).
func (c *Client) SetVolume(ctx context.Context, label string, factor float64) error {
	return c.send(ctx, fmt.Sprintf("volume@%s volume %.3f", label, factor))
}

// SetDelay sends `adelay@mix reinit delays=<ms>|all=1`.
func (c *Client) SetDelay(ctx context.Context, delayMs int64) error {
	return c.send(ctx, fmt.Sprintf("adelay@mix reinit delays=%d|all=1", delayMs))
}

// send dials a fresh REQ socket, writes cmd terminated by a newline
// (spec.md §4.6), and reads the reply, retrying up to maxAttempts times
// with jitter between tries. A new socket per attempt avoids getting
// stuck on a REQ socket that's mid-request when a prior attempt timed
// out (REQ sockets are strictly request-reply and cannot be reused
// after an unanswered send).
func (c *Client) send(ctx context.Context, cmd string) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.sendOnce(ctx, cmd)
		if err == nil {
			metrics.ZmqControlRequestsTotal.WithLabelValues(commandName(cmd), "ok").Inc()
			return nil
		}
		lastErr = err

		if attempt < maxAttempts {
			wait := time.Duration(rand.Int63n(int64(retryJitter))) // #nosec G404 -- jitter, not security-sensitive
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				metrics.ZmqControlRequestsTotal.WithLabelValues(commandName(cmd), "failed").Inc()
				return ctx.Err()
			}
		}
	}

	c.logger.Warn().Str("addr", c.addr).Str("cmd", cmd).Err(lastErr).Msg("zmq control command failed after retries")
	metrics.ZmqControlRequestsTotal.WithLabelValues(commandName(cmd), "failed").Inc()
	return lastErr
}

func (c *Client) sendOnce(ctx context.Context, cmd string) error {
	sendCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	sock := zmq4.NewReq(sendCtx)
	defer func() { _ = sock.Close() }()

	if err := sock.Dial(c.addr); err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	if err := sock.Send(zmq4.NewMsgString(cmd + "\n")); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if _, err := sock.Recv(); err != nil {
		return fmt.Errorf("recv reply: %w", err)
	}
	return nil
}

// commandName extracts the label (e.g. "volume@orig") a command
// targets, for the outcome metric's "command" dimension.
func commandName(cmd string) string {
	for i, r := range cmd {
		if r == ' ' {
			return cmd[:i]
		}
	}
	return cmd
}
