// SPDX-License-Identifier: MIT

// Package backoff implements the exponential-backoff policy shared by
// every supervised retry loop in restreamerd: the FFmpeg process
// supervisor, the TeamSpeak ingestor's reconnect loop, and the ZMQ
// filter-graph sender's retry policy. A Policy is parameterized by
// base, factor, cap, and a reset-after-success duration.
package backoff

import (
	"context"
	"sync"
	"time"
)

// Policy implements exponential backoff with jitter-free doubling and a
// reset threshold: a run lasting at least ResetAfter is treated as a
// success and collapses the delay back to Base.
type Policy struct {
	mu sync.Mutex

	base       time.Duration
	factor     float64
	cap        time.Duration
	resetAfter time.Duration

	current             time.Duration
	attempts            int
	consecutiveFailures int
}

// New creates a Policy. factor must be > 1; a factor of 2 doubles the
// delay on every failure, as the spec's backoff descriptions assume.
func New(base, cap time.Duration, factor float64, resetAfter time.Duration) *Policy {
	if factor <= 1 {
		factor = 2
	}
	return &Policy{
		base:       base,
		factor:     factor,
		cap:        cap,
		resetAfter: resetAfter,
		current:    base,
	}
}

// RecordFailure doubles (times factor) the current delay, capped at Cap.
func (p *Policy) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	p.consecutiveFailures++

	next := time.Duration(float64(p.current) * p.factor)
	if next > p.cap || next <= 0 {
		next = p.cap
	}
	p.current = next
}

// RecordOutcome records the end of an attempt that ran for runTime. If
// runTime meets or exceeds ResetAfter the policy resets to Base; otherwise
// it behaves as RecordFailure (a short-lived run is not a success).
func (p *Policy) RecordOutcome(runTime time.Duration) {
	p.mu.Lock()
	reset := p.resetAfter > 0 && runTime >= p.resetAfter
	p.mu.Unlock()

	if reset {
		p.Reset()
		return
	}
	p.RecordFailure()
}

// Reset returns the policy to its initial delay and clears the
// consecutive-failure count; the Attempts total is kept.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.base
	p.consecutiveFailures = 0
}

// CurrentDelay returns the delay that the next wait will use.
func (p *Policy) CurrentDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Attempts returns the total number of recorded failures (RecordFailure
// calls, including short runs passed to RecordOutcome); a run long
// enough to reset the policy is not counted.
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// ConsecutiveFailures returns the number of outcomes since the last reset.
func (p *Policy) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFailures
}

// Wait blocks for the current delay or until ctx is cancelled.
func (p *Policy) Wait(ctx context.Context) error {
	delay := p.CurrentDelay()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
