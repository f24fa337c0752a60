// Package supervisor runs the daemon's supervised units — the SRS child
// process, the reconciler, the SRS API watchdog, and the FFmpeg process
// units the reconciler adds — under a single suture supervision tree,
// restarting a unit that returns an error and reporting its state to
// internal/metrics.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/restreamerd/restreamerd/internal/metrics"
)

// knownStates lists every state a supervised unit's metric gauge can
// take, so internal/metrics.SetSupervisorState can zero the ones that
// aren't currently active.
var knownStates = []string{"running", "backoff", "stopped"}

// Unit is anything the supervisor manages: the SRS child process, the
// reconciler, the SRS API watchdog, and FFmpeg process units.
// Serve must block until ctx is cancelled or the unit hits an
// unrecoverable error; a returned error triggers a supervised restart.
type Unit interface {
	Name() string
	Serve(ctx context.Context) error
}

// Config configures the supervision tree's restart policy.
type Config struct {
	// FailureThreshold is the number of failures (decaying over time)
	// the tree can accumulate before suture enters backoff and pauses
	// restarts. Default: 5.
	FailureThreshold float64
	// FailureBackoff is how long suture pauses restarts once
	// FailureThreshold is exceeded, before resuming. Default: 5s.
	FailureBackoff time.Duration
	// Timeout bounds how long a unit may take to exit after its ctx is
	// cancelled before suture considers it stuck. Default: 10s.
	Timeout time.Duration

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 5 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Supervisor wraps a suture.Supervisor, tracking each added Unit's
// suture.ServiceToken by name so it can be removed later, and mirroring
// suture's lifecycle events into internal/metrics.
type Supervisor struct {
	cfg    Config
	sup    *suture.Supervisor
	logger zerolog.Logger

	mu     sync.Mutex
	tokens map[string]suture.ServiceToken
}

// New builds a Supervisor. Units are added via Add before Run is called.
func New(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()

	s := &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger,
		tokens: make(map[string]suture.ServiceToken),
	}

	s.sup = suture.New("restreamerd", suture.Spec{
		EventHook:        s.onEvent,
		FailureThreshold: cfg.FailureThreshold,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.Timeout,
	})

	return s
}

// suturedUnit adapts Unit to suture.Service and reports state
// transitions into internal/metrics around each Serve call.
type suturedUnit struct {
	unit Unit
}

func (u suturedUnit) Serve(ctx context.Context) error {
	metrics.SetSupervisorState(u.unit.Name(), "running", knownStates)
	err := u.unit.Serve(ctx)
	if ctx.Err() != nil {
		metrics.SetSupervisorState(u.unit.Name(), "stopped", knownStates)
		return err
	}
	metrics.SupervisedUnitExitsTotal.WithLabelValues(u.unit.Name(), exitReason(err)).Inc()
	metrics.SetSupervisorState(u.unit.Name(), "backoff", knownStates)
	return err
}

func exitReason(err error) string {
	if err == nil {
		return "clean"
	}
	return "error"
}

// Add registers a unit with the supervision tree. If the tree is
// already running (Run has been called), the unit starts immediately.
func (s *Supervisor) Add(unit Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := unit.Name()
	if _, exists := s.tokens[name]; exists {
		return fmt.Errorf("unit %q already registered", name)
	}

	token := s.sup.Add(suturedUnit{unit: unit})
	s.tokens[name] = token
	metrics.SetSupervisorState(name, "stopped", knownStates)
	return nil
}

// Remove stops and unregisters a unit, waiting up to timeout for it to
// exit cleanly.
func (s *Supervisor) Remove(name string, timeout time.Duration) error {
	s.mu.Lock()
	token, exists := s.tokens[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("unit %q not found", name)
	}
	delete(s.tokens, name)
	s.mu.Unlock()

	return s.sup.RemoveAndWait(token, timeout)
}

// Units returns the names of every currently registered unit.
func (s *Supervisor) Units() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tokens))
	for name := range s.tokens {
		names = append(names, name)
	}
	return names
}

// Run starts the supervision tree and blocks until ctx is cancelled,
// then waits for every unit to stop before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info().Int("units", len(s.tokens)).Msg("supervision tree starting")
	err := s.sup.Serve(ctx)
	s.logger.Info().Msg("supervision tree stopped")
	return err
}

// onEvent translates suture lifecycle events into restart/state metrics
// and a structured log line; it never blocks restart processing.
func (s *Supervisor) onEvent(ev suture.Event) {
	switch e := ev.(type) {
	case suture.EventServiceTerminate:
		metrics.SupervisedUnitRestartsTotal.WithLabelValues(e.ServiceName).Inc()
		s.logger.Warn().
			Str("unit", e.ServiceName).
			Err(e.Err).
			Msg("supervised unit terminated, restarting")
	case suture.EventServicePanic:
		metrics.SupervisedUnitRestartsTotal.WithLabelValues(e.ServiceName).Inc()
		s.logger.Error().
			Str("unit", e.ServiceName).
			Str("panic", e.PanicMsg).
			Msg("supervised unit panicked, restarting")
	case suture.EventBackoff:
		s.logger.Warn().Msg("supervision tree entering backoff, too many failures")
	case suture.EventResume:
		s.logger.Info().Msg("supervision tree resuming after backoff")
	case suture.EventStopTimeout:
		s.logger.Error().
			Str("unit", e.ServiceName).
			Msg("supervised unit did not stop within timeout")
	}
}
