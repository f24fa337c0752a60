// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/backoff"
	"github.com/restreamerd/restreamerd/internal/metrics"
	"github.com/restreamerd/restreamerd/internal/state"
	"github.com/restreamerd/restreamerd/internal/util"
)

// terminateSignal is sent to a supervised child on shutdown before the
// SIGKILL escalation (spec.md §4.4 guarantee (a)).
const terminateSignal = syscall.SIGTERM

// UnitState is the FFmpeg Process Supervisor's state machine position
// (spec.md §4.4): Stopped -> Spawning -> Running -> Cooldown -> Spawning,
// with Stopped reachable from Running on an explicit disable.
type UnitState string

const (
	UnitStateStopped   UnitState = "stopped"
	UnitStateSpawning  UnitState = "spawning"
	UnitStateRunning   UnitState = "running"
	UnitStateCooldown  UnitState = "cooldown"
)

var allUnitStates = []string{
	string(UnitStateStopped), string(UnitStateSpawning),
	string(UnitStateRunning), string(UnitStateCooldown),
}

// runningThreshold is the minimum time a unit must stay Running before
// its exit is treated as a healthy run and the backoff delay resets to
// base (spec.md §4.4: "reset to base delay after a Running interval >= 30s").
const runningThreshold = 30 * time.Second

// OnlineConfirmer reports Online only once the downstream side (e.g. a
// playlist stat poll for HLS producers) has actually accepted the stream. It must
// return once confirmed, or when ctx is cancelled.
type OnlineConfirmer func(ctx context.Context) error

// Unit supervises one ffmpeg child process for one Spec, implementing
// supervisor.Unit so it runs under internal/supervisor's suture tree.
// It is itself the restart loop: Serve never returns except on a
// terminal Stopped transition or ctx cancellation.
type Unit struct {
	spec       Spec
	ffmpegPath string
	logger     zerolog.Logger
	backoff    *backoff.Policy
	confirm    OnlineConfirmer
	statusFn   func(state.Status)

	mu        sync.Mutex
	st        UnitState
	stdinPipe io.WriteCloser
	disabled  bool
}

// NewUnit builds a Unit. ffmpegPath is normally "ffmpeg" (resolved via
// PATH); confirm may be nil, in which case the unit reports Online as
// soon as the process starts (internal/reconciler passes a confirmer
// only for HLS producers). statusFn receives every Status
// transition as it happens, letting callers mirror it into
// internal/state's live status table and internal/metrics.
func NewUnit(spec Spec, ffmpegPath string, logger zerolog.Logger, confirm OnlineConfirmer, statusFn func(state.Status)) *Unit {
	return &Unit{
		spec:       spec,
		ffmpegPath: ffmpegPath,
		logger:     logger.With().Str("unit", spec.UnitID).Logger(),
		backoff:    backoff.New(500*time.Millisecond, 10*time.Second, 2, runningThreshold),
		confirm:    confirm,
		statusFn:   statusFn,
		st:         UnitStateStopped,
	}
}

// Name identifies this unit for internal/supervisor and internal/metrics.
func (u *Unit) Name() string { return u.spec.UnitID }

// State returns the unit's current state machine position.
func (u *Unit) State() UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.st
}

// Disable marks the unit Stopped (terminal) on its next loop iteration,
// matching spec.md §4.4's "Stopped: terminal until explicitly re-enabled".
func (u *Unit) Disable() {
	u.mu.Lock()
	u.disabled = true
	u.mu.Unlock()
}

// StdinPipe returns the process's stdin, available only once a
// KindMixedOutput unit has reached Spawning/Running; nil otherwise. The
// TeamSpeak ingestor writes raw PCM mixin audio here.
func (u *Unit) StdinPipe() io.WriteCloser {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stdinPipe
}

func (u *Unit) setState(s UnitState) {
	u.mu.Lock()
	u.st = s
	u.mu.Unlock()
	metrics.SetSupervisorState(u.spec.UnitID, string(s), allUnitStates)
}

func (u *Unit) setStatus(s state.Status) {
	if u.statusFn != nil {
		u.statusFn(s)
	}
}

// Serve runs the unit's Spawning/Running/Cooldown loop until ctx is
// cancelled or Disable is called, implementing supervisor.Unit.
func (u *Unit) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			u.setState(UnitStateStopped)
			u.setStatus(state.StatusOffline)
			return ctx.Err()
		}
		u.mu.Lock()
		disabled := u.disabled
		u.mu.Unlock()
		if disabled {
			u.setState(UnitStateStopped)
			u.setStatus(state.StatusOffline)
			return nil
		}

		runTime, err := u.spawnAndRun(ctx)
		if ctx.Err() != nil {
			u.setState(UnitStateStopped)
			u.setStatus(state.StatusOffline)
			return ctx.Err()
		}

		u.backoff.RecordOutcome(runTime)
		u.setState(UnitStateCooldown)
		u.setStatus(state.StatusOffline)
		u.logger.Warn().Err(err).Dur("run_time", runTime).Msg("ffmpeg unit exited, entering cooldown")

		if waitErr := u.backoff.Wait(ctx); waitErr != nil {
			u.setState(UnitStateStopped)
			return waitErr
		}
	}
}

// spawnAndRun renders the argument vector, starts ffmpeg, waits for
// Online confirmation in the background, and blocks until the process
// exits or ctx is cancelled (in which case the child is signalled per
// spec.md §4.4's SIGTERM-then-SIGKILL contract).
func (u *Unit) spawnAndRun(ctx context.Context) (time.Duration, error) {
	u.setState(UnitStateSpawning)
	u.setStatus(state.StatusInitializing)

	args, needsStdin, err := BuildArgs(u.spec)
	if err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, u.ffmpegPath, args...) // #nosec G204 -- args are built from validated Spec fields, not raw user input
	// terminateOnCancel does the shutdown signalling (stdin close, SIGTERM,
	// SIGKILL after 3s), so cancelling ctx must not kill the child itself.
	cmd.Cancel = func() error { return nil }

	var stdin io.WriteCloser
	if needsStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return 0, err
		}
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	u.mu.Lock()
	u.stdinPipe = stdin
	u.mu.Unlock()

	start := time.Now()
	u.setState(UnitStateRunning)

	confirmCtx, cancelConfirm := context.WithCancel(ctx)
	go u.waitForOnline(confirmCtx)

	stopCh := make(chan struct{})
	go u.terminateOnCancel(ctx, cmd, stopCh)

	waitErr := cmd.Wait()
	close(stopCh)
	cancelConfirm()

	u.mu.Lock()
	u.stdinPipe = nil
	u.mu.Unlock()

	return time.Since(start), waitErr
}

// waitForOnline calls the configured OnlineConfirmer and, once it
// returns successfully, reports the unit Online.
func (u *Unit) waitForOnline(ctx context.Context) {
	if u.confirm == nil {
		u.setStatus(state.StatusOnline)
		return
	}
	if err := u.confirm(ctx); err != nil {
		return
	}
	u.setStatus(state.StatusOnline)
}

// terminateOnCancel sends SIGTERM when ctx is cancelled, closing the
// child's stdin first so ffmpeg flushes cleanly (spec.md §4.4 guarantee
// (c)), then escalates to SIGKILL after 3s if the process hasn't exited.
func (u *Unit) terminateOnCancel(ctx context.Context, cmd *exec.Cmd, stopped <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stopped:
		return
	}

	if pipe := u.StdinPipe(); pipe != nil {
		_ = pipe.Close()
	}
	if cmd.Process != nil {
		_ = cmd.Process.Signal(terminateSignal)
	}

	select {
	case <-stopped:
		return
	case <-time.After(3 * time.Second):
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// SampleResources reads the running child's CPU/RSS via
// internal/util.SampleProcess and publishes it to internal/metrics. A
// no-op when the unit has no live process.
func (u *Unit) SampleResources(pid int) {
	sample, err := util.SampleProcess(pid)
	if err != nil {
		return
	}
	metrics.SupervisedUnitCPUSeconds.WithLabelValues(u.spec.UnitID).Set(float64(sample.CPUTicks) / float64(util.ClockTicksPerSecond))
	metrics.SupervisedUnitRSSBytes.WithLabelValues(u.spec.UnitID).Set(float64(sample.RSSBytes))
}
