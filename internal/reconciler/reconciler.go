// SPDX-License-Identifier: MIT

package reconciler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/bus"
	"github.com/restreamerd/restreamerd/internal/ffmpeg"
	"github.com/restreamerd/restreamerd/internal/metrics"
	"github.com/restreamerd/restreamerd/internal/srsconfig"
	"github.com/restreamerd/restreamerd/internal/state"
	"github.com/restreamerd/restreamerd/internal/supervisor"
	"github.com/restreamerd/restreamerd/internal/zmqctl"
)

// unitSupervisor is the subset of *supervisor.Supervisor the reconciler
// needs; a narrow interface so tests can fake it without a real suture
// tree.
type unitSupervisor interface {
	Add(unit supervisor.Unit) error
	Remove(name string, timeout time.Duration) error
}

// removeTimeout bounds how long Stop waits for a unit's cleanup before
// giving up and returning control to the reconcile loop (spec.md §4.7:
// "stop signals are fire-and-forget; cleanup is awaited in the background").
const removeTimeout = 5 * time.Second

// Config wires the Reconciler to the rest of the daemon.
type Config struct {
	Supervisor unitSupervisor
	Store      *state.Store
	Bus        *bus.Bus[state.State]
	FFmpegPath string // normally "ffmpeg", resolved via PATH

	Targets Options // localhost/path options for ComputeTargets

	SRSConfigPath string
	SRSPid        func() int // 0 if SRS isn't running yet
	RenderOpts    srsconfig.Options

	// OnMixedOutputUnit is notified whenever a KindMixedOutput unit is
	// (re)started, with the Target (carrying MixinSource, the Mixin's
	// ts:// or http(s) audio URL) and the live *ffmpeg.Unit whose
	// StdinPipe a feeder must write PCM into. cmd/restreamerd wires this
	// to start/attach the TeamSpeak ingestor or MP3 puller; nil if the
	// daemon doesn't support mixed outputs.
	OnMixedOutputUnit func(t Target, unit *ffmpeg.Unit)

	// OnUnitStop is notified with a unit's id whenever the reconciler
	// removes it, so a feeder started via OnMixedOutputUnit can be torn
	// down. Called for every removed unit, not only mixed-output ones.
	OnUnitStop func(unitID string)

	Logger zerolog.Logger
}

// Reconciler runs the single control loop (spec.md §4.7): on every new
// State value from the Reactive Bus, it diffs the target unit set
// against what's running and converges, then republishes the SRS config
// if the set of stream keys changed.
type Reconciler struct {
	cfg Config

	prevTargets []Target
	prevKeys    map[string]bool
}

// New builds a Reconciler. Call Run to start the loop.
func New(cfg Config) *Reconciler {
	return &Reconciler{cfg: cfg, prevKeys: make(map[string]bool)}
}

// Run subscribes to the Bus and reconciles on every emission until ctx
// is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	sub := r.cfg.Bus.Subscribe()
	defer sub.Close()

	for {
		s, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		start := time.Now()
		r.reconcileOnce(ctx, s)
		metrics.ObserveReconcile(time.Since(start))
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context, s state.State) {
	next := ComputeTargets(s, r.cfg.Targets)
	delta := diffTargets(r.prevTargets, next)

	for _, id := range delta.Stop {
		r.stopUnit(id)
	}
	for _, t := range delta.Start {
		r.startUnit(t)
	}
	for _, tune := range delta.Tune {
		r.tuneUnit(ctx, tune)
	}
	r.prevTargets = next

	keys := streamKeys(s)
	if !keysEqual(keys, r.prevKeys) {
		r.reloadSRSConfig(s)
		r.prevKeys = keys
	}
}

// stopUnit signals a unit's removal and awaits its cleanup on a
// background goroutine so a slow-exiting child never blocks the
// reconcile loop's next tick.
func (r *Reconciler) stopUnit(id string) {
	if r.cfg.OnUnitStop != nil {
		r.cfg.OnUnitStop(id)
	}
	go func() {
		if err := r.cfg.Supervisor.Remove(id, removeTimeout); err != nil {
			r.cfg.Logger.Warn().Str("unit", id).Err(err).Msg("failed to remove supervised unit")
		}
	}()
}

// startUnit spawns a new ffmpeg.Unit for t, wiring its OnlineConfirmer
// and status callback according to how this unit's completion is
// actually observable (spec.md §4.4's per-kind confirmation: the SRS
// callback handler for RTMP-published targets, a file stat poll for
// HLS; other output kinds have no externally observable "accepted"
// signal, so the process starting is treated as the confirmation).
func (r *Reconciler) startUnit(t Target) {
	confirm, statusFn := r.confirmAndStatus(t)

	unit := ffmpeg.NewUnit(t.Spec, r.cfg.FFmpegPath, r.cfg.Logger, confirm, statusFn)
	if err := r.cfg.Supervisor.Add(unit); err != nil {
		r.cfg.Logger.Error().Str("unit", t.ID).Err(err).Msg("failed to add supervised unit")
		return
	}
	if t.Spec.Kind == ffmpeg.KindMixedOutput && r.cfg.OnMixedOutputUnit != nil {
		r.cfg.OnMixedOutputUnit(t, unit)
	}
}

func (r *Reconciler) confirmAndStatus(t Target) (ffmpeg.OnlineConfirmer, func(state.Status)) {
	switch {
	case t.Spec.Kind == ffmpeg.KindHLSProducer:
		path := fmt.Sprintf("%s/%s/%s.m3u8", t.Spec.HLSRoot, t.Spec.RestreamKey, t.Spec.EndpointKey)
		return confirmFileExists(path), r.endpointStatusFn(t.EndpointID)

	case t.EndpointID != "":
		// Pull-input / failover-mirror units publish into local SRS;
		// internal/callback's on_publish hook is the real confirmation
		// and already owns this endpoint's Status, so the unit itself
		// reports no opinion.
		return nil, nil

	case t.OutputID != "":
		return nil, r.outputStatusFn(t.RestreamKey, t.OutputID)

	default:
		return nil, nil
	}
}

func (r *Reconciler) endpointStatusFn(endpointID string) func(state.Status) {
	if endpointID == "" {
		return nil
	}
	return func(st state.Status) {
		r.cfg.Store.SetEndpointStatus(endpointID, st)
	}
}

func (r *Reconciler) outputStatusFn(restreamKey, outputID string) func(state.Status) {
	return func(st state.Status) {
		r.cfg.Store.SetOutputStatus(outputID, st)
		metrics.OutputStatus.WithLabelValues(restreamKey, outputID).Set(metrics.StatusValue(int(st)))
	}
}

// confirmFileExists polls for path to appear, succeeding as soon as it
// does or failing when ctx is cancelled first.
func confirmFileExists(path string) ffmpeg.OnlineConfirmer {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			if _, err := os.Stat(path); err == nil {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// tuneUnit dispatches a ZMQ volume/delay adjustment to an already-running
// KindMixedOutput unit's filter graph, without a restart (spec.md §4.7
// point 3). The ZMQ endpoint address is derived the same deterministic
// way the unit's own filter graph bound it: ffmpeg.ZMQPort(unitID).
func (r *Reconciler) tuneUnit(ctx context.Context, t Tune) {
	addr := fmt.Sprintf("tcp://127.0.0.1:%d", ffmpeg.ZMQPort(t.UnitID))
	client := zmqctl.NewClient(addr, r.cfg.Logger)

	if err := client.SetVolume(ctx, "orig", float64(t.OrigVolume)/100.0); err != nil {
		r.cfg.Logger.Warn().Str("unit", t.UnitID).Err(err).Msg("zmq tune volume@orig failed")
	}
	if err := client.SetVolume(ctx, "mix", float64(t.MixVolume)/100.0); err != nil {
		r.cfg.Logger.Warn().Str("unit", t.UnitID).Err(err).Msg("zmq tune volume@mix failed")
	}
	if err := client.SetDelay(ctx, t.Delay.Milliseconds()); err != nil {
		r.cfg.Logger.Warn().Str("unit", t.UnitID).Err(err).Msg("zmq tune delay failed")
	}
}

// reloadSRSConfig republishes the rendered SRS config and signals SRS
// with SIGHUP (spec.md §4.7 point 4). Failures are logged, not fatal:
// SRS keeps serving its last-loaded config until the next successful
// change detection retries the write.
func (r *Reconciler) reloadSRSConfig(s state.State) {
	pid := 0
	if r.cfg.SRSPid != nil {
		pid = r.cfg.SRSPid()
	}
	if err := srsconfig.WriteAndReload(r.cfg.SRSConfigPath, pid, s, r.cfg.RenderOpts); err != nil {
		r.cfg.Logger.Error().Err(err).Msg("failed to publish srs config")
	}
}

func streamKeys(s state.State) map[string]bool {
	out := make(map[string]bool, len(s.Restreams))
	for _, r := range s.Restreams {
		out[r.Key] = true
	}
	return out
}

func keysEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
