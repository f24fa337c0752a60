// SPDX-License-Identifier: MIT

// Command restreamerd is the live-streaming control plane daemon: it
// loads its configuration, runs boot preflight checks, starts SRS and
// the reconcile loop under a shared supervision tree, and serves the
// API/callback/metrics HTTP surface until signalled to stop.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/restreamerd/restreamerd/internal/api"
	"github.com/restreamerd/restreamerd/internal/bus"
	"github.com/restreamerd/restreamerd/internal/callback"
	"github.com/restreamerd/restreamerd/internal/config"
	"github.com/restreamerd/restreamerd/internal/diagnostics"
	"github.com/restreamerd/restreamerd/internal/lock"
	"github.com/restreamerd/restreamerd/internal/mixinfeed"
	"github.com/restreamerd/restreamerd/internal/netutil"
	"github.com/restreamerd/restreamerd/internal/reconciler"
	"github.com/restreamerd/restreamerd/internal/srsapi"
	"github.com/restreamerd/restreamerd/internal/srsconfig"
	"github.com/restreamerd/restreamerd/internal/state"
	"github.com/restreamerd/restreamerd/internal/supervisor"
	"github.com/restreamerd/restreamerd/internal/teamspeak"
)

// Exit codes per spec.md §6: processes are restarted by the init system,
// never by restreamerd itself, so these only need to distinguish "retry
// me" (1) from "fix the invocation" (2) for the operator/init system.
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is main's body, extracted so tests can drive it without an os.Exit.
func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	logger := newLogger(cfg.LogLevel)

	fileLock, err := lock.NewFileLock(stateLockPath(cfg.StatePath))
	if err != nil {
		logger.Error().Err(err).Msg("failed to prepare state lock")
		return exitFatal
	}
	if err := fileLock.Acquire(lock.DefaultAcquireTimeout); err != nil {
		logger.Error().Err(err).Msg("another restreamerd instance holds the state lock")
		return exitFatal
	}
	defer fileLock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopOnSignal(ctx, cancel, logger)

	report := diagnostics.Run(ctx, diagnostics.Options{
		SRSPath:    cfg.SRSPath,
		SRSHTTPDir: cfg.SRSHTTPDir,
		StatePath:  cfg.StatePath,
		HTTPPort:   cfg.HTTPPort,
	})
	for _, check := range report.Checks {
		logCheck(logger, check)
	}
	if !report.Healthy() {
		logger.Error().Msg("preflight checks failed, refusing to start")
		return exitFatal
	}

	callbackHost, err := netutil.ResolveHost(cfg.CallbackHost, netutil.OutboundIP)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve callback host")
		return exitFatal
	}
	publicHost, err := netutil.ResolveHost(cfg.PublicHost, netutil.FirstNonLoopbackIP)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve public host")
		return exitFatal
	}

	kdfCost, err := cfg.ResolveKDFCost()
	if err != nil {
		// unreachable: config.Load already validated this, but a stale
		// Config value reaching here shouldn't be treated as a usage error.
		logger.Error().Err(err).Msg("invalid password-kdf-cost")
		return exitFatal
	}

	callbackSecret, err := newCallbackSecret()
	if err != nil {
		logger.Error().Err(err).Msg("failed to generate callback secret")
		return exitFatal
	}

	eventBus := bus.New(state.State{})
	store, err := state.NewStore(state.Config{
		SnapshotPath: cfg.StatePath,
		KDFCost:      kdfCost,
		OnChange:     eventBus.Publish,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to load state snapshot")
		return exitFatal
	}
	eventBus.Publish(store.View())

	srsConfigPath := filepath.Join(cfg.SRSHTTPDir, "restreamerd.srs.conf")
	srs := newSRSProcess(cfg.SRSPath, srsConfigPath, logger)

	renderOpts := srsconfig.Options{
		CallbackHost:   callbackHost,
		HTTPPort:       cfg.HTTPPort,
		SRSHTTPDir:     cfg.SRSHTTPDir,
		CallbackSecret: callbackSecret,
	}
	if err := srsconfig.WriteAndReload(srsConfigPath, 0, store.View(), renderOpts); err != nil {
		logger.Error().Err(err).Msg("failed to render initial srs config")
		return exitFatal
	}

	feeder := mixinfeed.New(teamspeak.UnimplementedVoiceDialer, "ffmpeg", logger)
	sup := supervisor.New(supervisor.Config{Logger: logger})

	recon := reconciler.New(reconciler.Config{
		Supervisor: sup,
		Store:      store,
		Bus:        eventBus,
		FFmpegPath: "ffmpeg",
		Targets: reconciler.Options{
			SRSHost: "127.0.0.1",
			DVRRoot: filepath.Join(cfg.SRSHTTPDir, "dvr"),
			HLSRoot: filepath.Join(cfg.SRSHTTPDir, "hls"),
		},
		SRSConfigPath:     srsConfigPath,
		SRSPid:            srs.Pid,
		RenderOpts:        renderOpts,
		OnMixedOutputUnit: feeder.Start,
		OnUnitStop:        feeder.Stop,
		Logger:            logger,
	})

	if err := sup.Add(srs); err != nil {
		logger.Error().Err(err).Msg("failed to register srs under supervision")
		return exitFatal
	}
	if err := sup.Add(reconcilerUnit{recon}); err != nil {
		logger.Error().Err(err).Msg("failed to register reconciler under supervision")
		return exitFatal
	}

	srsClient := srsapi.NewClient(fmt.Sprintf("http://127.0.0.1:%d", srsconfig.APIPort))
	if err := sup.Add(newSRSAPIWatchdog(srsClient, logger)); err != nil {
		logger.Error().Err(err).Msg("failed to register srs api watchdog under supervision")
		return exitFatal
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: buildMux(store, eventBus, publicHost, cfg, callbackSecret, logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("supervision tree exited unexpectedly")
		}
	}()

	logger.Info().Int("port", cfg.HTTPPort).Str("callback_host", callbackHost).Str("public_host", publicHost).Msg("restreamerd starting")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("http server failed to bind")
		cancel()
		wg.Wait()
		return exitFatal
	}

	wg.Wait()
	logger.Info().Msg("restreamerd stopped")
	return exitOK
}

// buildMux composes the three independently-owned route trees (API
// facade, SRS callback hooks, Prometheus metrics) into one handler.
func buildMux(store *state.Store, b *bus.Bus[state.State], publicHost string, cfg *config.Config, callbackSecret string, logger zerolog.Logger) http.Handler {
	apiSrv := api.New(api.Config{
		Store:       store,
		Bus:         b,
		PublicHost:  publicHost,
		DVRRoot:     filepath.Join(cfg.SRSHTTPDir, "dvr"),
		SRSHTTPAddr: fmt.Sprintf("127.0.0.1:%d", srsconfig.HTTPServerPort),
		Logger:      logger,
	})
	hooks := callback.NewHandler(store, []byte(callbackSecret), logger)

	mux := http.NewServeMux()
	mux.Handle("/srs/", hooks.Routes())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiSrv.Routes(nil))
	return mux
}

// newLogger builds the daemon's root zerolog.Logger, honoring
// --log-level (spec.md §6). An unparseable level falls back to info
// rather than failing boot over a cosmetic misconfiguration.
func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "restreamerd").Logger()
}

// stateLockPath derives the single-instance lock file path from the
// configured state snapshot path, so two daemons pointed at the same
// --state can never race on the same file.
func stateLockPath(statePath string) string {
	return statePath + ".lock"
}

// newCallbackSecret generates the shared secret SRS's hook requests
// authenticate with: SRS cannot sign its hooks, so the rendered config
// embeds it as a `token` query parameter on every hook URL. spec.md §6 names no CLI flag or env var for it: SRS
// never needs it to survive a restart (the rendered config embeds it
// fresh on every boot), so it lives only in memory.
func newCallbackSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate callback secret: %w", err)
	}
	return fmt.Sprintf("%x", buf), nil
}

// logCheck emits one preflight result at a level matching its severity.
func logCheck(logger zerolog.Logger, c diagnostics.CheckResult) {
	ev := logger.Info()
	switch c.Status {
	case diagnostics.StatusWarning:
		ev = logger.Warn()
	case diagnostics.StatusCritical:
		ev = logger.Error()
	}
	ev.Str("check", c.Name).Str("status", string(c.Status)).Dur("duration", c.Duration).Msg(c.Message)
}

// stopOnSignal cancels ctx on SIGINT/SIGTERM, restreamerd's graceful
// shutdown trigger (spec.md §6 exit code 0).
func stopOnSignal(ctx context.Context, cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
}

// reconcilerUnit adapts *reconciler.Reconciler to supervisor.Unit.
type reconcilerUnit struct {
	r *reconciler.Reconciler
}

func (u reconcilerUnit) Name() string                   { return "reconciler" }
func (u reconcilerUnit) Serve(ctx context.Context) error { return u.r.Run(ctx) }

// srsProcess supervises the SRS media server binary itself. No package
// in internal/ spawns it (internal/srsapi only ever talks to its
// already-running HTTP API), so the daemon entrypoint owns this.
//
// Shutdown follows internal/ffmpeg.Unit.terminateOnCancel's SIGTERM-
// then-SIGKILL contract, applied to the SRS child instead of an ffmpeg
// one.
type srsProcess struct {
	binPath    string
	configPath string
	logger     zerolog.Logger

	mu  sync.Mutex
	pid int
}

func newSRSProcess(srsRoot, configPath string, logger zerolog.Logger) *srsProcess {
	return &srsProcess{
		binPath:    filepath.Join(srsRoot, "objs", "srs"),
		configPath: configPath,
		logger:     logger.With().Str("unit", "srs").Logger(),
	}
}

func (p *srsProcess) Name() string { return "srs" }

// Pid returns the running child's PID, or 0 if SRS isn't up yet. Passed
// to reconciler.Config.SRSPid so config reloads can SIGHUP the right
// process.
func (p *srsProcess) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *srsProcess) Serve(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.binPath, "-c", p.configPath) // #nosec G204 -- binPath/configPath are operator-configured, not request input
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 3 * time.Second

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start srs: %w", err)
	}

	p.mu.Lock()
	p.pid = cmd.Process.Pid
	p.mu.Unlock()

	err := cmd.Wait()

	p.mu.Lock()
	p.pid = 0
	p.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// srsAPIWatchdogInterval bounds how often the SRS HTTP API's own
// reachability (distinct from the srs child process being alive, which
// the supervisor already tracks) is checked.
const srsAPIWatchdogInterval = 15 * time.Second

// srsAPIWatchdog periodically pings SRS's HTTP API, so a wedged API
// server (process alive, RTMP still flowing, but the control port stuck)
// is logged even though it never kills the process supervisor sees.
type srsAPIWatchdog struct {
	client *srsapi.Client
	logger zerolog.Logger
}

func newSRSAPIWatchdog(client *srsapi.Client, logger zerolog.Logger) *srsAPIWatchdog {
	return &srsAPIWatchdog{client: client, logger: logger.With().Str("unit", "srs-api-watchdog").Logger()}
}

func (w *srsAPIWatchdog) Name() string { return "srs-api-watchdog" }

func (w *srsAPIWatchdog) Serve(ctx context.Context) error {
	ticker := time.NewTicker(srsAPIWatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.client.Ping(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("srs http api unreachable")
			}
		}
	}
}
