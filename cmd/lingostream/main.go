// Command lingostream captures system or microphone audio, streams it to an
// Azure OpenAI realtime deployment for live translation, and plays the
// translated speech back while printing subtitle text.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/crcostac/lingostream/internal/config"
	"github.com/crcostac/lingostream/internal/engine"
	"github.com/crcostac/lingostream/internal/health"
	"github.com/crcostac/lingostream/internal/observe"
	"github.com/crcostac/lingostream/internal/scheduler"
	"github.com/crcostac/lingostream/pkg/audio"
	paudio "github.com/crcostac/lingostream/pkg/audio/portaudio"
	"github.com/crcostac/lingostream/pkg/realtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingostream: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingostream: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it at runtime.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("lingostream starting",
		"config", *configPath,
		"deployment", cfg.Azure.Deployment,
		"target_language", cfg.Translation.TargetLanguage,
		"capture_mode", cfg.Audio.CaptureMode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "lingostream",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Audio host ────────────────────────────────────────────────────────────
	if err := paudio.Initialize(); err != nil {
		slog.Error("failed to initialise audio host", "err", err)
		return 1
	}
	defer func() {
		if err := paudio.Terminate(); err != nil {
			slog.Warn("audio host terminate error", "err", err)
		}
	}()

	// ── Audio backend registry ────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, metrics)

	// ── Engine ────────────────────────────────────────────────────────────────
	eng, err := buildEngine(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start engine", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SchedulerChanged {
			slog.Info("scheduler tuning changed; takes effect on next start")
		}
		if d.RestartRequired {
			slog.Warn("connection or audio settings changed; restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Ops server + output consumers ─────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	var opsSrv *http.Server
	if cfg.Server.ListenAddr != "" {
		opsSrv = newOpsServer(cfg.Server.ListenAddr, eng, metrics)
		g.Go(func() error {
			slog.Info("ops server listening", "addr", cfg.Server.ListenAddr)
			if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error { return consumeText(gctx, eng) })
	g.Go(func() error {
		// Playback happens inside the engine's sink; the tap only needs
		// draining so the channel never backs up. The engine closes it on stop.
		audio.Drain(eng.Audio())
		return nil
	})
	g.Go(func() error { return consumeErrors(gctx, eng) })

	slog.Info("translation running — press Ctrl+C to stop")

	<-gctx.Done()
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down…")

	if err := eng.Stop(); err != nil {
		slog.Warn("engine stop error", "err", err)
	}
	if opsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops server shutdown error", "err", err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the audio backends that ship with lingostream
// into reg. Currently that is the PortAudio backend for both capture and
// playback.
func registerBuiltinBackends(reg *config.Registry, metrics *observe.Metrics) {
	reg.RegisterSource("portaudio", func(cfg config.AudioConfig, onChunk func(audio.Chunk), onError func(error)) (audio.Source, error) {
		return paudio.NewSource(paudio.SourceConfig{
			Format:        cfg.Format(),
			ChunkDuration: cfg.ChunkDuration.Std(),
			Mode:          cfg.CaptureMode.Mode(),
			OnChunk:       onChunk,
			OnError:       onError,
		})
	})

	reg.RegisterSink("portaudio", func(cfg config.AudioConfig, onError func(error)) (audio.Sink, error) {
		sink := paudio.NewSink(cfg.Format(),
			paudio.WithDepthObserver(func(delta int) {
				metrics.PlaybackQueueDepth.Add(context.Background(), int64(delta))
			}),
			paudio.WithErrorObserver(onError),
		)
		return sink, nil
	})

	slog.Debug("registered audio backend", "name", "portaudio")
}

// buildEngine assembles the realtime client, audio device builders, and
// scheduler tuning into an engine.
func buildEngine(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*engine.Engine, error) {
	format := cfg.Audio.Format()

	var clientOpts []realtime.Option
	if cfg.Azure.APIVersion != "" {
		clientOpts = append(clientOpts, realtime.WithAPIVersion(cfg.Azure.APIVersion))
	}
	client := realtime.NewClient(cfg.Azure.Endpoint, cfg.Azure.APIKey, cfg.Azure.Deployment, clientOpts...)

	dial := func(ctx context.Context) (engine.Session, error) {
		return client.Connect(ctx, realtime.SessionConfig{
			Format:            format,
			SourceLanguage:    cfg.Translation.SourceLanguage,
			TargetLanguage:    cfg.Translation.TargetLanguage,
			Voice:             cfg.Translation.Voice,
			MaxResponseTokens: cfg.Translation.MaxResponseTokens,
			Temperature:       cfg.Translation.Temperature,
		})
	}

	newSource := func(onChunk func(audio.Chunk), onError func(error)) (audio.Source, error) {
		return reg.CreateSource(cfg.Audio, onChunk, onError)
	}
	newSink := func(onError func(error)) (audio.Sink, error) {
		return reg.CreateSink(cfg.Audio, onError)
	}

	return engine.New(dial, newSource, newSink,
		engine.WithTuning(schedulerTuning(cfg.Scheduler, format)),
		engine.WithMetrics(metrics),
	)
}

// schedulerTuning converts the YAML scheduler settings into scheduler tuning,
// translating the minimum commit audio duration into a byte threshold for the
// session's PCM format.
func schedulerTuning(cfg config.SchedulerConfig, format audio.Format) scheduler.Tuning {
	t := scheduler.Tuning{
		MinCommitInterval:     cfg.MinCommitInterval.Std(),
		MaxCommitInterval:     cfg.MaxCommitInterval.Std(),
		InitialCommitInterval: cfg.InitialCommitInterval.Std(),
		IntervalAdjustment:    cfg.IntervalAdjustment.Std(),
		MaxPendingResponses:   cfg.MaxPendingResponses,
		SilenceThreshold:      cfg.SilenceThreshold.Std(),
	}
	if cfg.MinCommitAudio > 0 {
		t.MinCommitBytes = format.BytesFor(cfg.MinCommitAudio.Std())
	}
	return t
}

// ── Ops server ────────────────────────────────────────────────────────────────

// newOpsServer builds the operational HTTP server: health and readiness
// probes plus the Prometheus scrape endpoint, wrapped in the tracing
// middleware.
func newOpsServer(addr string, eng *engine.Engine, metrics *observe.Metrics) *http.Server {
	checks := health.New(
		health.Condition("session", eng.IsConfigured, "session not configured"),
		health.Condition("engine", eng.IsActive, "engine not active"),
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Output consumers ──────────────────────────────────────────────────────────

// consumeText prints translated text deltas to stdout as they arrive. Deltas
// within one response are fragments of a sentence, so they are printed without
// separators.
func consumeText(ctx context.Context, eng *engine.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delta, ok := <-eng.Text():
			if !ok {
				return nil
			}
			fmt.Print(delta)
			os.Stdout.Sync()
		}
	}
}

// consumeErrors logs non-fatal session errors and turns connection loss into
// a run-ending error.
func consumeErrors(ctx context.Context, eng *engine.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-eng.Errors():
			if !ok {
				return nil
			}
			if errors.Is(err, engine.ErrConnectionLost) {
				slog.Error("connection lost", "err", err)
				return err
			}
			slog.Warn("session error", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       lingostream — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Deployment", cfg.Azure.Deployment)
	source := cfg.Translation.SourceLanguage
	if source == "" {
		source = "(auto-detect)"
	}
	printRow("Source lang", source)
	printRow("Target lang", cfg.Translation.TargetLanguage)
	printRow("Voice", cfg.Translation.Voice)
	printRow("Capture", string(cfg.Audio.CaptureMode))
	format := cfg.Audio.Format()
	printRow("Audio format", fmt.Sprintf("%d Hz / %d ch", format.SampleRate, format.Channels))
	if cfg.Server.ListenAddr != "" {
		printRow("Ops server", cfg.Server.ListenAddr)
	} else {
		printRow("Ops server", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
