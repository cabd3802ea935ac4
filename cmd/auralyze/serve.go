package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/auralyze/internal/app"
	"github.com/MrWong99/auralyze/internal/config"
	"github.com/MrWong99/auralyze/internal/observe"
)

// shutdownGrace is added to stream.shutdown_timeout for the remaining
// teardown steps.
const shutdownGrace = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and streaming server",
		Long: `Run the HTTP API and the websocket streaming endpoint.

The log level and the session limits (stream.max_concurrent_sessions,
stream.session_idle_timeout) are reloaded when the config file changes.
Other settings require a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *globalOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	if opts.verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(newLogger(os.Stderr, level))

	slog.Info("auralyze starting",
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	appOpts := []app.Option{app.WithLevelVar(level)}
	if _, err := os.Stat(opts.configPath); err == nil {
		appOpts = append(appOpts, app.WithConfigPath(opts.configPath))
	}
	application, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return err
	}

	printStartupSummary(cfg)
	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Stream.ShutdownTimeout+shutdownGrace)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Auralyze: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Classifier", cfg.Classifier.Name)
	for _, fb := range cfg.Classifier.Fallbacks {
		printRow("  fallback", fb.Name)
	}
	printRow("Sample format", fmt.Sprintf("%s @ %d Hz", cfg.Audio.SampleFormat, cfg.Audio.SampleRate))
	printRow("Window", fmt.Sprintf("%d samples", cfg.Audio.WindowSize))
	printRow("Max sessions", fmt.Sprint(cfg.Stream.MaxConcurrentSessions))
	if cfg.Storage.PostgresDSN != "" {
		printRow("Storage", "postgres")
	} else {
		printRow("Storage", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s  : %-19s ║\n", key, value)
}
