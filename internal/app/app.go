// Package app wires all Auralyze subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// drains sessions and tears everything down in order.
//
// For testing, inject doubles via functional options (WithClassifier,
// WithStore). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/auralyze/internal/analysis"
	"github.com/MrWong99/auralyze/internal/api"
	"github.com/MrWong99/auralyze/internal/config"
	"github.com/MrWong99/auralyze/internal/health"
	"github.com/MrWong99/auralyze/internal/observe"
	"github.com/MrWong99/auralyze/internal/stream"
	"github.com/MrWong99/auralyze/internal/transport/ws"
	"github.com/MrWong99/auralyze/pkg/audio"
	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
	"github.com/MrWong99/auralyze/pkg/store"
	"github.com/MrWong99/auralyze/pkg/store/postgres"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

var (
	errDraining        = errors.New("server is draining")
	errResultsDegraded = errors.New("result log writes are failing")
)

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	level      *slog.LevelVar
	configPath string
	metrics    *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	classifier classifier.Classifier
	results    store.ResultLog
	exemplars  store.ExemplarIndex
	storage    health.Pinger
	guard      *stream.ResultGuard
	manager    *stream.Manager
	analyzer   *analysis.Analyzer
	api        *api.Server
	server     *http.Server
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClassifier injects a classifier instead of building one from config.
func WithClassifier(c classifier.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithStore injects the result log and exemplar index instead of connecting
// to PostgreSQL. Either may be nil.
func WithStore(results store.ResultLog, exemplars store.ExemplarIndex) Option {
	return func(a *App) {
		a.results = results
		a.exemplars = exemplars
	}
}

// WithLevelVar lets hot reload adjust the level of the caller's logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload: Run watches path and applies log level
// and session limit changes without a restart.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated. Nothing listens until [App.Run] is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(SlogLevel(cfg.Server.LogLevel))
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Classifier ────────────────────────────────────────────────────
	if err := a.initClassifier(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init classifier: %w", err)
	}

	// ── 3. File analysis ─────────────────────────────────────────────────
	analyzer, err := analysis.New(analysis.Config{
		Features: cfg.Audio.Features(),
		Raw: audio.RawFormat{
			Encoding:   cfg.Audio.Format(),
			SampleRate: cfg.Audio.SampleRate,
			Channels:   1,
		},
		ClassifierTimeout: cfg.Stream.ClassifierTimeout,
	}, a.classifier, a.metrics)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init analysis: %w", err)
	}
	a.analyzer = analyzer

	// ── 4. Streaming sessions ────────────────────────────────────────────
	if err := a.initStreaming(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init streaming: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage connects to PostgreSQL unless stores were injected or no DSN
// is configured.
func (a *App) initStorage(ctx context.Context) error {
	if a.results != nil || a.exemplars != nil {
		if p, ok := a.results.(health.Pinger); ok {
			a.storage = p
		}
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Info("storage disabled, results are not persisted")
		return nil
	}

	s, err := postgres.NewStore(ctx, dsn, a.cfg.Audio.FeatureCount)
	if err != nil {
		return err
	}
	a.results = s
	a.exemplars = s
	a.storage = s
	a.closers = append(a.closers, func() error {
		s.Close()
		return nil
	})
	slog.Info("storage connected", "dim", s.Dim())
	return nil
}

// initClassifier builds the classifier failover group from config unless one
// was injected.
func (a *App) initClassifier() error {
	if a.classifier != nil {
		return nil
	}
	reg := config.NewRegistry()
	RegisterBuiltinClassifiers(reg, a.exemplars, a.cfg.Audio.FeatureCount)
	c, err := BuildClassifier(a.cfg.Classifier, reg)
	if err != nil {
		return err
	}
	a.classifier = c
	return nil
}

// initStreaming creates the result guard and the session manager.
func (a *App) initStreaming() error {
	sc := a.cfg.Stream

	var recorder stream.Recorder
	if a.results != nil {
		a.guard = stream.NewResultGuard(a.results, a.cfg.Storage.ResultQueueDepth)
		recorder = a.guard
	}

	m, err := stream.NewManager(stream.ManagerConfig{
		MaxSessions:  sc.MaxConcurrentSessions,
		IdleTimeout:  sc.SessionIdleTimeout,
		ReapInterval: sc.ReapInterval,
		Session: stream.SessionConfig{
			Format:                 a.cfg.Audio.Format(),
			Features:               a.cfg.Audio.Features(),
			MaxChunkBytes:          sc.MaxChunkBytes,
			ClassifierTimeout:      sc.ClassifierTimeout,
			MaxConsecutiveFailures: sc.MaxConsecutiveFailures,
			SendTimeout:            sc.SendTimeout,
		},
		Classifier: a.classifier,
		Budget:     stream.NewBudget(sc.MaxBufferedBytes),
		Recorder:   recorder,
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}
	a.manager = m
	return nil
}

// initHTTP assembles the route table and the HTTP server.
func (a *App) initHTTP() error {
	sc := a.cfg.Server

	// Frames up to twice the chunk cap still reach the session so it can
	// answer with a ResourceExhausted error before closing.
	wsOpts := []ws.Option{ws.WithReadLimit(2 * int64(a.cfg.Stream.MaxChunkBytes))}
	if len(sc.AllowedOrigins) > 0 {
		wsOpts = append(wsOpts, ws.WithOriginPatterns(sc.AllowedOrigins...))
	}

	checkers := []health.Checker{
		health.ClassifierCheck(a.classifier),
		health.FlagCheck("draining", a.manager.Draining, errDraining),
	}
	if a.storage != nil {
		checkers = append(checkers, health.PingCheck("storage", a.storage))
	}
	if a.guard != nil {
		checkers = append(checkers, health.FlagCheck("results", a.guard.IsDegraded, errResultsDegraded))
	}

	srv, err := api.New(api.Config{
		Analyzer:       a.analyzer,
		Catalog:        features.Catalog(a.cfg.Audio.Features()),
		Stream:         ws.NewHandler(a.manager, wsOpts...),
		Health:         health.New(checkers...),
		MetricsHandler: promhttp.Handler(),
		Metrics:        a.metrics,
		MaxUploadBytes: sc.MaxUploadBytes,
	})
	if err != nil {
		return err
	}
	a.api = srv
	a.server = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Analyzer returns the file analyzer.
func (a *App) Analyzer() *analysis.Analyzer { return a.analyzer }

// Manager returns the streaming session manager.
func (a *App) Manager() *stream.Manager { return a.manager }

// Exemplars returns the exemplar index, or nil when storage is disabled.
func (a *App) Exemplars() store.ExemplarIndex { return a.exemplars }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, reaps idle sessions and, when a config path was given,
// watches the config file. It blocks until ctx is cancelled or the server
// fails, and returns ctx.Err() on cancellation.
func (a *App) Run(ctx context.Context) error {
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	go a.manager.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
		"classifier", a.classifier.Info().Name,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// applyConfig is the hot-reload callback. Settings that need a restart were
// already reported by the watcher.
func (a *App) applyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LimitsChanged {
		a.manager.SetLimits(d.MaxSessions, d.SessionIdleTimeout)
		slog.Info("session limits changed",
			"max_sessions", d.MaxSessions,
			"idle_timeout", d.SessionIdleTimeout,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, drains streaming sessions for up to
// stream.shutdown_timeout, flushes pending result writes and closes storage.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.manager.Len())

		if a.watcher != nil {
			a.watcher.Stop()
		}

		// Hijacked websocket connections are not tracked by the server;
		// the manager drains them below.
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		drainCtx, cancel := context.WithTimeout(ctx, a.cfg.Stream.ShutdownTimeout)
		if err := a.manager.Shutdown(drainCtx); err != nil {
			slog.Warn("session drain incomplete", "err", err)
		}
		cancel()

		if a.guard != nil {
			if err := a.guard.Close(ctx); err != nil {
				slog.Warn("result log flush incomplete", "err", err, "dropped", a.guard.Dropped())
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far. Used when New fails midway.
func (a *App) closeAll() {
	if a.guard != nil {
		_ = a.guard.Close(context.Background())
	}
	for _, closer := range a.closers {
		_ = closer()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config log level to an [slog.Level]. Unknown values
// map to info.
func SlogLevel(level config.LogLevel) slog.Level {
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
