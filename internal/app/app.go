// Package app wires all bridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithEncoder, WithIndex, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ranhill/speechrag/internal/config"
	"github.com/ranhill/speechrag/internal/health"
	"github.com/ranhill/speechrag/internal/observe"
	"github.com/ranhill/speechrag/internal/resilience"
	"github.com/ranhill/speechrag/internal/retrieval"
	"github.com/ranhill/speechrag/internal/server"
	"github.com/ranhill/speechrag/internal/stream"
	"github.com/ranhill/speechrag/internal/window"
	"github.com/ranhill/speechrag/pkg/alerts"
	"github.com/ranhill/speechrag/pkg/alerts/postgres"
	"github.com/ranhill/speechrag/pkg/provider/encoder"
	"github.com/ranhill/speechrag/pkg/provider/encoder/sonar"
)

// App owns all subsystem lifetimes and runs the audio-to-context bridge.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// threshold holds the current acceptance threshold as float64 bits so a
	// config reload can retune live sessions without locks.
	threshold atomic.Uint64

	// levelVar, when set, lets a config reload change log verbosity.
	levelVar *slog.LevelVar

	encoder encoder.Provider
	index   alerts.Index
	engine  *retrieval.Engine
	srv     *server.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEncoder injects an encoder provider instead of creating a SONAR client
// from config.
func WithEncoder(p encoder.Provider) Option {
	return func(a *App) { a.encoder = p }
}

// WithIndex injects an alerts index instead of connecting to PostgreSQL.
func WithIndex(idx alerts.Index) Option {
	return func(a *App) { a.index = idx }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// config reloads can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// New creates an App by wiring all subsystems together: the SONAR encoder
// client behind a circuit breaker, the pgvector alerts index, the retrieval
// engine, and the HTTP server with its per-session pipelines.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.threshold.Store(math.Float64bits(cfg.Pipeline.AcceptThreshold))

	a.initEncoder()

	if err := a.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init index: %w", err)
	}

	engine, err := retrieval.New(retrieval.Config{
		Encoder:   a.encoder,
		Index:     a.index,
		Threshold: a.Threshold,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init retrieval: %w", err)
	}
	a.engine = engine

	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// Threshold returns the current acceptance threshold. Safe for concurrent use
// with [App.ApplyConfigChange].
func (a *App) Threshold() float64 {
	return math.Float64frombits(a.threshold.Load())
}

// initEncoder builds the guarded SONAR client unless one was injected.
func (a *App) initEncoder() {
	if a.encoder != nil {
		return
	}

	var opts []sonar.Option
	if a.cfg.Encoder.TimeoutMS > 0 {
		opts = append(opts, sonar.WithTimeout(time.Duration(a.cfg.Encoder.TimeoutMS)*time.Millisecond))
	}
	if a.cfg.Encoder.Dimensions > 0 {
		opts = append(opts, sonar.WithDimensions(a.cfg.Encoder.Dimensions))
	}
	client := sonar.New(a.cfg.Encoder.BaseURL, opts...)

	a.encoder = resilience.GuardEncoder(client, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "sonar",
		OnStateChange: resilience.LogStateChange("sonar"),
	}))
}

// initIndex connects the pgvector index unless one was injected. With no DSN
// configured the pipeline runs against [noopIndex] and never injects context,
// which keeps local development without a database possible.
func (a *App) initIndex(ctx context.Context) error {
	if a.index != nil {
		return nil
	}

	dsn := a.cfg.Index.PostgresDSN
	if dsn == "" {
		slog.Warn("no index configured, running without context injection")
		a.index = noopIndex{}
		return nil
	}

	idx, err := postgres.New(ctx, dsn, postgres.Config{
		Collection: a.cfg.Index.Collection,
		Dimensions: a.cfg.Encoder.Dimensions,
	})
	if err != nil {
		return err
	}
	a.index = idx
	a.closers = append(a.closers, func() error {
		idx.Close()
		return nil
	})
	return nil
}

// initServer assembles the HTTP server with health probes and the per-session
// pipeline factory.
func (a *App) initServer() error {
	var checkers []health.Checker
	if p, ok := a.encoder.(health.Pinger); ok {
		checkers = append(checkers, health.PingCheck("encoder", p))
	}
	if p, ok := a.index.(health.Pinger); ok {
		checkers = append(checkers, health.PingCheck("index", p))
	}

	cfg := server.Config{
		ListenAddr: a.cfg.Server.ListenAddr,
		NewSession: a.newSession,
		Health:     health.New(checkers...),
		Metrics:    a.metrics,
	}
	if a.cfg.Server.TLS != nil {
		cfg.TLSCertFile = a.cfg.Server.TLS.CertFile
		cfg.TLSKeyFile = a.cfg.Server.TLS.KeyFile
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	a.srv = srv
	return nil
}

// newSession builds the pipeline for one websocket session: a fresh sliding
// window buffer feeding the shared retrieval engine through a dispatcher.
func (a *App) newSession(sessionID string, send stream.Sender) (server.Session, error) {
	buf, err := window.New(window.Config{
		WindowSeconds: a.cfg.Pipeline.WindowSeconds,
		SampleRate:    a.cfg.Pipeline.SampleRate,
		StrideMS:      a.cfg.Pipeline.StrideMS,
	})
	if err != nil {
		return nil, fmt.Errorf("app: session window: %w", err)
	}

	return stream.NewDispatcher(stream.Config{
		SessionID: sessionID,
		Source:    a.cfg.Server.Source,
		Window:    buf,
		Decider:   a.engine,
		Send:      send,
		Metrics:   a.metrics,
	})
}

// Run serves until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.srv.Run(gctx)
	})

	slog.Info("bridge started",
		"listen_addr", a.cfg.Server.ListenAddr,
		"source", a.cfg.Server.Source,
		"accept_threshold", a.Threshold())

	err := g.Wait()
	if shutdownErr := a.Shutdown(); shutdownErr != nil {
		slog.Error("shutdown error", "error", shutdownErr)
	}
	return err
}

// ApplyConfigChange reacts to a hot-reloaded configuration. Only the tunables
// covered by [config.Diff] take effect at runtime; everything else requires a
// restart.
func (a *App) ApplyConfigChange(oldCfg, newCfg *config.Config) {
	diff := config.Diff(oldCfg, newCfg)

	if diff.ThresholdChanged {
		a.threshold.Store(math.Float64bits(diff.NewThreshold))
		slog.Info("acceptance threshold updated",
			"old", oldCfg.Pipeline.AcceptThreshold,
			"new", diff.NewThreshold)
	}

	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(diff.NewLogLevel.SlogLevel())
		slog.Info("log level updated", "new", diff.NewLogLevel)
	}
}

// Shutdown closes all subsystems in reverse-init order. Safe to call more
// than once.
func (a *App) Shutdown() error {
	var err error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if cerr := a.closers[i](); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// noopIndex satisfies [alerts.Index] when no database is configured.
type noopIndex struct{}

func (noopIndex) Upsert(context.Context, []alerts.Record) error { return nil }

func (noopIndex) Search(context.Context, []float32, int, float64) ([]alerts.Match, error) {
	return nil, nil
}
