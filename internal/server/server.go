// Package server exposes the HTTP surface of the bridge: the websocket audio
// ingest endpoint plus health and metrics routes.
//
// Layout:
//
//	GET /ws/audio — binary PCM in, JSON injection events out
//	GET /healthz  — liveness
//	GET /readyz   — readiness (encoder + index probes)
//	GET /metrics  — Prometheus scrape endpoint
//
// The websocket endpoint bypasses the request middleware; a per-request
// duration histogram is meaningless for a connection that lives for the whole
// session. Session metrics are recorded directly instead.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ranhill/speechrag/internal/health"
	"github.com/ranhill/speechrag/internal/observe"
	"github.com/ranhill/speechrag/internal/stream"
)

// shutdownGrace is how long in-flight requests get to finish after the run
// context is cancelled.
const shutdownGrace = 10 * time.Second

// Session is the per-connection processing pipeline created for each accepted
// websocket. [stream.Dispatcher] implements it.
type Session interface {
	// OnChunk ingests one binary frame of PCM audio.
	OnChunk(ctx context.Context, chunk []byte)

	// Run executes retrieval cycles until ctx is cancelled or Close is called.
	Run(ctx context.Context) error

	// Close tears the pipeline down.
	Close()
}

// SessionFactory builds the pipeline for one websocket session. send delivers
// injection events back to that session's client.
type SessionFactory func(sessionID string, send stream.Sender) (Session, error)

// Config assembles a [Server].
type Config struct {
	// ListenAddr is the host:port to bind, e.g. ":8000".
	ListenAddr string

	// NewSession creates the per-connection pipeline. Required.
	NewSession SessionFactory

	// Health serves the liveness and readiness routes. When nil, a handler
	// with no checkers is used.
	Health *health.Handler

	// Metrics receives session gauge updates. When nil the package-level
	// default instruments are used.
	Metrics *observe.Metrics

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Server is the HTTP front of the bridge.
type Server struct {
	cfg     Config
	metrics *observe.Metrics
}

// New validates cfg and returns a ready [Server].
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("server: listen address is required")
	}
	if cfg.NewSession == nil {
		return nil, fmt.Errorf("server: session factory is required")
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{cfg: cfg, metrics: cfg.Metrics}, nil
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	instrumented := http.NewServeMux()
	s.cfg.Health.Register(instrumented)
	instrumented.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/audio", s.handleAudio)
	mux.Handle("/", observe.Middleware(s.metrics)(instrumented))
	return mux
}

// Run serves HTTP until ctx is cancelled, then drains connections and returns.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}

// handleAudio upgrades the connection and runs one audio session: a read loop
// feeding PCM frames into the pipeline, with the pipeline's retrieval worker
// pushing injection events back over the same socket.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := uuid.NewString()
	log := observe.Logger(ctx).With("session_id", sessionID)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	// Audio frames never exceed a few strides; 1 MiB leaves generous slack.
	conn.SetReadLimit(1 << 20)

	send := func(ctx context.Context, ev stream.InjectionEvent) error {
		raw, err := ev.Encode()
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, raw)
	}

	sess, err := s.cfg.NewSession(sessionID, send)
	if err != nil {
		log.Error("session setup failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	defer sess.Close()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)
	log.Info("audio session started")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = sess.Run(sessCtx)
	}()

	for {
		msgType, data, err := conn.Read(sessCtx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Info("audio session closed by client")
			} else if sessCtx.Err() == nil {
				log.Warn("audio session read error", "error", err)
			}
			break
		}
		if msgType != websocket.MessageBinary {
			// Only binary PCM frames are meaningful on this endpoint.
			continue
		}
		sess.OnChunk(sessCtx, data)
	}

	cancel()
	<-workerDone
	conn.Close(websocket.StatusNormalClosure, "session ended")
}
