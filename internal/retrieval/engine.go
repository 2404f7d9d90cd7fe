// Package retrieval implements the speculative retrieval cycle: encode an
// audio window, search the alert index, and decide whether the best match is
// strong enough to inject as context.
//
// The engine is deliberately miss-biased. Every failure along the way — the
// encoder being down, the index query erroring, the top score falling below
// the acceptance threshold — produces a miss, never an error that could
// disturb the audio ingest path. A missed injection costs nothing; a wrong or
// late one pollutes the downstream conversation.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/ranhill/speechrag/internal/observe"
	"github.com/ranhill/speechrag/pkg/alerts"
	"github.com/ranhill/speechrag/pkg/provider/encoder"
)

// Metadata keys looked up when formatting an alert.
const (
	metaLocation = "location"
	metaStatus   = "status"
	metaETA      = "eta"
)

// Fallback values for absent metadata fields.
const (
	defaultLocation = "Unknown Location"
	defaultStatus   = "Status Unknown"
	defaultETA      = "N/A"
)

// Result is an accepted retrieval decision.
type Result struct {
	// MatchID is the identifier of the matched alert record.
	MatchID string

	// Score is the cosine similarity of the match, in [-1, 1].
	Score float64

	// Context is the formatted alert text ready for injection.
	Context string
}

// Config assembles an [Engine]. Encoder, Index, and Threshold are required.
type Config struct {
	// Encoder turns audio windows into embedding vectors.
	Encoder encoder.Provider

	// Index answers nearest-neighbour queries over the alert catalogue.
	Index alerts.Index

	// Threshold returns the current acceptance threshold. It is a function
	// rather than a value so a config reload can retune the engine without
	// restarting live sessions.
	Threshold func() float64

	// Metrics receives per-stage latency and error observations. When nil the
	// package-level default instruments are used.
	Metrics *observe.Metrics
}

// Engine runs retrieval cycles. It is stateless between calls and safe for
// concurrent use by any number of sessions.
type Engine struct {
	enc       encoder.Provider
	idx       alerts.Index
	threshold func() float64
	metrics   *observe.Metrics
}

// New validates cfg and returns a ready [Engine].
func New(cfg Config) (*Engine, error) {
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("retrieval: encoder is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("retrieval: index is required")
	}
	if cfg.Threshold == nil {
		return nil, fmt.Errorf("retrieval: threshold function is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Engine{
		enc:       cfg.Encoder,
		idx:       cfg.Index,
		threshold: cfg.Threshold,
		metrics:   cfg.Metrics,
	}, nil
}

// Decide runs one full retrieval cycle over an immutable audio window. It
// returns the accepted result and true, or a zero [Result] and false on a
// miss. Misses are silent apart from logs and metrics.
func (e *Engine) Decide(ctx context.Context, window []byte) (Result, bool) {
	log := observe.Logger(ctx)
	start := time.Now()
	defer func() {
		e.metrics.DecideDuration.Record(ctx, time.Since(start).Seconds())
	}()

	encStart := time.Now()
	vec, err := e.enc.EmbedAudio(ctx, window)
	e.metrics.EncodeDuration.Record(ctx, time.Since(encStart).Seconds())
	if err != nil {
		e.metrics.RecordGatewayError(ctx, "encode")
		log.Warn("audio encoding failed, skipping window", "error", err)
		return Result{}, false
	}
	if len(vec) == 0 {
		e.metrics.RecordGatewayError(ctx, "encode")
		log.Warn("encoder returned empty vector, skipping window")
		return Result{}, false
	}

	threshold := e.threshold()

	searchStart := time.Now()
	matches, err := e.idx.Search(ctx, vec, 1, threshold)
	e.metrics.SearchDuration.Record(ctx, time.Since(searchStart).Seconds())
	if err != nil {
		e.metrics.RecordGatewayError(ctx, "search")
		log.Warn("index search failed, skipping window", "error", err)
		return Result{}, false
	}
	if len(matches) == 0 {
		return Result{}, false
	}

	best := matches[0]
	// The index already filters on the threshold, but a hot-reload could have
	// raised it between the query and this check.
	if best.Score < threshold {
		return Result{}, false
	}

	log.Info("alert matched",
		"match_id", best.ID,
		"score", best.Score,
		"threshold", threshold)

	return Result{
		MatchID: best.ID,
		Score:   best.Score,
		Context: FormatAlert(best.Metadata),
	}, true
}

// FormatAlert renders an alert record's metadata as injection text. Missing
// fields fall back to explicit placeholders so the downstream consumer always
// sees the same shape.
func FormatAlert(metadata map[string]string) string {
	location := metadata[metaLocation]
	if location == "" {
		location = defaultLocation
	}
	status := metadata[metaStatus]
	if status == "" {
		status = defaultStatus
	}
	eta := metadata[metaETA]
	if eta == "" {
		eta = defaultETA
	}
	return fmt.Sprintf("ALERT: %s - %s. Recovery: %s", location, status, eta)
}
