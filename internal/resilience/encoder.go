package resilience

import (
	"context"
	"log/slog"

	"github.com/ranhill/speechrag/pkg/provider/encoder"
)

// GuardedEncoder wraps an [encoder.Provider] with a [CircuitBreaker]. Every
// stride trigger produces an encoder call, so a dead encoder service would
// otherwise stack a full HTTP timeout onto each retrieval cycle; the breaker
// converts that into an immediate [ErrCircuitOpen] until the service recovers.
type GuardedEncoder struct {
	inner   encoder.Provider
	breaker *CircuitBreaker
}

// GuardEncoder wraps p with the given breaker. A nil breaker gets default
// [CircuitBreakerConfig] values and a state-change log hook.
func GuardEncoder(p encoder.Provider, cb *CircuitBreaker) *GuardedEncoder {
	if cb == nil {
		cb = NewCircuitBreaker(CircuitBreakerConfig{
			Name:          "encoder",
			OnStateChange: LogStateChange("encoder"),
		})
	}
	return &GuardedEncoder{inner: p, breaker: cb}
}

// LogStateChange returns an OnStateChange hook that logs transitions for the
// named breaker. Open transitions log at warn level since they mean the
// guarded dependency is failing.
func LogStateChange(name string) func(from, to State) {
	return func(from, to State) {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", name,
			"from", from.String(),
			"to", to.String())
	}
}

// EmbedAudio forwards to the wrapped provider through the breaker.
func (g *GuardedEncoder) EmbedAudio(ctx context.Context, pcm []byte) ([]float32, error) {
	var vec []float32
	err := g.breaker.Execute(func() error {
		var callErr error
		vec, callErr = g.inner.EmbedAudio(ctx, pcm)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedText forwards to the wrapped provider through the breaker.
func (g *GuardedEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.breaker.Execute(func() error {
		var callErr error
		vec, callErr = g.inner.EmbedText(ctx, text)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Ping reports whether the encoder is ready to serve. It runs through the
// breaker, so an open circuit reads as not ready without touching the service.
// When the wrapped provider exposes its own Ping, that probe runs too.
func (g *GuardedEncoder) Ping(ctx context.Context) error {
	return g.breaker.Execute(func() error {
		if p, ok := g.inner.(interface{ Ping(ctx context.Context) error }); ok {
			return p.Ping(ctx)
		}
		return nil
	})
}

// Dimensions reports the wrapped provider's vector dimensionality.
func (g *GuardedEncoder) Dimensions() int {
	return g.inner.Dimensions()
}

// Breaker exposes the underlying [CircuitBreaker] for state inspection and
// manual resets.
func (g *GuardedEncoder) Breaker() *CircuitBreaker {
	return g.breaker
}
