package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	encodermock "github.com/ranhill/speechrag/pkg/provider/encoder/mock"
)

func TestGuardedEncoder_PassesThrough(t *testing.T) {
	m := &encodermock.Provider{
		AudioResult:     []float32{0.1, 0.2},
		TextResult:      []float32{0.3, 0.4},
		DimensionsValue: 2,
	}
	g := GuardEncoder(m, nil)

	vec, err := g.EmbedAudio(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("EmbedAudio: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Errorf("vector = %v, want [0.1 0.2]", vec)
	}

	tvec, err := g.EmbedText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(tvec) != 2 || tvec[0] != 0.3 {
		t.Errorf("vector = %v, want [0.3 0.4]", tvec)
	}

	if g.Dimensions() != 2 {
		t.Errorf("Dimensions = %d, want 2", g.Dimensions())
	}
}

func TestGuardedEncoder_TripsAfterFailures(t *testing.T) {
	m := &encodermock.Provider{AudioErr: errors.New("encoder down")}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "encoder",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	g := GuardEncoder(m, cb)

	for i := 0; i < 2; i++ {
		if _, err := g.EmbedAudio(context.Background(), []byte{1}); err == nil {
			t.Fatal("expected error from failing encoder")
		}
	}

	// Breaker is now open; the provider must not be called again.
	before := m.AudioCallCount()
	_, err := g.EmbedAudio(context.Background(), []byte{1})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if m.AudioCallCount() != before {
		t.Error("provider was called while breaker open")
	}
}

// pingableProvider adds a Ping probe on top of the encoder mock.
type pingableProvider struct {
	*encodermock.Provider
	pingErr   error
	pingCalls int
}

func (p *pingableProvider) Ping(context.Context) error {
	p.pingCalls++
	return p.pingErr
}

func TestGuardedEncoder_PingForwardsToProvider(t *testing.T) {
	m := &pingableProvider{Provider: &encodermock.Provider{}}
	g := GuardEncoder(m, nil)

	if err := g.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if m.pingCalls != 1 {
		t.Errorf("provider ping called %d times, want 1", m.pingCalls)
	}

	m.pingErr = errors.New("model not loaded")
	if err := g.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded, want provider error")
	}
}

func TestGuardedEncoder_PingFailsWhileOpen(t *testing.T) {
	m := &pingableProvider{Provider: &encodermock.Provider{AudioErr: errors.New("encoder down")}}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "encoder",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	g := GuardEncoder(m, cb)

	_, _ = g.EmbedAudio(context.Background(), []byte{1})
	if g.Breaker().State() != StateOpen {
		t.Fatal("expected open breaker")
	}

	err := g.Ping(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Ping err = %v, want ErrCircuitOpen", err)
	}
	if m.pingCalls != 0 {
		t.Error("provider ping was called while breaker open")
	}
}

func TestGuardedEncoder_PingWithoutProviderProbe(t *testing.T) {
	// A provider with no Ping of its own is ready as long as the breaker is
	// closed.
	g := GuardEncoder(&encodermock.Provider{}, nil)
	if err := g.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestGuardedEncoder_RecoversAfterReset(t *testing.T) {
	m := &encodermock.Provider{AudioErr: errors.New("encoder down")}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "encoder",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	g := GuardEncoder(m, cb)

	_, _ = g.EmbedAudio(context.Background(), []byte{1})
	if g.Breaker().State() != StateOpen {
		t.Fatal("expected open breaker")
	}

	m.AudioErr = nil
	m.AudioResult = []float32{1}
	g.Breaker().Reset()

	vec, err := g.EmbedAudio(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("EmbedAudio after reset: %v", err)
	}
	if len(vec) != 1 {
		t.Errorf("vector = %v, want one element", vec)
	}
}
