package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ranhill/speechrag/internal/retrieval"
	"github.com/ranhill/speechrag/pkg/alerts"
	alertsmock "github.com/ranhill/speechrag/pkg/alerts/mock"
	encodermock "github.com/ranhill/speechrag/pkg/provider/encoder/mock"
)

func fixedThreshold(v float64) func() float64 {
	return func() float64 { return v }
}

func newEngine(t *testing.T, enc *encodermock.Provider, idx *alertsmock.Index, threshold float64) *retrieval.Engine {
	t.Helper()
	e, err := retrieval.New(retrieval.Config{
		Encoder:   enc,
		Index:     idx,
		Threshold: fixedThreshold(threshold),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_RequiresDependencies(t *testing.T) {
	enc := &encodermock.Provider{}
	idx := &alertsmock.Index{}

	tests := []struct {
		name string
		cfg  retrieval.Config
	}{
		{"missing encoder", retrieval.Config{Index: idx, Threshold: fixedThreshold(0.38)}},
		{"missing index", retrieval.Config{Encoder: enc, Threshold: fixedThreshold(0.38)}},
		{"missing threshold", retrieval.Config{Encoder: enc, Index: idx}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := retrieval.New(tc.cfg); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

func TestDecide_AcceptsAboveThreshold(t *testing.T) {
	enc := &encodermock.Provider{AudioResult: []float32{0.5, 0.5}}
	idx := &alertsmock.Index{
		SearchResult: []alerts.Match{{
			ID:    "alert-1",
			Score: 0.91,
			Metadata: map[string]string{
				"location": "Senai",
				"status":   "Low Pressure",
				"eta":      "2h",
			},
		}},
	}
	e := newEngine(t, enc, idx, 0.38)

	res, ok := e.Decide(context.Background(), []byte{1, 2, 3})
	if !ok {
		t.Fatal("Decide() = miss, want accept")
	}
	if res.MatchID != "alert-1" {
		t.Errorf("MatchID = %q, want %q", res.MatchID, "alert-1")
	}
	if res.Score != 0.91 {
		t.Errorf("Score = %v, want 0.91", res.Score)
	}
	want := "ALERT: Senai - Low Pressure. Recovery: 2h"
	if res.Context != want {
		t.Errorf("Context = %q, want %q", res.Context, want)
	}
}

func TestDecide_PassesThresholdToSearch(t *testing.T) {
	enc := &encodermock.Provider{AudioResult: []float32{1, 0}}
	idx := &alertsmock.Index{}
	e := newEngine(t, enc, idx, 0.38)

	e.Decide(context.Background(), []byte{1})

	if idx.SearchCallCount() != 1 {
		t.Fatalf("search calls = %d, want 1", idx.SearchCallCount())
	}
	call := idx.SearchCalls[0]
	if call.Limit != 1 {
		t.Errorf("limit = %d, want 1", call.Limit)
	}
	if call.ScoreThreshold != 0.38 {
		t.Errorf("threshold = %v, want 0.38", call.ScoreThreshold)
	}
}

func TestDecide_MissOnEncoderFailure(t *testing.T) {
	enc := &encodermock.Provider{AudioErr: errors.New("service unavailable")}
	idx := &alertsmock.Index{
		SearchResult: []alerts.Match{{ID: "alert-1", Score: 0.99}},
	}
	e := newEngine(t, enc, idx, 0.38)

	if _, ok := e.Decide(context.Background(), []byte{1}); ok {
		t.Error("Decide() = accept, want miss on encoder failure")
	}
	if idx.SearchCallCount() != 0 {
		t.Error("index was searched despite encoder failure")
	}
}

func TestDecide_MissOnEmptyVector(t *testing.T) {
	enc := &encodermock.Provider{} // returns zero-length vector
	idx := &alertsmock.Index{}
	e := newEngine(t, enc, idx, 0.38)

	if _, ok := e.Decide(context.Background(), []byte{1}); ok {
		t.Error("Decide() = accept, want miss on empty vector")
	}
	if idx.SearchCallCount() != 0 {
		t.Error("index was searched despite empty vector")
	}
}

func TestDecide_MissOnSearchFailure(t *testing.T) {
	enc := &encodermock.Provider{AudioResult: []float32{1, 0}}
	idx := &alertsmock.Index{SearchErr: errors.New("connection reset")}
	e := newEngine(t, enc, idx, 0.38)

	if _, ok := e.Decide(context.Background(), []byte{1}); ok {
		t.Error("Decide() = accept, want miss on search failure")
	}
}

func TestDecide_MissOnNoMatches(t *testing.T) {
	enc := &encodermock.Provider{AudioResult: []float32{1, 0}}
	idx := &alertsmock.Index{}
	e := newEngine(t, enc, idx, 0.38)

	if _, ok := e.Decide(context.Background(), []byte{1}); ok {
		t.Error("Decide() = accept, want miss on empty result set")
	}
}

func TestDecide_MissBelowThreshold(t *testing.T) {
	enc := &encodermock.Provider{AudioResult: []float32{1, 0}}
	idx := &alertsmock.Index{
		SearchResult: []alerts.Match{{ID: "weak", Score: 0.30}},
	}
	e := newEngine(t, enc, idx, 0.38)

	if _, ok := e.Decide(context.Background(), []byte{1}); ok {
		t.Error("Decide() = accept, want miss for score below threshold")
	}
}

func TestDecide_ThresholdBoundaryAccepts(t *testing.T) {
	enc := &encodermock.Provider{AudioResult: []float32{1, 0}}
	idx := &alertsmock.Index{
		SearchResult: []alerts.Match{{ID: "exact", Score: 0.38}},
	}
	e := newEngine(t, enc, idx, 0.38)

	if _, ok := e.Decide(context.Background(), []byte{1}); !ok {
		t.Error("Decide() = miss, want accept for score equal to threshold")
	}
}

func TestDecide_HotReloadedThresholdApplies(t *testing.T) {
	enc := &encodermock.Provider{AudioResult: []float32{1, 0}}
	idx := &alertsmock.Index{
		SearchResult: []alerts.Match{{ID: "alert-1", Score: 0.45}},
	}

	threshold := 0.38
	e, err := retrieval.New(retrieval.Config{
		Encoder:   enc,
		Index:     idx,
		Threshold: func() float64 { return threshold },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := e.Decide(context.Background(), []byte{1}); !ok {
		t.Fatal("Decide() = miss, want accept at threshold 0.38")
	}

	threshold = 0.50
	if _, ok := e.Decide(context.Background(), []byte{1}); ok {
		t.Error("Decide() = accept, want miss after threshold raised to 0.50")
	}
}

func TestFormatAlert(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		want     string
	}{
		{
			name: "all fields present",
			metadata: map[string]string{
				"location": "Senai",
				"status":   "Low Pressure",
				"eta":      "2h",
			},
			want: "ALERT: Senai - Low Pressure. Recovery: 2h",
		},
		{
			name: "missing eta",
			metadata: map[string]string{
				"location": "Kulai",
				"status":   "Pump Offline",
			},
			want: "ALERT: Kulai - Pump Offline. Recovery: N/A",
		},
		{
			name:     "empty metadata",
			metadata: map[string]string{},
			want:     "ALERT: Unknown Location - Status Unknown. Recovery: N/A",
		},
		{
			name:     "nil metadata",
			metadata: nil,
			want:     "ALERT: Unknown Location - Status Unknown. Recovery: N/A",
		},
		{
			name: "empty strings treated as missing",
			metadata: map[string]string{
				"location": "",
				"status":   "",
				"eta":      "",
			},
			want: "ALERT: Unknown Location - Status Unknown. Recovery: N/A",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := retrieval.FormatAlert(tc.metadata); got != tc.want {
				t.Errorf("FormatAlert() = %q, want %q", got, tc.want)
			}
		})
	}
}
