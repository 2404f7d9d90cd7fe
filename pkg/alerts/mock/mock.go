// Package mock provides a test double for the alerts.Index interface.
//
// Use Index to return pre-canned matches without a live database and to verify
// the vectors, limits, and thresholds passed to Search.
package mock

import (
	"context"
	"sync"

	"github.com/ranhill/speechrag/pkg/alerts"
)

// Ensure Index implements the real interface.
var _ alerts.Index = (*Index)(nil)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Vector is a copy of the query vector.
	Vector []float32
	// Limit is the requested result count.
	Limit int
	// ScoreThreshold is the lower score bound passed by the caller.
	ScoreThreshold float64
}

// Index is a mock implementation of alerts.Index.
// All methods are safe for concurrent use.
type Index struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SearchResult is returned by Search. If nil, an empty slice is returned.
	SearchResult []alerts.Match

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// UpsertErr, if non-nil, is returned as the error from Upsert.
	UpsertErr error

	// --- Call records ---

	// Records accumulates everything passed to Upsert, in order.
	Records []alerts.Record

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall
}

// Upsert implements alerts.Index.
func (i *Index) Upsert(ctx context.Context, records []alerts.Record) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.UpsertErr != nil {
		return i.UpsertErr
	}
	i.Records = append(i.Records, records...)
	return nil
}

// Search implements alerts.Index.
func (i *Index) Search(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]alerts.Match, error) {
	vec := make([]float32, len(vector))
	copy(vec, vector)

	i.mu.Lock()
	i.SearchCalls = append(i.SearchCalls, SearchCall{Vector: vec, Limit: limit, ScoreThreshold: scoreThreshold})
	res, err := i.SearchResult, i.SearchErr
	i.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if res == nil {
		return []alerts.Match{}, nil
	}
	return res, nil
}

// SearchCallCount returns how many times Search was invoked.
func (i *Index) SearchCallCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.SearchCalls)
}
