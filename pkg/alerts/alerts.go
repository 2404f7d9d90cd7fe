// Package alerts defines the similarity-index contract for known alert
// situations.
//
// The index stores pre-embedded alert records and answers nearest-neighbour
// queries with cosine-similarity scores. The live pipeline only reads from it;
// an offline seeding collaborator (cmd/seedindex) writes to it.
package alerts

import "context"

// Record is one alert situation as stored in the index. Records are written
// by the seeder and returned (minus the vector) as search matches.
type Record struct {
	// ID uniquely identifies the record. Re-upserting an ID replaces it.
	ID string

	// Vector is the text embedding of the alert description, in the same
	// space as the audio embeddings queried against it.
	Vector []float32

	// Metadata carries schema-free string fields. The decision engine reads
	// "location", "status", and "eta"; other keys pass through untouched.
	Metadata map[string]string
}

// Match is a single search result.
type Match struct {
	// ID of the matched record.
	ID string

	// Score is the cosine similarity to the query vector; higher is closer.
	Score float64

	// Metadata is the matched record's metadata, returned unchanged.
	Metadata map[string]string
}

// Index is the abstraction over any vector similarity store.
//
// Search returns matches ordered by descending score. scoreThreshold is a
// lower bound that implementations may push into the store's own filtering,
// but callers must not rely on that — acceptance policy belongs to the
// decision engine.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts or replaces records. Used by offline seeding only.
	Upsert(ctx context.Context, records []Record) error

	// Search returns up to limit matches with score >= scoreThreshold,
	// ordered by descending score. A failed search is an error, not an empty
	// result; the retrieval layer downgrades it to "no relevant alert found".
	Search(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]Match, error)
}
