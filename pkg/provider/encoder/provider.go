// Package encoder defines the Provider interface for semantic encoder backends.
//
// An encoder provider wraps a service that maps raw audio windows or text
// strings into dense float32 vectors in a shared embedding space. Audio and
// text must be encoded by the same model family so that a spoken phrase lands
// near its textual description in the similarity index.
//
// Implementations must be safe for concurrent use.
package encoder

import (
	"context"
	"errors"
)

// ErrEncodingUnavailable is the sentinel wrapped by providers whenever the
// encoder service is unreachable, returns a non-2xx status, or replies with a
// malformed payload. Callers treat it as "no usable embedding for this window"
// and abandon the retrieval cycle; it is never fatal to a session.
var ErrEncodingUnavailable = errors.New("encoding unavailable")

// Provider is the abstraction over any audio/text embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in one similarity computation.
type Provider interface {
	// EmbedAudio computes the embedding vector for a raw PCM16 mono audio
	// window. Returns an error wrapping [ErrEncodingUnavailable] if the
	// backend cannot produce a vector, or ctx's error on cancellation.
	EmbedAudio(ctx context.Context, audio []byte) ([]float32, error)

	// EmbedText computes the embedding vector for a text string, in the same
	// vector space as EmbedAudio. Used by the offline index seeder and the
	// verification tooling, not by the live pipeline.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider, or 0 when the dimension has not been resolved yet.
	Dimensions() int
}
