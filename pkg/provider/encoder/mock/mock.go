// Package mock provides a test double for the encoder.Provider interface.
//
// Use Provider to return pre-canned vectors without a live encoder service and
// to verify which audio windows or texts were submitted for encoding.
//
// Example:
//
//	p := &mock.Provider{
//	    AudioResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	}
//	vec, _ := p.EmbedAudio(ctx, window)
package mock

import (
	"context"
	"sync"

	"github.com/ranhill/speechrag/pkg/provider/encoder"
)

// Ensure Provider implements the real interface.
var _ encoder.Provider = (*Provider)(nil)

// AudioCall records a single invocation of EmbedAudio.
type AudioCall struct {
	// Ctx is the context passed to EmbedAudio.
	Ctx context.Context
	// Audio is a copy of the window passed to EmbedAudio.
	Audio []byte
}

// TextCall records a single invocation of EmbedText.
type TextCall struct {
	// Ctx is the context passed to EmbedText.
	Ctx context.Context
	// Text is the string passed to EmbedText.
	Text string
}

// Provider is a mock implementation of encoder.Provider.
// All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AudioResult is returned by EmbedAudio. If nil, a zero-length slice is
	// returned.
	AudioResult []float32

	// AudioErr, if non-nil, is returned as the error from EmbedAudio.
	AudioErr error

	// AudioFunc, if non-nil, overrides AudioResult/AudioErr entirely. Useful
	// for per-call behaviour (e.g. blocking until a channel closes).
	AudioFunc func(ctx context.Context, audio []byte) ([]float32, error)

	// TextResult is returned by EmbedText. If nil, a zero-length slice is
	// returned.
	TextResult []float32

	// TextErr, if non-nil, is returned as the error from EmbedText.
	TextErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// --- Call records ---

	// AudioCalls records every call to EmbedAudio in order.
	AudioCalls []AudioCall

	// TextCalls records every call to EmbedText in order.
	TextCalls []TextCall
}

// EmbedAudio implements encoder.Provider.
func (p *Provider) EmbedAudio(ctx context.Context, audio []byte) ([]float32, error) {
	cp := make([]byte, len(audio))
	copy(cp, audio)

	p.mu.Lock()
	p.AudioCalls = append(p.AudioCalls, AudioCall{Ctx: ctx, Audio: cp})
	fn := p.AudioFunc
	res, err := p.AudioResult, p.AudioErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return []float32{}, nil
	}
	return res, nil
}

// EmbedText implements encoder.Provider.
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.TextCalls = append(p.TextCalls, TextCall{Ctx: ctx, Text: text})
	res, err := p.TextResult, p.TextErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if res == nil {
		return []float32{}, nil
	}
	return res, nil
}

// Dimensions implements encoder.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// AudioCallCount returns how many times EmbedAudio was invoked.
func (p *Provider) AudioCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.AudioCalls)
}
