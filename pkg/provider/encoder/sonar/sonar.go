// Package sonar provides an encoder provider backed by a SONAR encoder
// service.
//
// The service exposes two JSON endpoints: POST /encode_audio accepting
// {"audio_base64": "<base64 PCM16>"} and POST /encode_text accepting
// {"text": "<string>"}, both answering {"vector": [float, ...]}. The speech
// and text encoders share one embedding space, which is what makes
// audio-to-text retrieval work.
//
// Requests carry a short timeout by default (2 s); a slow encoder must never
// stall the ingestion path, so callers invoke this client from retrieval
// workers only.
package sonar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ranhill/speechrag/pkg/provider/encoder"
)

// DefaultBaseURL is the default address of a locally running SONAR service.
const DefaultBaseURL = "http://localhost:8001"

// DefaultTimeout bounds each encode request. Chosen for a real-time pipeline:
// an embedding that takes longer than this is useless for the window that
// requested it.
const DefaultTimeout = 2 * time.Second

// Ensure Client implements the encoder.Provider interface at compile time.
var _ encoder.Provider = (*Client)(nil)

// Client implements encoder.Provider against a SONAR encoder service.
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dimensions int
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout    time.Duration
	httpClient *http.Client
	dimensions int
}

// Option is a functional option for [Client].
type Option func(*config)

// WithTimeout overrides the per-request timeout. A zero or negative value
// keeps [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client. Intended for tests;
// the client's own Timeout, when set, takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithDimensions pre-sets the vector dimension reported by [Client.Dimensions].
// The live pipeline does not depend on it, but index migration does.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a SONAR encoder client. baseURL is the service address
// (e.g. "http://localhost:8001"); if empty, [DefaultBaseURL] is used.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{timeout: DefaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: hc,
		dimensions: cfg.dimensions,
	}
}

// audioRequest is the JSON request body for POST /encode_audio.
type audioRequest struct {
	AudioBase64 string `json:"audio_base64"`
}

// textRequest is the JSON request body for POST /encode_text.
type textRequest struct {
	Text string `json:"text"`
}

// encodeResponse is the JSON response body of both encode endpoints.
type encodeResponse struct {
	Vector []float32 `json:"vector"`
}

// EmbedAudio implements encoder.Provider. The audio bytes are base64-encoded
// and sent to /encode_audio. Any transport error, non-2xx status, or reply
// without a non-empty vector field yields an error wrapping
// [encoder.ErrEncodingUnavailable].
func (c *Client) EmbedAudio(ctx context.Context, audio []byte) ([]float32, error) {
	body := audioRequest{AudioBase64: base64.StdEncoding.EncodeToString(audio)}
	vec, err := c.call(ctx, "/encode_audio", body)
	if err != nil {
		return nil, fmt.Errorf("sonar: embed audio: %w", err)
	}
	return vec, nil
}

// EmbedText implements encoder.Provider by sending text to /encode_text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.call(ctx, "/encode_text", textRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("sonar: embed text: %w", err)
	}
	return vec, nil
}

// Dimensions implements encoder.Provider. Returns the configured dimension or
// 0 when none was supplied via [WithDimensions].
func (c *Client) Dimensions() int { return c.dimensions }

// Ping probes the service by encoding a trivial text. Used by the readiness
// probe; the text encoder path is cheap compared to audio.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.EmbedText(ctx, "ping")
	return err
}

// call posts payload to the given endpoint and validates the response into a
// non-empty vector. Every failure mode is normalised to
// [encoder.ErrEncodingUnavailable] so callers need only one branch.
func (c *Client) call(ctx context.Context, path string, payload any) ([]float32, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", encoder.ErrEncodingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", encoder.ErrEncodingUnavailable, resp.StatusCode)
	}

	var result encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", encoder.ErrEncodingUnavailable, err)
	}
	if len(result.Vector) == 0 {
		return nil, fmt.Errorf("%w: response is missing a vector", encoder.ErrEncodingUnavailable)
	}
	return result.Vector, nil
}
