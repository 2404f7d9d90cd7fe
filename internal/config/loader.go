package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// collectionRe constrains the index collection name to a safe SQL identifier.
var collectionRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Defaults are seeded before decoding, so a field the file sets explicitly is
// always respected — in particular `accept_threshold: 0` stays 0 instead of
// being re-defaulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Pipeline
	if cfg.Pipeline.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.window_seconds %v must be positive", cfg.Pipeline.WindowSeconds))
	}
	if cfg.Pipeline.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must be positive", cfg.Pipeline.SampleRate))
	}
	if cfg.Pipeline.StrideMS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.stride_ms %d must be positive", cfg.Pipeline.StrideMS))
	}
	if cfg.Pipeline.AcceptThreshold < -1 || cfg.Pipeline.AcceptThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.accept_threshold %v is out of the cosine similarity range [-1, 1]", cfg.Pipeline.AcceptThreshold))
	}
	if cfg.Pipeline.StrideMS > int(cfg.Pipeline.WindowSeconds*1000) {
		slog.Warn("pipeline.stride_ms exceeds the window length; consecutive windows will not overlap",
			"stride_ms", cfg.Pipeline.StrideMS,
			"window_seconds", cfg.Pipeline.WindowSeconds,
		)
	}

	// Encoder
	if cfg.Encoder.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("encoder.timeout_ms %d must not be negative", cfg.Encoder.TimeoutMS))
	}
	if cfg.Encoder.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("encoder.dimensions %d must not be negative", cfg.Encoder.Dimensions))
	}

	// Index
	if !collectionRe.MatchString(cfg.Index.Collection) {
		errs = append(errs, fmt.Errorf("index.collection %q is not a valid identifier", cfg.Index.Collection))
	}
	if cfg.Index.PostgresDSN == "" {
		slog.Warn("index.postgres_dsn is empty; the pipeline will run without a similarity index and never inject context")
	}
	if cfg.Index.PostgresDSN != "" && cfg.Encoder.Dimensions == 0 {
		slog.Warn("index is configured but encoder.dimensions is not set; index migration will fail unless the collection already exists")
	}

	return errors.Join(errs...)
}
