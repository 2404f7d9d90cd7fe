// Command seedindex populates the alerts similarity index from a YAML
// catalog. Each alert's "location - status" text is embedded with the SONAR
// text encoder and stored alongside its metadata, so that spoken mentions of
// the incident can later be matched against it.
//
// Usage:
//
//	seedindex -config config.yaml -catalog alerts.yaml
//	seedindex -config config.yaml -verify "water pressure in Senai"
//
// The -verify mode embeds the given text and prints the best index match;
// useful for checking encoder/index calibration after seeding.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ranhill/speechrag/internal/config"
	"github.com/ranhill/speechrag/pkg/alerts"
	"github.com/ranhill/speechrag/pkg/alerts/postgres"
	"github.com/ranhill/speechrag/pkg/provider/encoder"
	"github.com/ranhill/speechrag/pkg/provider/encoder/sonar"
)

// encodeConcurrency bounds parallel requests against the encoder service.
const encodeConcurrency = 4

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	catalogPath := flag.String("catalog", "alerts.yaml", "path to the YAML alert catalog")
	verify := flag.String("verify", "", "embed this text and print the best index match instead of seeding")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seedindex: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if cfg.Index.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "seedindex: index.postgres_dsn must be configured")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var opts []sonar.Option
	if cfg.Encoder.TimeoutMS > 0 {
		opts = append(opts, sonar.WithTimeout(time.Duration(cfg.Encoder.TimeoutMS)*time.Millisecond))
	}
	if cfg.Encoder.Dimensions > 0 {
		opts = append(opts, sonar.WithDimensions(cfg.Encoder.Dimensions))
	}
	enc := sonar.New(cfg.Encoder.BaseURL, opts...)

	idx, err := postgres.New(ctx, cfg.Index.PostgresDSN, postgres.Config{
		Collection: cfg.Index.Collection,
		Dimensions: cfg.Encoder.Dimensions,
	})
	if err != nil {
		slog.Error("failed to connect to index", "err", err)
		return 1
	}
	defer idx.Close()

	if *verify != "" {
		return runVerify(ctx, enc, idx, cfg.Pipeline.AcceptThreshold, *verify)
	}
	return runSeed(ctx, enc, idx, *catalogPath)
}

// runSeed embeds every catalog entry and upserts the records in one batch.
func runSeed(ctx context.Context, enc encoder.Provider, idx alerts.Index, catalogPath string) int {
	cat, err := LoadCatalog(catalogPath)
	if err != nil {
		slog.Error("failed to load catalog", "err", err)
		return 1
	}

	records := make([]alerts.Record, len(cat.Alerts))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(encodeConcurrency)
	for i, entry := range cat.Alerts {
		g.Go(func() error {
			vec, err := enc.EmbedText(gctx, entry.EmbedText())
			if err != nil {
				return fmt.Errorf("embed %q: %w", entry.ID, err)
			}
			mu.Lock()
			records[i] = entry.Record(vec)
			mu.Unlock()
			slog.Debug("embedded alert", "id", entry.ID, "text", entry.EmbedText())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("embedding failed", "err", err)
		return 1
	}

	if err := idx.Upsert(ctx, records); err != nil {
		slog.Error("upsert failed", "err", err)
		return 1
	}

	slog.Info("catalog seeded", "alerts", len(records))
	return 0
}

// runVerify embeds text and prints the best match with its score, flagging
// whether it would clear the acceptance threshold.
func runVerify(ctx context.Context, enc encoder.Provider, idx alerts.Index, threshold float64, text string) int {
	vec, err := enc.EmbedText(ctx, text)
	if err != nil {
		slog.Error("embedding failed", "err", err)
		return 1
	}

	// No score floor here: calibration needs to see sub-threshold scores too.
	matches, err := idx.Search(ctx, vec, 1, -1)
	if err != nil {
		slog.Error("search failed", "err", err)
		return 1
	}
	if len(matches) == 0 {
		fmt.Println("no matches in index")
		return 0
	}

	m := matches[0]
	verdict := "below threshold, would be ignored"
	if m.Score >= threshold {
		verdict = "above threshold, would inject"
	}
	fmt.Printf("best match: %s (score %.4f, threshold %.4f) — %s\n", m.ID, m.Score, threshold, verdict)
	for k, v := range m.Metadata {
		fmt.Printf("  %s: %s\n", k, v)
	}
	return 0
}
