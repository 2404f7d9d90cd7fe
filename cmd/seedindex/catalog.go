package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ranhill/speechrag/pkg/alerts"
)

// CatalogEntry is one alert in the YAML seed catalog.
type CatalogEntry struct {
	// ID uniquely identifies the alert. Seeding the same ID again replaces
	// the stored vector and metadata.
	ID string `yaml:"id"`

	// Location is the affected site (e.g. "Senai").
	Location string `yaml:"location"`

	// Status describes the incident (e.g. "Low Pressure").
	Status string `yaml:"status"`

	// ETA is the expected recovery time (e.g. "2h"). Optional.
	ETA string `yaml:"eta"`

	// Description is free-text operator context carried in the record
	// metadata. Optional; not part of the embedded text.
	Description string `yaml:"description"`
}

// Catalog is the root of the YAML seed file.
type Catalog struct {
	Alerts []CatalogEntry `yaml:"alerts"`
}

// LoadCatalog reads and validates the seed catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", path, err)
	}
	defer f.Close()

	var cat Catalog
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("parse catalog %q: %w", path, err)
	}

	if len(cat.Alerts) == 0 {
		return nil, fmt.Errorf("catalog %q contains no alerts", path)
	}
	seen := make(map[string]bool, len(cat.Alerts))
	for i, a := range cat.Alerts {
		if a.ID == "" {
			return nil, fmt.Errorf("catalog %q: alert %d is missing an id", path, i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("catalog %q: duplicate alert id %q", path, a.ID)
		}
		seen[a.ID] = true
		if a.Location == "" || a.Status == "" {
			return nil, fmt.Errorf("catalog %q: alert %q needs both location and status", path, a.ID)
		}
	}
	return &cat, nil
}

// EmbedText returns the text that gets encoded for this entry. Matching is
// driven by location and status only; the recovery ETA is display metadata.
func (e CatalogEntry) EmbedText() string {
	return e.Location + " - " + e.Status
}

// Record converts the entry into an index record with the given vector.
func (e CatalogEntry) Record(vector []float32) alerts.Record {
	md := map[string]string{
		"location": e.Location,
		"status":   e.Status,
	}
	if e.ETA != "" {
		md["eta"] = e.ETA
	}
	if e.Description != "" {
		md["description"] = e.Description
	}
	return alerts.Record{ID: e.ID, Vector: vector, Metadata: md}
}
