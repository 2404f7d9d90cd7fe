package config_test

import (
	"testing"

	"github.com/ranhill/speechrag/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Server.LogLevel = config.LogInfo
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	d := config.Diff(old, new)
	if d.ThresholdChanged || d.LogLevelChanged {
		t.Errorf("Diff of identical configs = %+v, want zero diff", d)
	}
}

func TestDiff_ThresholdChanged(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Pipeline.AcceptThreshold = 0.45

	d := config.Diff(old, new)
	if !d.ThresholdChanged {
		t.Fatal("ThresholdChanged = false, want true")
	}
	if d.NewThreshold != 0.45 {
		t.Errorf("NewThreshold = %v, want 0.45", d.NewThreshold)
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged = true, want false")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
}
