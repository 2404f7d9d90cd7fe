package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the acceptance
// threshold (applies to the next retrieval cycle of every live session) and
// the log level. Window geometry and addresses require a restart.
type ConfigDiff struct {
	ThresholdChanged bool
	NewThreshold     float64

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Pipeline.AcceptThreshold != new.Pipeline.AcceptThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Pipeline.AcceptThreshold
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	return d
}
