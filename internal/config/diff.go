package config

// Diff describes what changed between two configuration snapshots. Only
// fields in the safe-to-reload subset are tracked; critical fields (ports,
// region, model id, auth token) require a process restart to take effect and
// are intentionally absent here.
type Diff struct {
	LoggingLevelChanged bool
	NewLoggingLevel     string

	StaleSessionTimeoutChanged bool
	NewStaleSessionTimeoutMs   int

	BufferPoolThresholdChanged bool
	NewBufferPoolThreshold     float64
}

// Changed reports whether any safe-reload field differs.
func (d Diff) Changed() bool {
	return d.LoggingLevelChanged || d.StaleSessionTimeoutChanged || d.BufferPoolThresholdChanged
}

// DiffSafe compares two configs and returns only the safe-to-reload changes.
func DiffSafe(old, new *Config) Diff {
	var d Diff
	if old.Logging.Level != new.Logging.Level {
		d.LoggingLevelChanged = true
		d.NewLoggingLevel = new.Logging.Level
	}
	if old.HealthCheck.StaleSessionTimeoutMs != new.HealthCheck.StaleSessionTimeoutMs {
		d.StaleSessionTimeoutChanged = true
		d.NewStaleSessionTimeoutMs = new.HealthCheck.StaleSessionTimeoutMs
	}
	if old.BufferPool.MemoryPressureThreshold != new.BufferPool.MemoryPressureThreshold {
		d.BufferPoolThresholdChanged = true
		d.NewBufferPoolThreshold = new.BufferPool.MemoryPressureThreshold
	}
	return d
}
