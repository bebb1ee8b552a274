package config

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied to a running pipeline; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections whose changes take effect
	// only after a restart, in schema order.
	RestartRequired []string
}

// Changed reports whether d contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Service != new.Service {
		d.RestartRequired = append(d.RestartRequired, "service")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Reconnect != new.Reconnect {
		d.RestartRequired = append(d.RestartRequired, "reconnect")
	}
	if old.Diagnostics != new.Diagnostics {
		d.RestartRequired = append(d.RestartRequired, "diagnostics")
	}

	return d
}
