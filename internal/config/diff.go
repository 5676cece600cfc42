package config

// ConfigDiff describes what changed between two configs and whether the change
// can be applied without restarting the streaming session.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level differs. Log level can be
	// hot-applied.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SchedulerChanged is true when any scheduler tuning value differs.
	// Tuning takes effect on the next engine start.
	SchedulerChanged bool

	// RestartRequired is true when the Azure connection, translation, or audio
	// settings differ. These are fixed for the lifetime of a session.
	RestartRequired bool
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SchedulerChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Scheduler != new.Scheduler {
		d.SchedulerChanged = true
	}

	if old.Azure != new.Azure ||
		old.Translation != new.Translation ||
		old.Audio != new.Audio {
		d.RestartRequired = true
	}

	return d
}
