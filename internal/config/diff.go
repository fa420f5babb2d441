package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the VAD threshold are applied live; any other change is listed in
// RestartRequired so the caller can warn about it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Admin.LogLevel != new.Admin.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Admin.LogLevel
	}
	if old.VAD.Threshold != new.VAD.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.VAD.Threshold
	}

	// Compare the remaining fields with the live ones masked out.
	oldAdmin, newAdmin := old.Admin, new.Admin
	oldAdmin.LogLevel, newAdmin.LogLevel = "", ""
	oldVAD, newVAD := old.VAD, new.VAD
	oldVAD.Threshold, newVAD.Threshold = 0, 0

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, new.Server},
		{"admin", oldAdmin, newAdmin},
		{"audio", old.Audio, new.Audio},
		{"vad", oldVAD, newVAD},
		{"jitter", old.Jitter, new.Jitter},
		{"reconnect", old.Reconnect, new.Reconnect},
		{"streams", old.Streams, new.Streams},
		{"display", old.Display, new.Display},
		{"journal", old.Journal, new.Journal},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
