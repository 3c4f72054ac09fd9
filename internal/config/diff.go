package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are tracked individually; everything else only sets
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TyposChanged is set when pipeline.extra_typos differs.
	TyposChanged bool

	// RateLimitChanged is set when any rate_limit field differs.
	RateLimitChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether d records any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TyposChanged || d.RateLimitChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !maps.Equal(old.Pipeline.ExtraTypos, new.Pipeline.ExtraTypos) {
		d.TyposChanged = true
	}
	if old.RateLimit != new.RateLimit {
		d.RateLimitChanged = true
	}

	// Compare the remaining fields with the hot-reloadable ones masked out.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	oldPipe, newPipe := old.Pipeline, new.Pipeline
	oldPipe.ExtraTypos, newPipe.ExtraTypos = nil, nil
	if !reflect.DeepEqual(oldPipe, newPipe) {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if !reflect.DeepEqual(old.Telemetry, new.Telemetry) {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
