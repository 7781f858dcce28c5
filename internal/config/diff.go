package config

import "slices"

// ConfigDiff describes what changed between two configs.
//
// Only the log level and the per-session part of the live section can be
// applied without a restart; every other changed key is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when [LiveConfig.Session] differs. The new value
	// applies from the next activation.
	SessionChanged bool

	// RestartRequired lists the dotted keys that changed but are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Live.Session(), new.Live.Session()
	if o.Model != n.Model || o.Voice != n.Voice || o.Instructions != n.Instructions ||
		o.OutputTranscription != n.OutputTranscription || !slices.Equal(o.Modalities, n.Modalities) {
		d.SessionChanged = true
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("live.provider", old.Live.Provider != new.Live.Provider)
	restart("live.api_key", old.Live.APIKey != new.Live.APIKey)
	restart("live.base_url", old.Live.BaseURL != new.Live.BaseURL)
	restart("live.connect_timeout", old.Live.ConnectTimeout != new.Live.ConnectTimeout)
	restart("audio", old.Audio != new.Audio)
	restart("capture", old.Capture != new.Capture)
	restart("caption", old.Caption != new.Caption)
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}
