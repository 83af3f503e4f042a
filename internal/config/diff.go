package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RemoteKeyChanged bool
	NewRemoteKey     string

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RemoteKeyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Remote.APIKey != new.Remote.APIKey {
		d.RemoteKeyChanged = true
		d.NewRemoteKey = new.Remote.APIKey
	}

	// Compare the remaining fields with the hot-reloadable ones masked out.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !serverEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !speechEqual(old.Speech, new.Speech) {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if !captureEqual(old.Capture, new.Capture) {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	oldRemote, newRemote := old.Remote, new.Remote
	oldRemote.APIKey, newRemote.APIKey = "", ""
	if oldRemote != newRemote {
		d.RestartRequired = append(d.RestartRequired, "remote")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	return a.ListenAddr == b.ListenAddr &&
		a.LogLevel == b.LogLevel &&
		slices.Equal(a.AllowedOrigins, b.AllowedOrigins) &&
		a.MaxBodyBytes == b.MaxBodyBytes &&
		a.ShutdownTimeout == b.ShutdownTimeout
}

func speechEqual(a, b SpeechConfig) bool {
	return a.DefaultLanguage == b.DefaultLanguage &&
		a.PrimaryLanguage == b.PrimaryLanguage &&
		slices.Equal(a.Languages, b.Languages) &&
		slices.EqualFunc(a.Engines, b.Engines, entryEqual)
}

func captureEqual(a, b CaptureConfig) bool {
	return entryEqual(a.Microphone, b.Microphone) &&
		a.SampleRate == b.SampleRate &&
		a.Channels == b.Channels &&
		a.ChunkInterval == b.ChunkInterval
}

// entryEqual compares provider entries. Nil and empty Options are equal.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.Binary != b.Binary || a.Device != b.Device {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
