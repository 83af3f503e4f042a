// Package config provides the configuration schema, loader, and provider registry
// for the voxdeck speech studio.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the voxdeck server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for voxdeck.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Speech    SpeechConfig    `yaml:"speech"`
	Capture   CaptureConfig   `yaml:"capture"`
	Remote    RemoteConfig    `yaml:"remote"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists extra host patterns permitted to open the event
	// websocket (e.g., "localhost:5173"). Same-origin is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxBodyBytes caps JSON request bodies. Default: 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SpeechConfig configures on-device synthesis and the voice catalog.
type SpeechConfig struct {
	// DefaultLanguage is the BCP-47 tag used when neither a voice nor a
	// language is given. Default: "th-TH".
	DefaultLanguage string `yaml:"default_language"`

	// PrimaryLanguage is the language family whose first voice becomes the
	// default voice. Default: "th".
	PrimaryLanguage string `yaml:"primary_language"`

	// Languages restricts the voice catalog to these language families.
	// Default: th, en, ja.
	Languages []string `yaml:"languages"`

	// Engines lists on-device engines in preference order. The first engine
	// that starts an utterance wins. The first engine that also lists voices
	// feeds the catalog.
	Engines []ProviderEntry `yaml:"engines"`
}

// CaptureConfig configures microphone recording.
type CaptureConfig struct {
	// Microphone selects the capture backend. An empty name disables
	// recording; speak requests asking for it then need confirmation.
	Microphone ProviderEntry `yaml:"microphone"`

	// SampleRate is the stored WAV sample rate. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the stored WAV channel count. Default: 1.
	Channels int `yaml:"channels"`

	// ChunkInterval is how often buffered audio is committed to a segment.
	// Default: 1s.
	ChunkInterval time.Duration `yaml:"chunk_interval"`
}

// RemoteConfig configures the iApp remote synthesis endpoint.
type RemoteConfig struct {
	// Enabled turns the remote synthesis routes and tool on.
	Enabled bool `yaml:"enabled"`

	// BaseURL overrides the service's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is used when a request does not carry its own key. It is
	// hot-reloadable.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit is the allowed requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the rate limiter bucket size. Default: 1.
	Burst int `yaml:"burst"`

	// Breaker tunes the circuit breaker guarding the endpoint.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker. Zero values keep the breaker's
// defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// MCPConfig configures the Model Context Protocol tool surface.
type MCPConfig struct {
	// Enabled mounts the streamable HTTP MCP endpoint.
	Enabled bool `yaml:"enabled"`

	// Path is the mount path. Default: "/mcp".
	Path string `yaml:"path"`

	// SpeakTimeout bounds a speak call that waits for completion.
	// Default: 2m.
	SpeakTimeout time.Duration `yaml:"speak_timeout"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default: "voxdeck".
	ServiceName string `yaml:"service_name"`

	// MetricsPath is where the Prometheus scrape handler is mounted.
	// Default: "/metrics".
	MetricsPath string `yaml:"metrics_path"`
}

// ProviderEntry is the common configuration block for engines and
// microphones. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "espeak", "malgo").
	Name string `yaml:"name"`

	// Binary overrides the executable of subprocess-based engines.
	Binary string `yaml:"binary"`

	// Device selects a named device. Empty means the system default.
	Device string `yaml:"device"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}
