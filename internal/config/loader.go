package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"engine":     {"espeak"},
	"microphone": {"malgo"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLanguage        = "th-TH"
	DefaultPrimary         = "th"
	DefaultSampleRate      = 16000
	DefaultChannels        = 1
	DefaultChunkInterval   = time.Second
	DefaultRemoteTimeout   = 30 * time.Second
	DefaultMCPPath         = "/mcp"
	DefaultSpeakTimeout    = 2 * time.Minute
	DefaultMetricsPath     = "/metrics"
)

// DefaultLanguages are the catalog language families used when none are
// configured.
var DefaultLanguages = []string{"th", "en", "ja"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, as used when no
// config file is given.
func Default() *Config {
	cfg := &Config{
		Speech: SpeechConfig{Engines: []ProviderEntry{{Name: "espeak"}}},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Speech.DefaultLanguage == "" {
		cfg.Speech.DefaultLanguage = DefaultLanguage
	}
	if cfg.Speech.PrimaryLanguage == "" {
		cfg.Speech.PrimaryLanguage = DefaultPrimary
	}
	if len(cfg.Speech.Languages) == 0 {
		cfg.Speech.Languages = slices.Clone(DefaultLanguages)
	}

	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = DefaultChannels
	}
	if cfg.Capture.ChunkInterval == 0 {
		cfg.Capture.ChunkInterval = DefaultChunkInterval
	}

	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = DefaultRemoteTimeout
	}
	if cfg.Remote.RateLimit > 0 && cfg.Remote.Burst == 0 {
		cfg.Remote.Burst = 1
	}

	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
	if cfg.MCP.SpeakTimeout == 0 {
		cfg.MCP.SpeakTimeout = DefaultSpeakTimeout
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "voxdeck"
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Speech
	if cfg.Speech.DefaultLanguage != "" {
		if _, err := language.Parse(cfg.Speech.DefaultLanguage); err != nil {
			errs = append(errs, fmt.Errorf("speech.default_language %q is not a valid BCP-47 tag: %w", cfg.Speech.DefaultLanguage, err))
		}
	}
	if len(cfg.Speech.Engines) == 0 {
		slog.Warn("speech.engines is empty; on-device speech will not be available")
	}
	engineNamesSeen := make(map[string]int, len(cfg.Speech.Engines))
	for i, e := range cfg.Speech.Engines {
		prefix := fmt.Sprintf("speech.engines[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		key := e.Name + "\x00" + e.Binary
		if prev, ok := engineNamesSeen[key]; ok {
			errs = append(errs, fmt.Errorf("%s is a duplicate of speech.engines[%d]", prefix, prev))
		}
		engineNamesSeen[key] = i
		validateProviderName("engine", e.Name)
	}

	// Capture
	validateProviderName("microphone", cfg.Capture.Microphone.Name)
	if sr := cfg.Capture.SampleRate; sr != 0 && (sr < 8000 || sr > 192000) {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d is out of range [8000, 192000]", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is invalid; valid values: 1, 2", cfg.Capture.Channels))
	}
	if cfg.Capture.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_interval %s must not be negative", cfg.Capture.ChunkInterval))
	}

	// Remote
	if cfg.Remote.BaseURL != "" {
		if u, err := url.Parse(cfg.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url %q must be an absolute URL", cfg.Remote.BaseURL))
		}
	}
	if cfg.Remote.Timeout < 0 {
		errs = append(errs, fmt.Errorf("remote.timeout %s must not be negative", cfg.Remote.Timeout))
	}
	if cfg.Remote.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("remote.rate_limit %g must not be negative", cfg.Remote.RateLimit))
	}
	if cfg.Remote.Burst < 0 {
		errs = append(errs, fmt.Errorf("remote.burst %d must not be negative", cfg.Remote.Burst))
	}
	if cfg.Remote.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("remote.breaker.max_failures %d must not be negative", cfg.Remote.Breaker.MaxFailures))
	}
	if cfg.Remote.Enabled && cfg.Remote.APIKey == "" {
		slog.Warn("remote.api_key is empty; every remote request must carry its own key")
	}

	// MCP
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if cfg.Telemetry.MetricsPath != "" && !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", cfg.Telemetry.MetricsPath))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
