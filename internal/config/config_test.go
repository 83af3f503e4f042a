package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxdeck/internal/config"
	"github.com/MrWong99/voxdeck/pkg/audio"
	audiomock "github.com/MrWong99/voxdeck/pkg/audio/mock"
	"github.com/MrWong99/voxdeck/pkg/speech"
	speechmock "github.com/MrWong99/voxdeck/pkg/speech/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["localhost:5173"]

speech:
  default_language: th-TH
  primary_language: th
  languages: [th, en]
  engines:
    - name: espeak
      binary: espeak-ng

capture:
  microphone:
    name: malgo
    device: "USB Microphone"
  sample_rate: 22050
  chunk_interval: 500ms

remote:
  enabled: true
  api_key: demo
  timeout: 10s
  rate_limit: 2
  breaker:
    max_failures: 3
    reset_timeout: 1m

mcp:
  enabled: true
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if len(cfg.Speech.Engines) != 1 || cfg.Speech.Engines[0].Binary != "espeak-ng" {
		t.Errorf("speech.engines: got %+v", cfg.Speech.Engines)
	}
	if cfg.Capture.Microphone.Device != "USB Microphone" {
		t.Errorf("capture.microphone.device: got %q", cfg.Capture.Microphone.Device)
	}
	if cfg.Capture.ChunkInterval != 500*time.Millisecond {
		t.Errorf("capture.chunk_interval: got %s, want 500ms", cfg.Capture.ChunkInterval)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("remote.timeout: got %s, want 10s", cfg.Remote.Timeout)
	}
	if cfg.Remote.Breaker.ResetTimeout != time.Minute {
		t.Errorf("remote.breaker.reset_timeout: got %s", cfg.Remote.Breaker.ResetTimeout)
	}
	if !cfg.MCP.Enabled {
		t.Error("mcp.enabled: got false")
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.Channels != config.DefaultChannels {
		t.Errorf("capture.channels: got %d, want %d", cfg.Capture.Channels, config.DefaultChannels)
	}
	if cfg.Remote.Burst != 1 {
		t.Errorf("remote.burst: got %d, want 1", cfg.Remote.Burst)
	}
	if cfg.MCP.Path != config.DefaultMCPPath {
		t.Errorf("mcp.path: got %q", cfg.MCP.Path)
	}
	if cfg.Telemetry.MetricsPath != config.DefaultMetricsPath {
		t.Errorf("telemetry.metrics_path: got %q", cfg.Telemetry.MetricsPath)
	}
	if cfg.Server.ShutdownTimeout != config.DefaultShutdownTimeout {
		t.Errorf("server.shutdown_timeout: got %s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): unexpected error: %v", doc, err)
		}
		if cfg.Speech.DefaultLanguage != "th-TH" {
			t.Errorf("LoadFromReader(%q): default_language = %q", doc, cfg.Speech.DefaultLanguage)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("LoadFromReader(%q): listen_addr = %q", doc, cfg.Server.ListenAddr)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if len(cfg.Speech.Engines) != 1 || cfg.Speech.Engines[0].Name != "espeak" {
		t.Errorf("engines: got %+v", cfg.Speech.Engines)
	}
	if cfg.Capture.Microphone.Name != "" {
		t.Errorf("microphone should be disabled by default, got %q", cfg.Capture.Microphone.Name)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	if _, err := reg.CreateEngine(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEngine: want ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateMicrophone(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateMicrophone: want ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterEngine("stub", func(e config.ProviderEntry) (speech.Engine, error) {
		gotEntry = e
		return &speechmock.Engine{}, nil
	})
	reg.RegisterMicrophone("stub", func(config.ProviderEntry) (audio.Microphone, error) {
		return &audiomock.Microphone{}, nil
	})

	eng, err := reg.CreateEngine(config.ProviderEntry{Name: "stub", Binary: "/bin/say"})
	if err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	if eng == nil {
		t.Fatal("CreateEngine returned nil engine")
	}
	if gotEntry.Binary != "/bin/say" {
		t.Errorf("factory entry binary: got %q", gotEntry.Binary)
	}
	if _, err := reg.CreateMicrophone(config.ProviderEntry{Name: "stub"}); err != nil {
		t.Fatalf("CreateMicrophone: %v", err)
	}
	if names := reg.Engines(); len(names) != 1 || names[0] != "stub" {
		t.Errorf("Engines: got %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterEngine("broken", func(config.ProviderEntry) (speech.Engine, error) {
		return nil, speech.ErrUnavailable
	})
	_, err := reg.CreateEngine(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("want ErrUnavailable, got %v", err)
	}
}
