// Command voxdeck is the main entry point for the voxdeck speech studio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/MrWong99/voxdeck/internal/app"
	"github.com/MrWong99/voxdeck/internal/config"
	"github.com/MrWong99/voxdeck/internal/observe"
	"github.com/MrWong99/voxdeck/pkg/audio"
	"github.com/MrWong99/voxdeck/pkg/audio/malgo"
	"github.com/MrWong99/voxdeck/pkg/speech"
	"github.com/MrWong99/voxdeck/pkg/speech/espeak"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voxdeck", version)
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level var lets config reloads change verbosity without a restart.
	levelVar := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg         *config.Config
		watcher     *config.Watcher
		application *app.App
	)
	if *configPath == "" {
		cfg = config.Default()
	} else {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			// The watcher only polls inside application.Run, so application
			// is set by the time this runs.
			application.Reload(old, new)
		})
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voxdeck: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "voxdeck: %v\n", err)
			}
			return 1
		}
		watcher = w
		cfg = w.Current()
	}
	levelVar.Set(cfg.Server.LogLevel.Level())

	slog.Info("voxdeck starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	opts := []app.Option{
		app.WithTelemetry(tel),
		app.WithLevelVar(levelVar),
		app.WithVersion(version),
	}
	if watcher != nil {
		opts = append(opts, app.WithWatcher(watcher))
	}
	application, err = app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Engines ───────────────────────────────────────────────────────────────

	reg.RegisterEngine("espeak", func(entry config.ProviderEntry) (speech.Engine, error) {
		var opts []espeak.Option
		if entry.Binary != "" {
			opts = append(opts, espeak.WithBinary(entry.Binary))
		}
		e, err := espeak.New(opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	})

	// ── Microphones ───────────────────────────────────────────────────────────

	reg.RegisterMicrophone("malgo", func(entry config.ProviderEntry) (audio.Microphone, error) {
		opts := []malgo.Option{malgo.WithDevice(entry.Device)}
		if n, ok := optInt(entry.Options, "period_frames"); ok && n > 0 {
			opts = append(opts, malgo.WithPeriodFrames(uint32(n)))
		}
		return malgo.New(opts...), nil
	})
}

// buildProviders instantiates the configured engines and microphone. An
// engine that cannot start (e.g. a missing binary) is logged and skipped so
// the rest of the studio stays usable.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	p := &app.Providers{}

	for i, entry := range cfg.Speech.Engines {
		eng, err := reg.CreateEngine(entry)
		if errors.Is(err, speech.ErrUnavailable) {
			slog.Warn("speech engine unavailable", "engine", entry.Name, "err", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("speech.engines[%d]: %w", i, err)
		}
		name := entry.Name
		if b, ok := eng.(interface{ Binary() string }); ok {
			name += ":" + b.Binary()
			slog.Info("speech engine ready", "engine", entry.Name, "binary", b.Binary())
		}
		p.Engines = append(p.Engines, app.NamedEngine{Name: name, Engine: eng})
		if src, ok := eng.(voice.Source); ok && p.Voices == nil {
			p.Voices = src
		}
	}

	if entry := cfg.Capture.Microphone; entry.Name != "" {
		mic, err := reg.CreateMicrophone(entry)
		if err != nil {
			return nil, fmt.Errorf("capture.microphone: %w", err)
		}
		p.Microphone = mic
	}
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, p *app.Providers) {
	engines := "(none available)"
	if len(p.Engines) > 0 {
		engines = p.Engines[0].Name
		if name, bin, ok := strings.Cut(engines, ":"); ok {
			engines = name + ":" + filepath.Base(bin)
		}
		if len(p.Engines) > 1 {
			engines += fmt.Sprintf(" +%d", len(p.Engines)-1)
		}
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxdeck startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Engines", engines)
	printRow("Microphone", orDisabled(cfg.Capture.Microphone.Name))
	remote := "(disabled)"
	if cfg.Remote.Enabled {
		remote = "iapp"
	}
	printRow("Remote TTS", remote)
	mcp := "(disabled)"
	if cfg.MCP.Enabled {
		mcp = cfg.MCP.Path
	}
	printRow("MCP", mcp)
	printRow("Language", cfg.Speech.DefaultLanguage)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func orDisabled(name string) string {
	if name == "" {
		return "(disabled)"
	}
	return name
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer value from a provider Options map[string]any.
// YAML decodes whole numbers as int; floats with no fraction are accepted.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
