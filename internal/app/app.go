// Package app wires all voxdeck subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and runs the background watchers, and Shutdown
// tears everything down in order.
//
// Device-facing dependencies (engines, voice source, microphone, remote
// client) are passed in through [Providers] so tests can supply mocks. main
// builds them from the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxdeck/internal/capture"
	"github.com/MrWong99/voxdeck/internal/config"
	"github.com/MrWong99/voxdeck/internal/events"
	"github.com/MrWong99/voxdeck/internal/health"
	"github.com/MrWong99/voxdeck/internal/mcpserver"
	"github.com/MrWong99/voxdeck/internal/observe"
	"github.com/MrWong99/voxdeck/internal/recording"
	"github.com/MrWong99/voxdeck/internal/remote"
	"github.com/MrWong99/voxdeck/internal/resilience"
	"github.com/MrWong99/voxdeck/internal/speaker"
	"github.com/MrWong99/voxdeck/internal/web"
	"github.com/MrWong99/voxdeck/pkg/audio"
	"github.com/MrWong99/voxdeck/pkg/provider/tts/iapp"
	"github.com/MrWong99/voxdeck/pkg/speech"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// NamedEngine is one on-device engine in preference order.
type NamedEngine struct {
	Name   string
	Engine speech.Engine
}

// Providers holds the device-facing dependencies. Nil Voices yields an empty
// catalog, nil Microphone disables recording and nil Remote makes New build
// an iApp client from the config when remote synthesis is enabled.
type Providers struct {
	Engines    []NamedEngine
	Voices     voice.Source
	Microphone audio.Microphone
	Remote     remote.Client
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	watcher   *config.Watcher
	listener  net.Listener
	version   string

	// Subsystems, initialised in New and torn down in Shutdown.
	hub         *events.Hub
	registry    *recording.Registry
	catalog     *voice.Catalog
	engine      *resilience.EngineFallback
	coordinator *capture.Coordinator
	speaker     *speaker.Speaker
	remote      *remote.Service
	mcp         *mcpserver.Server
	handler     http.Handler

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithTelemetry records metrics on t and serves its scrape handler.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithWatcher runs w during Run. Pass [App.Reload] as its callback.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It touches no
// device: microphone authorisation is deferred to the first recording.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.telemetry != nil {
		a.metrics = a.telemetry.Metrics
	} else {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Events and recordings ─────────────────────────────────────────
	a.hub = events.NewHub(events.WithMetrics(a.metrics))
	a.registry = recording.NewRegistry(recording.WithOnChange(a.publishRecordingChange))

	// ── 2. Voice catalog ─────────────────────────────────────────────────
	a.catalog = voice.NewCatalog(providers.Voices,
		voice.WithLanguages(cfg.Speech.Languages...),
		voice.WithPrimaryLanguage(cfg.Speech.PrimaryLanguage),
		voice.WithNotify(func(s voice.Snapshot) { a.hub.Publish(events.VoicesChanged, s) }),
	)

	// ── 3. Engines ───────────────────────────────────────────────────────
	a.engine = resilience.NewEngineFallback(resilience.FallbackConfig{})
	for _, e := range providers.Engines {
		a.engine.Add(e.Name, e.Engine)
	}

	// ── 4. Capture ───────────────────────────────────────────────────────
	if providers.Microphone != nil {
		a.coordinator = capture.New(providers.Microphone, a.registry,
			capture.WithFormat(audio.Format{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels}),
			capture.WithChunkInterval(cfg.Capture.ChunkInterval),
			capture.WithMetrics(a.metrics),
		)
	}

	// ── 5. Speaker ───────────────────────────────────────────────────────
	spOpts := []speaker.Option{
		speaker.WithVoices(a.catalog),
		speaker.WithBuilder(speech.Builder{DefaultLanguage: cfg.Speech.DefaultLanguage}),
		speaker.WithEvents(a.hub),
		speaker.WithMetrics(a.metrics),
	}
	if a.coordinator != nil {
		spOpts = append(spOpts, speaker.WithCapture(a.coordinator))
	}
	a.speaker = speaker.New(a.engine, spOpts...)

	// ── 6. Remote synthesis ──────────────────────────────────────────────
	if cfg.Remote.Enabled {
		a.remote = a.newRemote()
	}

	// ── 7. MCP ───────────────────────────────────────────────────────────
	if cfg.MCP.Enabled {
		a.mcp = mcpserver.New(mcpserver.Deps{
			Speaker:  a.speaker,
			Voices:   a.catalog,
			Registry: a.registry,
			Remote:   a.remote,
		},
			mcpserver.WithMetrics(a.metrics),
			mcpserver.WithVersion(a.version),
			mcpserver.WithSpeakTimeout(cfg.MCP.SpeakTimeout),
		)
	}

	// ── 8. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.routes()

	slog.Info("application initialised",
		"engines", a.engine.Names(),
		"recording", a.coordinator != nil,
		"remote", a.remote != nil,
		"mcp", a.mcp != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) newRemote() *remote.Service {
	client := a.providers.Remote
	if client == nil {
		var opts []iapp.Option
		if a.cfg.Remote.BaseURL != "" {
			opts = append(opts, iapp.WithBaseURL(a.cfg.Remote.BaseURL))
		}
		opts = append(opts, iapp.WithTimeout(a.cfg.Remote.Timeout))
		client = iapp.New(opts...)
	}

	opts := []remote.Option{
		remote.WithAPIKey(a.cfg.Remote.APIKey),
		remote.WithMetrics(a.metrics),
		remote.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Remote.Breaker.MaxFailures,
			ResetTimeout: a.cfg.Remote.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				a.hub.Publish(events.Notification, map[string]string{
					"message": fmt.Sprintf("%s breaker %s", name, to),
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
	}
	if r := a.cfg.Remote.RateLimit; r > 0 {
		opts = append(opts, remote.WithRateLimit(rate.NewLimiter(rate.Limit(r), a.cfg.Remote.Burst)))
	}
	return remote.New(client, a.registry, opts...)
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	web.New(web.Deps{
		Speaker:  a.speaker,
		Voices:   a.catalog,
		Registry: a.registry,
		Remote:   a.remote,
		Capture:  a.coordinator,
		Events:   a.hub,
	},
		web.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
		web.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
	).Register(mux)

	a.healthHandler().Register(mux)

	if a.telemetry != nil {
		mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.telemetry.Handler())
	}
	if a.mcp != nil {
		mux.Handle(a.cfg.MCP.Path, a.mcp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) healthHandler() *health.Handler {
	checkers := []health.Checker{
		{Name: "engine", Check: a.engine.Check},
	}
	if a.coordinator != nil {
		checkers = append(checkers, health.Checker{
			Name:     "microphone",
			Optional: true,
			Check: func(context.Context) error {
				if a.coordinator.Status().Permission == audio.PermissionDenied {
					return capture.ErrPermissionDenied
				}
				return nil
			},
		})
	}
	if a.remote != nil {
		checkers = append(checkers, health.Checker{Name: "remote", Optional: true, Check: a.remote.Check})
	}
	return health.New(checkers...)
}

func (a *App) publishRecordingChange(c recording.Change) {
	switch c.Kind {
	case recording.ChangeAdded:
		a.hub.Publish(events.RecordingAdded, c.Artifact)
	case recording.ChangeRemoved:
		a.hub.Publish(events.RecordingRemoved, map[string]string{"id": c.Artifact.ID})
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// Speaker returns the on-device speech driver.
func (a *App) Speaker() *speaker.Speaker { return a.speaker }

// Registry returns the recording registry.
func (a *App) Registry() *recording.Registry { return a.registry }

// Catalog returns the voice catalog.
func (a *App) Catalog() *voice.Catalog { return a.catalog }

// Events returns the event hub.
func (a *App) Events() *events.Hub { return a.hub }

// Remote returns the remote synthesis service, or nil when disabled.
func (a *App) Remote() *remote.Service { return a.remote }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and runs the catalog and config watchers until ctx is
// cancelled or the server fails. A cancelled ctx is not an error.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.catalog.Watch(gctx)
	})
	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Reload applies the hot-reloadable parts of a changed config. It matches
// the [config.Watcher] callback signature.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RemoteKeyChanged && a.remote != nil {
		a.remote.SetAPIKey(d.NewRemoteKey)
		slog.Info("remote API key updated", "configured", d.NewRemoteKey != "")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.hub.Publish(events.Notification, map[string]any{
		"message":          "configuration reloaded",
		"restart_required": d.RestartRequired,
	})
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the current utterance, finalises any open recording,
// releases the microphone and closes all event streams. It respects the
// context deadline for the speech stop.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.speaker.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: stop speaker: %w", err))
		}
		if a.coordinator != nil {
			if err := a.coordinator.Close(); err != nil {
				errs = append(errs, fmt.Errorf("app: close capture: %w", err))
			}
		}
		a.hub.Close()

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
