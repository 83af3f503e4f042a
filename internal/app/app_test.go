package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxdeck/internal/app"
	"github.com/MrWong99/voxdeck/internal/config"
	"github.com/MrWong99/voxdeck/internal/events"
	"github.com/MrWong99/voxdeck/internal/recording"
	audiomock "github.com/MrWong99/voxdeck/pkg/audio/mock"
	speechmock "github.com/MrWong99/voxdeck/pkg/speech/mock"
	"github.com/MrWong99/voxdeck/pkg/voice"
	voicemock "github.com/MrWong99/voxdeck/pkg/voice/mock"
)

// testConfig returns the default config with remote synthesis pointed at
// baseURL. An empty baseURL leaves remote synthesis disabled.
func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.ShutdownTimeout = time.Second
	if baseURL != "" {
		cfg.Remote.Enabled = true
		cfg.Remote.BaseURL = baseURL
		cfg.Remote.APIKey = "configured"
	}
	return cfg
}

type fixture struct {
	engine *speechmock.Engine
	mic    *audiomock.Microphone
	source *voicemock.Source
}

func testProviders() (*app.Providers, *fixture) {
	f := &fixture{
		engine: &speechmock.Engine{AutoComplete: true},
		mic:    &audiomock.Microphone{},
		source: voicemock.NewSource(
			voice.Voice{ID: "th-1", Name: "Kanya", Language: "th-TH"},
			voice.Voice{ID: "de-1", Name: "Anna", Language: "de-DE"},
		),
	}
	return &app.Providers{
		Engines:    []app.NamedEngine{{Name: "mock", Engine: f.engine}},
		Voices:     f.source,
		Microphone: f.mic,
	}, f
}

func fakeIApp(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "configured" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ID3"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *fixture) {
	t.Helper()
	providers, f := testProviders()
	a, err := app.New(cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	if _, err := a.Catalog().Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return a, f
}

func TestNew_RoutesServeCatalog(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(""))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/voices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Voices    []voice.Voice `json:"voices"`
		DefaultID string        `json:"default_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// de-DE is outside the default language families.
	if len(body.Voices) != 1 || body.DefaultID != "th-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestNew_OptionalSurfacesDisabled(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(""))

	if a.Remote() != nil {
		t.Error("remote service created while disabled")
	}
	for _, path := range []string{"/mcp", "/metrics"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/remote",
		strings.NewReader(`{"text":"x","style":"kaitom"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("POST /api/remote = %d, want 503", rec.Code)
	}
}

func TestNew_RemoteFromConfig(t *testing.T) {
	t.Parallel()
	api := fakeIApp(t)
	a, _ := newApp(t, testConfig(api.URL))

	sub := a.Events().Subscribe()
	defer sub.Close()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/remote",
		strings.NewReader(`{"text":"สวัสดี","style":"kaitom"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if a.Registry().Len() != 1 {
		t.Errorf("registry len = %d", a.Registry().Len())
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != events.RecordingAdded {
			t.Errorf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no recording event")
	}
}

func TestRegistryRemovalPublishesEvent(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(""))

	art, err := recording.NewArtifact(time.Now(), recording.SourceCapture, "x", []byte{1}, "audio/wav", "x.wav")
	if err != nil {
		t.Fatalf("NewArtifact: %v", err)
	}
	a.Registry().Add(art)

	sub := a.Events().Subscribe()
	defer sub.Close()
	a.Registry().Remove(art.ID)

	select {
	case ev := <-sub.Events():
		if ev.Type != events.RecordingRemoved {
			t.Errorf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	a, _ := newApp(t, testConfig(""))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d, body %s", rec.Code, rec.Body)
	}

	noEngines, err := app.New(testConfig(""), &app.Providers{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = noEngines.Shutdown(context.Background()) })
	rec = httptest.NewRecorder()
	noEngines.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz without engines = %d, want 503", rec.Code)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	api := fakeIApp(t)
	lv := new(slog.LevelVar)
	old := testConfig(api.URL)
	a, _ := newApp(t, old, app.WithLevelVar(lv))

	next := testConfig(api.URL)
	next.Server.LogLevel = config.LogDebug
	next.Remote.APIKey = ""
	a.Reload(old, next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if a.Remote().HasAPIKey() {
		t.Error("remote key should have been cleared")
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a, _ := newApp(t, testConfig(""), app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(url)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_ReleasesMicrophone(t *testing.T) {
	t.Parallel()
	providers, f := testProviders()
	a, err := app.New(testConfig(""), providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sub := a.Events().Subscribe()
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if _, _, _, closes := f.mic.Counts(); closes != 1 {
		t.Errorf("microphone Close calls = %d, want 1", closes)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("event stream still open after Shutdown")
	}
}
