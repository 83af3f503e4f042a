// Package remote turns remote text-to-speech responses into recording
// artifacts.
//
// A [Service] validates the request, resolves the API key, forwards the call
// to the iApp client behind a circuit breaker and an optional rate limiter,
// and registers the returned MP3 as an artifact tagged with its voice style.
// Failed calls are never retried.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxdeck/internal/observe"
	"github.com/MrWong99/voxdeck/internal/recording"
	"github.com/MrWong99/voxdeck/internal/resilience"
	"github.com/MrWong99/voxdeck/pkg/provider/tts/iapp"
)

var (
	// ErrRemoteRequest wraps every failure of the remote call itself:
	// network errors, rejected keys, unexpected statuses and an open breaker.
	ErrRemoteRequest = errors.New("remote: request failed")

	// ErrMissingAPIKey is returned when neither the caller nor the
	// configuration supplies an API key.
	ErrMissingAPIKey = errors.New("remote: api key required")
)

// Client is the subset of [iapp.Client] used by the service.
type Client interface {
	Synthesize(ctx context.Context, text string, style iapp.Style, apiKey string) ([]byte, error)
}

var _ Client = (*iapp.Client)(nil)

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithAPIKey sets the key used when a request does not carry one.
func WithAPIKey(key string) Option {
	return func(s *Service) {
		s.apiKey = key
	}
}

// WithRateLimit bounds the request rate. A nil limiter disables limiting.
func WithRateLimit(l *rate.Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithBreaker overrides the circuit breaker settings. The Name and Ignore
// fields are always set by the service.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Service) {
		s.breakerCfg = cfg
	}
}

// WithMetrics records request metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides time.Now for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service performs remote synthesis and registers the results. It is safe
// for concurrent use.
type Service struct {
	client     Client
	registry   *recording.Registry
	limiter    *rate.Limiter
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
	now        func() time.Time

	mu     sync.RWMutex
	apiKey string
}

// New creates a Service that registers artifacts in registry.
func New(client Client, registry *recording.Registry, opts ...Option) *Service {
	s := &Service{
		client:   client,
		registry: registry,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	cfg := s.breakerCfg
	cfg.Name = "remote-tts"
	cfg.Ignore = callerError
	s.breaker = resilience.NewCircuitBreaker(cfg)
	return s
}

// callerError reports errors caused by the request rather than by the
// remote endpoint's health.
func callerError(err error) bool {
	return errors.Is(err, iapp.ErrUnauthorized) ||
		errors.Is(err, iapp.ErrEmptyText) ||
		errors.Is(err, iapp.ErrUnknownStyle) ||
		errors.Is(err, context.Canceled)
}

// SetAPIKey replaces the fallback API key. Used by config hot reload.
func (s *Service) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = key
}

// HasAPIKey reports whether a fallback API key is configured.
func (s *Service) HasAPIKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey != ""
}

// ResetBreaker closes the remote circuit breaker so the next request reaches
// the endpoint again.
func (s *Service) ResetBreaker() { s.breaker.Reset() }

// BreakerState returns the state of the remote circuit breaker.
func (s *Service) BreakerState() resilience.State { return s.breaker.State() }

// Check is a readiness check that fails while the breaker is open.
func (s *Service) Check(_ context.Context) error {
	if s.breaker.State() == resilience.StateOpen {
		return fmt.Errorf("remote: circuit breaker %s is open", s.breaker.Name())
	}
	return nil
}

// Synthesize requests audio for text in style and registers it. An empty
// apiKey falls back to the configured key.
//
// Validation failures wrap [iapp.ErrEmptyText], [iapp.ErrUnknownStyle] or
// [ErrMissingAPIKey]; everything that goes wrong after the request is sent
// wraps [ErrRemoteRequest].
func (s *Service) Synthesize(ctx context.Context, text, style, apiKey string) (art recording.Artifact, err error) {
	ctx, span := observe.StartSpan(ctx, "remote.synthesize",
		trace.WithAttributes(attribute.String("style", style), attribute.Int("text.length", len(text))))
	defer func() { observe.EndSpan(span, err) }()

	st, err := iapp.ParseStyle(style)
	if err != nil {
		return recording.Artifact{}, err
	}
	if strings.TrimSpace(text) == "" {
		return recording.Artifact{}, iapp.ErrEmptyText
	}
	if apiKey == "" {
		s.mu.RLock()
		apiKey = s.apiKey
		s.mu.RUnlock()
	}
	if apiKey == "" {
		return recording.Artifact{}, ErrMissingAPIKey
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return recording.Artifact{}, fmt.Errorf("%w: rate limit: %w", ErrRemoteRequest, err)
		}
	}

	start := time.Now()
	var audio []byte
	err = s.breaker.Execute(func() error {
		var callErr error
		audio, callErr = s.client.Synthesize(ctx, text, st, apiKey)
		return callErr
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.record(ctx, st, "error", elapsed)
		observe.Logger(ctx).Warn("remote synthesis failed", "style", st, "err", err)
		return recording.Artifact{}, fmt.Errorf("%w: %w", ErrRemoteRequest, err)
	}

	now := s.now()
	art, err = recording.NewArtifact(now, recording.SourceRemote, text, audio,
		iapp.ContentType, fmt.Sprintf("iapp-%s-%d.mp3", st, now.UnixMilli()))
	if err != nil {
		return recording.Artifact{}, err
	}
	art.Style = string(st)
	s.registry.Add(art)

	s.record(ctx, st, "ok", elapsed)
	if s.metrics != nil {
		s.metrics.RecordRecording(ctx, string(recording.SourceRemote))
	}
	observe.Logger(ctx).Info("remote synthesis registered",
		"id", art.ID,
		"style", st,
		"bytes", len(audio))
	return art, nil
}

func (s *Service) record(ctx context.Context, st iapp.Style, status string, seconds float64) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRemoteRequest(ctx, string(st), status, seconds)
	if status != "ok" {
		s.metrics.RecordError(ctx, "remote_request")
	}
}
