// Package web exposes the studio over a JSON HTTP API.
//
// Routes:
//
//	GET    /api/voices                  filtered voice catalog and default voice
//	POST   /api/speak                   start an utterance (?wait=1 blocks until it ends)
//	POST   /api/speak/cancel            stop the utterance and finalize its recording
//	GET    /api/status                  speaking, capture and registry state
//	POST   /api/remote                  remote synthesis into a new recording
//	POST   /api/remote/breaker/reset    close the remote circuit breaker
//	GET    /api/recordings              recordings, newest first
//	DELETE /api/recordings/{id}         remove a recording
//	GET    /api/recordings/{id}/audio   play (or ?download=1) a recording
//	GET    /api/events                  websocket stream of state changes
//
// Every failure is answered with {"error": ..., "kind": ...} and a status
// derived from the error kind.
package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/MrWong99/voxdeck/internal/capture"
	"github.com/MrWong99/voxdeck/internal/events"
	"github.com/MrWong99/voxdeck/internal/observe"
	"github.com/MrWong99/voxdeck/internal/recording"
	"github.com/MrWong99/voxdeck/internal/remote"
	"github.com/MrWong99/voxdeck/internal/speaker"
	"github.com/MrWong99/voxdeck/pkg/provider/tts/iapp"
	"github.com/MrWong99/voxdeck/pkg/speech"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

const defaultMaxBodyBytes = 1 << 20

// Deps are the components served by the API. Remote, Capture and Events may
// be nil; the matching routes then report the feature as unavailable.
type Deps struct {
	Speaker  *speaker.Speaker
	Voices   *voice.Catalog
	Registry *recording.Registry
	Remote   *remote.Service
	Capture  *capture.Coordinator
	Events   *events.Hub
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithOriginPatterns allows websocket connections from the given host
// patterns in addition to same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.originPatterns = patterns
	}
}

// WithMaxBodyBytes caps request body size. Default: 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// Server holds the API handlers.
type Server struct {
	deps           Deps
	originPatterns []string
	maxBody        int64
}

// New creates a Server for deps.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{deps: deps, maxBody: defaultMaxBodyBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("POST /api/speak", s.handleSpeak)
	mux.HandleFunc("POST /api/speak/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/remote", s.handleRemote)
	mux.HandleFunc("POST /api/remote/breaker/reset", s.handleBreakerReset)
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("DELETE /api/recordings/{id}", s.handleDeleteRecording)
	mux.HandleFunc("GET /api/recordings/{id}/audio", s.handleAudio)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) logger(r *http.Request) *slog.Logger {
	return observe.Logger(r.Context())
}

// decode reads a JSON body into v, rejecting unknown fields.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

// ── Voices ───────────────────────────────────────────────────────────────────

type voicesResponse struct {
	Voices    []voice.Voice `json:"voices"`
	DefaultID string        `json:"default_id,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	res := voicesResponse{Voices: []voice.Voice{}}
	if s.deps.Voices != nil {
		snap := s.deps.Voices.Snapshot()
		if snap.Voices != nil {
			res.Voices = snap.Voices
		}
		res.DefaultID = snap.DefaultID
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Speech ───────────────────────────────────────────────────────────────────

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speaker == nil {
		s.writeError(w, r, fmt.Errorf("web: no speech engine: %w", speech.ErrUnavailable))
		return
	}
	var opts speaker.SpeakOptions
	if err := s.decode(w, r, &opts); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.deps.Speaker.Speak(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !wantFlag(r, "wait") {
		writeJSON(w, http.StatusAccepted, u)
		return
	}
	out, err := s.deps.Speaker.Wait(r.Context())
	if err != nil {
		// Client went away; the utterance keeps playing.
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type cancelResponse struct {
	Cancelled bool             `json:"cancelled"`
	Outcome   *speaker.Outcome `json:"outcome,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speaker == nil {
		writeJSON(w, http.StatusOK, cancelResponse{})
		return
	}
	cancelled, err := s.deps.Speaker.Cancel(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res := cancelResponse{Cancelled: cancelled}
	if cancelled {
		if out, ok := s.deps.Speaker.Last(); ok {
			res.Outcome = &out
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Status ───────────────────────────────────────────────────────────────────

type captureStatus struct {
	State      string `json:"state"`
	Permission string `json:"permission"`
	BufferedMS int64  `json:"buffered_ms"`
}

type remoteStatus struct {
	KeyConfigured bool     `json:"key_configured"`
	Breaker       string   `json:"breaker"`
	Styles        []string `json:"styles"`
}

type statusResponse struct {
	Speaking    bool               `json:"speaking"`
	Utterance   *speaker.Utterance `json:"utterance,omitempty"`
	Last        *speaker.Outcome   `json:"last,omitempty"`
	Capture     *captureStatus     `json:"capture,omitempty"`
	Remote      *remoteStatus      `json:"remote,omitempty"`
	Recordings  int                `json:"recordings"`
	VoiceCount  int                `json:"voice_count"`
	Subscribers int                `json:"subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var res statusResponse
	if sp := s.deps.Speaker; sp != nil {
		res.Speaking = sp.IsSpeaking()
		if u, ok := sp.Current(); ok {
			res.Utterance = &u
		}
		if out, ok := sp.Last(); ok {
			res.Last = &out
		}
	}
	if c := s.deps.Capture; c != nil {
		st := c.Status()
		res.Capture = &captureStatus{
			State:      st.State.String(),
			Permission: st.Permission.String(),
			BufferedMS: st.Buffered.Milliseconds(),
		}
	}
	if rs := s.deps.Remote; rs != nil {
		res.Remote = &remoteStatus{
			KeyConfigured: rs.HasAPIKey(),
			Breaker:       rs.BreakerState().String(),
		}
		for _, st := range iapp.Styles {
			res.Remote.Styles = append(res.Remote.Styles, string(st))
		}
	}
	if s.deps.Registry != nil {
		res.Recordings = s.deps.Registry.Len()
	}
	if s.deps.Voices != nil {
		res.VoiceCount = len(s.deps.Voices.Voices())
	}
	if s.deps.Events != nil {
		res.Subscribers = s.deps.Events.Len()
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Remote synthesis ─────────────────────────────────────────────────────────

type remoteRequest struct {
	Text   string `json:"text"`
	Style  string `json:"style"`
	APIKey string `json:"api_key,omitempty"`
}

func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	if s.deps.Remote == nil {
		s.writeError(w, r, fmt.Errorf("%w: remote synthesis is not configured", errDisabled))
		return
	}
	var req remoteRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.APIKey == "" {
		req.APIKey = r.Header.Get("apikey")
	}
	art, err := s.deps.Remote.Synthesize(r.Context(), req.Text, req.Style, req.APIKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/recordings/"+art.ID+"/audio")
	writeJSON(w, http.StatusCreated, newRecordingView(art))
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Remote == nil {
		s.writeError(w, r, fmt.Errorf("%w: remote synthesis is not configured", errDisabled))
		return
	}
	s.deps.Remote.ResetBreaker()
	writeJSON(w, http.StatusOK, map[string]string{"breaker": s.deps.Remote.BreakerState().String()})
}

// ── Recordings ───────────────────────────────────────────────────────────────

// recordingView is the JSON form of an artifact with its playback URL.
type recordingView struct {
	recording.Artifact
	Size        int    `json:"size"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

func newRecordingView(a recording.Artifact) recordingView {
	url := "/api/recordings/" + a.ID + "/audio"
	return recordingView{
		Artifact:    a,
		Size:        a.Size(),
		DurationMS:  a.Duration().Milliseconds(),
		URL:         url,
		DownloadURL: url + "?download=1",
	}
}

func (s *Server) handleRecordings(w http.ResponseWriter, _ *http.Request) {
	views := []recordingView{}
	if s.deps.Registry != nil {
		for _, a := range s.deps.Registry.List() {
			views = append(views, newRecordingView(a))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": views})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry != nil {
		s.deps.Registry.Remove(r.PathValue("id"))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.deps.Registry == nil {
		s.writeError(w, r, fmt.Errorf("%w: recording %q", errNotFound, id))
		return
	}
	art, ok := s.deps.Registry.Get(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: recording %q", errNotFound, id))
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	disposition := "inline"
	if wantFlag(r, "download") {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": art.Filename}))
	http.ServeContent(w, r, art.Filename, art.CreatedAt, bytes.NewReader(art.Audio))
}

// wantFlag reports whether the query parameter name is set to a true value.
func wantFlag(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
