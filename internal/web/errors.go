package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/voxdeck/internal/capture"
	"github.com/MrWong99/voxdeck/internal/remote"
	"github.com/MrWong99/voxdeck/internal/speaker"
	"github.com/MrWong99/voxdeck/pkg/provider/tts/iapp"
	"github.com/MrWong99/voxdeck/pkg/speech"
)

// Error kinds reported in the "kind" field of error responses.
const (
	KindBusy                 = "busy"
	KindCanceled             = "canceled"
	KindDisabled             = "disabled"
	KindConfirmationRequired = "confirmation_required"
	KindPermissionDenied     = "permission_denied"
	KindCaptureOpen          = "capture_open"
	KindRemoteRequest        = "remote_request"
	KindMissingAPIKey        = "missing_api_key"
	KindSynthesisUnavailable = "synthesis_unavailable"
	KindInvalidRequest       = "invalid_request"
	KindNotFound             = "not_found"
	KindInternal             = "internal"
)

var (
	errNotFound   = errors.New("web: not found")
	errBadRequest = errors.New("web: bad request")
	errDisabled   = errors.New("web: feature disabled")
)

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`

	// Cause is the underlying kind when Kind is confirmation_required.
	Cause string `json:"cause,omitempty"`
}

// classify maps an error to its HTTP status and kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, speaker.ErrConfirmationRequired):
		return http.StatusConflict, KindConfirmationRequired
	case errors.Is(err, speaker.ErrBusy), errors.Is(err, capture.ErrBusy):
		return http.StatusConflict, KindBusy
	case errors.Is(err, speaker.ErrCanceled):
		return http.StatusConflict, KindCanceled
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden, KindPermissionDenied
	case errors.Is(err, capture.ErrCaptureOpen):
		return http.StatusInternalServerError, KindCaptureOpen
	case errors.Is(err, remote.ErrRemoteRequest):
		return http.StatusBadGateway, KindRemoteRequest
	case errors.Is(err, remote.ErrMissingAPIKey):
		return http.StatusBadRequest, KindMissingAPIKey
	case errors.Is(err, speech.ErrUnavailable):
		return http.StatusServiceUnavailable, KindSynthesisUnavailable
	case errors.Is(err, errDisabled):
		return http.StatusServiceUnavailable, KindDisabled
	case errors.Is(err, speech.ErrEmptyText),
		errors.Is(err, speech.ErrOutOfRange),
		errors.Is(err, iapp.ErrEmptyText),
		errors.Is(err, iapp.ErrUnknownStyle),
		errors.Is(err, speaker.ErrUnknownVoice),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, KindInvalidRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound, KindNotFound
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// writeError reports err as a JSON notification.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	res := errorResponse{Error: err.Error(), Kind: kind}
	if kind == KindConfirmationRequired {
		switch {
		case errors.Is(err, capture.ErrPermissionDenied):
			res.Cause = KindPermissionDenied
		case errors.Is(err, capture.ErrBusy):
			res.Cause = KindBusy
		default:
			res.Cause = KindCaptureOpen
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger(r).Error("request failed", "kind", kind, "err", err)
	} else {
		s.logger(r).Info("request rejected", "kind", kind, "err", err)
	}
	writeJSON(w, status, res)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
