package mcpserver

import (
	"context"
	"errors"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxdeck/internal/recording"
	"github.com/MrWong99/voxdeck/internal/speaker"
	"github.com/MrWong99/voxdeck/pkg/speech"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

var errNoSpeaker = errors.New("mcpserver: on-device speech is not available")

// ── list_voices ──────────────────────────────────────────────────────────────

type ListVoicesInput struct{}

type ListVoicesOutput struct {
	Voices    []voice.Voice `json:"voices"`
	DefaultID string        `json:"default_id,omitempty"`
}

func (s *Server) listVoices(_ context.Context, _ *sdk.CallToolRequest, _ ListVoicesInput) (*sdk.CallToolResult, ListVoicesOutput, error) {
	out := ListVoicesOutput{Voices: []voice.Voice{}}
	if s.deps.Voices != nil {
		snap := s.deps.Voices.Snapshot()
		if snap.Voices != nil {
			out.Voices = snap.Voices
		}
		out.DefaultID = snap.DefaultID
	}
	return nil, out, nil
}

// ── speak ────────────────────────────────────────────────────────────────────

type SpeakInput struct {
	Text                  string   `json:"text" jsonschema:"the text to speak"`
	VoiceID               string   `json:"voice_id,omitempty" jsonschema:"voice ID from list_voices; defaults to the Thai voice"`
	Language              string   `json:"language,omitempty" jsonschema:"BCP-47 language tag used when no voice is given"`
	Rate                  *float64 `json:"rate,omitempty" jsonschema:"speaking rate, 0.1 to 2, default 1"`
	Pitch                 *float64 `json:"pitch,omitempty" jsonschema:"pitch, 0.1 to 2, default 1"`
	Volume                *float64 `json:"volume,omitempty" jsonschema:"volume, 0 to 1, default 1"`
	Record                bool     `json:"record,omitempty" jsonschema:"record the microphone while speaking"`
	AllowWithoutRecording bool     `json:"allow_without_recording,omitempty" jsonschema:"speak even if the recording cannot be started"`
	Wait                  bool     `json:"wait,omitempty" jsonschema:"block until the utterance has finished"`
}

type SpeakOutput struct {
	Status       string         `json:"status"`
	Language     string         `json:"language"`
	VoiceID      string         `json:"voice_id,omitempty"`
	Recording    bool           `json:"recording"`
	CaptureError string         `json:"capture_error,omitempty"`
	Error        string         `json:"error,omitempty"`
	Artifact     *RecordingInfo `json:"artifact,omitempty"`
}

func (s *Server) speak(ctx context.Context, _ *sdk.CallToolRequest, in SpeakInput) (*sdk.CallToolResult, SpeakOutput, error) {
	if s.deps.Speaker == nil {
		return nil, SpeakOutput{}, errNoSpeaker
	}
	u, err := s.deps.Speaker.Speak(ctx, speaker.SpeakOptions{
		Params: speech.Params{
			Text:     in.Text,
			Rate:     in.Rate,
			Pitch:    in.Pitch,
			Volume:   in.Volume,
			Language: in.Language,
		},
		VoiceID:               in.VoiceID,
		Record:                in.Record,
		AllowWithoutRecording: in.AllowWithoutRecording,
	})
	if err != nil {
		return nil, SpeakOutput{}, err
	}
	out := SpeakOutput{
		Status:       "speaking",
		Language:     u.Request.Language,
		VoiceID:      u.Request.Voice.ID,
		Recording:    u.Recording,
		CaptureError: u.CaptureError,
	}
	if !in.Wait {
		return nil, out, nil
	}

	wctx, cancel := context.WithTimeout(ctx, s.speakTimeout)
	defer cancel()
	res, err := s.deps.Speaker.Wait(wctx)
	if err != nil {
		return nil, out, nil
	}
	out.Status = res.Status
	out.Error = res.Error
	if res.Recording != nil {
		info := newRecordingInfo(*res.Recording)
		out.Artifact = &info
	}
	return nil, out, nil
}

// ── synthesize_remote ────────────────────────────────────────────────────────

type SynthesizeRemoteInput struct {
	Text   string `json:"text" jsonschema:"Thai text to synthesise"`
	Style  string `json:"style" jsonschema:"voice style: kaitom or cee"`
	APIKey string `json:"api_key,omitempty" jsonschema:"iApp API key; defaults to the configured key"`
}

func (s *Server) synthesizeRemote(ctx context.Context, _ *sdk.CallToolRequest, in SynthesizeRemoteInput) (*sdk.CallToolResult, RecordingInfo, error) {
	art, err := s.deps.Remote.Synthesize(ctx, in.Text, in.Style, in.APIKey)
	if err != nil {
		return nil, RecordingInfo{}, err
	}
	return nil, newRecordingInfo(art), nil
}

// ── recordings ───────────────────────────────────────────────────────────────

// RecordingInfo describes a stored recording without its audio.
type RecordingInfo struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Source      string `json:"source"`
	Style       string `json:"style,omitempty"`
	Size        int    `json:"size"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	CreatedAt   string `json:"created_at"`
	URL         string `json:"url"`
}

func newRecordingInfo(a recording.Artifact) RecordingInfo {
	return RecordingInfo{
		ID:          a.ID,
		Text:        a.Text,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Source:      string(a.Source),
		Style:       a.Style,
		Size:        a.Size(),
		DurationMS:  a.Duration().Milliseconds(),
		CreatedAt:   a.CreatedAt.Format(time.RFC3339Nano),
		URL:         "/api/recordings/" + a.ID + "/audio",
	}
}

type ListRecordingsInput struct{}

type ListRecordingsOutput struct {
	Recordings []RecordingInfo `json:"recordings"`
}

func (s *Server) listRecordings(_ context.Context, _ *sdk.CallToolRequest, _ ListRecordingsInput) (*sdk.CallToolResult, ListRecordingsOutput, error) {
	out := ListRecordingsOutput{Recordings: []RecordingInfo{}}
	if s.deps.Registry != nil {
		for _, a := range s.deps.Registry.List() {
			out.Recordings = append(out.Recordings, newRecordingInfo(a))
		}
	}
	return nil, out, nil
}

type DeleteRecordingInput struct {
	ID string `json:"id" jsonschema:"recording ID from list_recordings"`
}

type DeleteRecordingOutput struct {
	Removed bool `json:"removed"`
}

func (s *Server) deleteRecording(_ context.Context, _ *sdk.CallToolRequest, in DeleteRecordingInput) (*sdk.CallToolResult, DeleteRecordingOutput, error) {
	if s.deps.Registry == nil {
		return nil, DeleteRecordingOutput{}, nil
	}
	return nil, DeleteRecordingOutput{Removed: s.deps.Registry.Remove(in.ID)}, nil
}
