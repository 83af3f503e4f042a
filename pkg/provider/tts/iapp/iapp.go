// Package iapp is a client for the iApp Thai text-to-speech HTTP API.
//
// Synthesis is a single GET per utterance:
//
//	GET {base}/thai-tts-{style}/tts?text=<text>
//	apikey: <key>
//
// The response body is the MP3 payload. Only two voice styles exist, [Kaitom]
// and [Cee]; each maps to its own endpoint.
//
// Typical usage:
//
//	c := iapp.New(iapp.WithTimeout(15 * time.Second))
//	mp3, err := c.Synthesize(ctx, "สวัสดีครับ", iapp.Kaitom, apiKey)
package iapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public iApp API endpoint.
	DefaultBaseURL = "https://api.iapp.co.th"

	// ContentType is the media type of synthesised audio.
	ContentType = "audio/mpeg"

	defaultTimeout = 30 * time.Second

	// DefaultMaxAudioBytes caps the response body read into memory.
	DefaultMaxAudioBytes = 32 << 20
)

// Style selects the remote voice persona and therefore the endpoint.
type Style string

const (
	Kaitom Style = "kaitom"
	Cee    Style = "cee"
)

// Styles lists every supported style in display order.
var Styles = []Style{Kaitom, Cee}

// ParseStyle validates s. Matching is case-insensitive.
func ParseStyle(s string) (Style, error) {
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case Kaitom, Cee:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStyle, s)
}

var (
	// ErrUnknownStyle is returned for a style other than kaitom or cee.
	ErrUnknownStyle = errors.New("iapp: unknown voice style")

	// ErrUnauthorized is returned when the API rejects the key (401/403).
	ErrUnauthorized = errors.New("iapp: api key rejected")

	// ErrEmptyText is returned when there is nothing to synthesise.
	ErrEmptyText = errors.New("iapp: text is empty")

	// ErrEmptyAudio is returned when the API answers 200 without a body.
	ErrEmptyAudio = errors.New("iapp: empty audio response")

	// ErrAudioTooLarge is returned when the response exceeds the size cap.
	ErrAudioTooLarge = errors.New("iapp: audio response too large")
)

// StatusError is returned for a non-200 response that is not an
// authorisation failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("iapp: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("iapp: unexpected status %d: %s", e.Code, e.Body)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched
// unless WithTimeout is applied afterwards.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxAudioBytes caps the accepted response size. Default: 32 MiB.
func WithMaxAudioBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAudio = n
		}
	}
}

// Client calls the iApp TTS endpoints. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxAudio   int64
}

// New creates a Client with a 30 s request timeout.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxAudio:   DefaultMaxAudioBytes,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string { return c.baseURL }

// Endpoint returns the synthesis URL for style without the query string.
func (c *Client) Endpoint(style Style) string {
	return c.baseURL + "/thai-tts-" + string(style) + "/tts"
}

// Synthesize requests audio for text in the given style and returns the raw
// MP3 payload.
func (c *Client) Synthesize(ctx context.Context, text string, style Style, apiKey string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if _, err := ParseStyle(string(style)); err != nil {
		return nil, err
	}

	reqURL := c.Endpoint(style) + "?" + url.Values{"text": {text}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("iapp: create request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Accept", ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("iapp: GET thai-tts-%s: %w", style, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAudio+1))
	if err != nil {
		return nil, fmt.Errorf("iapp: read audio response: %w", err)
	}
	if int64(len(audio)) > c.maxAudio {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAudioTooLarge, c.maxAudio)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}
