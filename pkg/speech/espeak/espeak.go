// Package espeak implements [speech.Engine] and [voice.Source] by running the
// espeak-ng (or legacy espeak) command-line synthesiser.
//
// Each utterance runs one subprocess that plays directly to the default audio
// output. Text is fed through stdin so that input beginning with '-' is never
// parsed as a flag. Cancelling the context passed to Speak kills the process.
//
// The voice list comes from "--voices" and is loaded in the background on the
// first Voices call; that call returns an empty list and a notification on
// Changed follows once loading completes.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxdeck/pkg/speech"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

// Compile-time interface assertions.
var (
	_ speech.Engine = (*Engine)(nil)
	_ voice.Source  = (*Engine)(nil)
)

const (
	// baseWordsPerMinute is espeak's default speaking rate (rate 1.0).
	baseWordsPerMinute = 175
	minWordsPerMinute  = 80
	maxWordsPerMinute  = 450

	// basePitch is espeak's default pitch (pitch 1.0) on its 0-99 scale.
	basePitch = 50
	maxPitch  = 99

	// baseAmplitude is espeak's default amplitude (volume 1.0).
	baseAmplitude = 100

	defaultVoiceLoadTimeout = 10 * time.Second

	// waitDelay bounds how long Wait blocks on I/O after a cancelled process
	// is killed.
	waitDelay = time.Second
)

// binaries are probed in order when no explicit binary is configured.
var binaries = []string{"espeak-ng", "espeak"}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithBinary uses the given executable instead of probing PATH.
func WithBinary(path string) Option {
	return func(e *Engine) {
		e.binary = path
	}
}

// WithVoiceLoadTimeout bounds the background "--voices" query.
func WithVoiceLoadTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.loadTimeout = d
		}
	}
}

// Engine runs espeak-ng as a subprocess per utterance.
type Engine struct {
	binary      string
	loadTimeout time.Duration

	loadOnce sync.Once
	changed  chan struct{}

	mu     sync.RWMutex
	voices []voice.Voice
}

// New locates the espeak binary and returns an Engine. It returns an error
// wrapping [speech.ErrUnavailable] when no binary can be found.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		loadTimeout: defaultVoiceLoadTimeout,
		changed:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}

	if e.binary != "" {
		path, err := exec.LookPath(e.binary)
		if err != nil {
			return nil, fmt.Errorf("espeak: %w: %v", speech.ErrUnavailable, err)
		}
		e.binary = path
		return e, nil
	}
	for _, bin := range binaries {
		if path, err := exec.LookPath(bin); err == nil {
			e.binary = path
			return e, nil
		}
	}
	return nil, fmt.Errorf("espeak: %w: install espeak-ng or espeak", speech.ErrUnavailable)
}

// Binary returns the resolved executable path.
func (e *Engine) Binary() string { return e.binary }

// Speak starts one espeak process for req.
func (e *Engine) Speak(ctx context.Context, req speech.Request) (<-chan error, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, speech.ErrEmptyText
	}
	cmd := exec.CommandContext(ctx, e.binary, buildArgs(req)...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("espeak: %w: start %s: %v", speech.ErrUnavailable, e.binary, err)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			done <- ctx.Err()
		case err != nil:
			done <- fmt.Errorf("espeak: synthesis failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		default:
			done <- nil
		}
	}()
	return done, nil
}

// buildArgs maps a request onto espeak flags.
func buildArgs(req speech.Request) []string {
	wpm := clamp(int(math.Round(baseWordsPerMinute*req.Rate)), minWordsPerMinute, maxWordsPerMinute)
	pitch := clamp(int(math.Round(basePitch*req.Pitch)), 0, maxPitch)
	amp := clamp(int(math.Round(baseAmplitude*req.Volume)), 0, 2*baseAmplitude)

	args := []string{
		"-s", strconv.Itoa(wpm),
		"-p", strconv.Itoa(pitch),
		"-a", strconv.Itoa(amp),
	}
	if v := voiceArg(req); v != "" {
		args = append(args, "-v", v)
	}
	return append(args, "--stdin")
}

func voiceArg(req speech.Request) string {
	if req.Voice.ID != "" {
		return req.Voice.ID
	}
	return strings.ToLower(req.Language)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Voices returns the voices loaded so far and starts the background load on
// the first call.
func (e *Engine) Voices(ctx context.Context) ([]voice.Voice, error) {
	e.loadOnce.Do(func() {
		go e.loadVoices(context.WithoutCancel(ctx))
	})
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]voice.Voice, len(e.voices))
	copy(out, e.voices)
	return out, nil
}

// Changed implements [voice.Source].
func (e *Engine) Changed() <-chan struct{} { return e.changed }

func (e *Engine) loadVoices(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.binary, "--voices").Output()
	if err != nil {
		slog.Warn("espeak: voice list unavailable", "binary", e.binary, "err", err)
		return
	}
	voices, err := parseVoices(out)
	if err != nil {
		slog.Warn("espeak: parse voice list", "err", err)
		return
	}

	e.mu.Lock()
	e.voices = voices
	e.mu.Unlock()
	slog.Debug("espeak: voices loaded", "count", len(voices))

	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// parseVoices reads the table printed by "espeak-ng --voices":
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US           (en 10)
func parseVoices(out []byte) ([]voice.Voice, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	var voices []voice.Voice
	header := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if header {
			header = false
			if strings.HasPrefix(line, "Pty") {
				continue
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		voices = append(voices, voice.Voice{
			ID:       fields[4],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Language: fields[1],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(voices) == 0 {
		return nil, errors.New("espeak: no voices listed")
	}
	return voices, nil
}
