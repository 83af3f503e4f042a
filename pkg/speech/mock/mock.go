// Package mock provides a test double for the speech.Engine interface.
//
// Utterances started on an Engine stay in progress until the test calls
// [Engine.Complete] or the context passed to Speak is cancelled, so tests can
// observe the speaking state in between.
//
//	e := &mock.Engine{}
//	done, _ := e.Speak(ctx, req)
//	e.Complete(nil)
//	err := <-done // nil
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxdeck/pkg/speech"
)

// Engine is a mock implementation of speech.Engine.
type Engine struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by Speak and no utterance starts.
	SpeakErr error

	// AutoComplete makes every utterance finish immediately with nil.
	AutoComplete bool

	// Calls records every request passed to Speak, including failed starts.
	Calls []speech.Request

	active chan error
}

// Speak implements speech.Engine.
func (e *Engine) Speak(ctx context.Context, req speech.Request) (<-chan error, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, req)
	if e.SpeakErr != nil {
		err := e.SpeakErr
		e.mu.Unlock()
		return nil, err
	}
	finish := make(chan error, 1)
	if e.AutoComplete {
		finish <- nil
	} else {
		e.active = finish
	}
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		select {
		case err := <-finish:
			done <- err
		case <-ctx.Done():
			done <- ctx.Err()
		}
	}()
	return done, nil
}

// Complete ends the most recent in-progress utterance with err. It reports
// false when no utterance is in progress.
func (e *Engine) Complete(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return false
	}
	e.active <- err
	e.active = nil
	return true
}

// SpeakCalls returns a copy of the recorded requests.
func (e *Engine) SpeakCalls() []speech.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]speech.Request, len(e.Calls))
	copy(out, e.Calls)
	return out
}

// Compile-time interface assertion.
var _ speech.Engine = (*Engine)(nil)
