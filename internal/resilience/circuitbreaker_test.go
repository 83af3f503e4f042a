package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func newTestBreaker(clock *fakeClock, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.Name = "test"
	cfg.Now = clock.Now
	return NewCircuitBreaker(cfg)
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "defaults"})
	if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 1 {
		t.Errorf("defaults = %+v", cb.cfg)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "defaults" {
		t.Errorf("Name = %q", cb.Name())
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})

	for i := range 3 {
		if err := cb.Execute(fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn was called while open")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 2})

	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (failures were not consecutive)", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name      string
		probe     func() error
		wantState State
	}{
		{"probe success closes", succeed, StateClosed},
		{"probe failure re-opens", fail, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second})

			_ = cb.Execute(fail)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v, want open", cb.State())
			}
			clock.Advance(10 * time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state after timeout = %v, want half-open", cb.State())
			}

			_ = cb.Execute(tc.probe)
			if got := cb.State(); got != tc.wantState {
				t.Errorf("state = %v, want %v", got, tc.wantState)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	errUnauthorized := errors.New("unauthorized")
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{
		MaxFailures: 1,
		Ignore:      func(err error) bool { return errors.Is(err, errUnauthorized) },
	})

	for range 5 {
		if err := cb.Execute(func() error { return errUnauthorized }); !errors.Is(err, errUnauthorized) {
			t.Fatalf("err = %v, want errUnauthorized passed through", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := newTestBreaker(clock, CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	_ = cb.Execute(fail)
	clock.Advance(time.Second)
	_ = cb.Execute(succeed)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1})
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("Execute after reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
