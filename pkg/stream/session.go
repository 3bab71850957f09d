package stream

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/llm"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/thinking"
)

// Session is one logical chat completion request in flight. It is
// created by Controller.Stream and delivers its output through
// Events. Callers must drain Events until it closes.
type Session struct {
	id     string
	events chan Event
	cancel context.CancelFunc
	logger *zap.Logger

	// done closes once the run goroutine has fully unwound: transport
	// aborted, timers disarmed, body released, events closed.
	done chan struct{}

	mu     sync.Mutex
	state  State
	err    error
	timing *Timing

	// run-goroutine state, untouched by callers.
	stats    *Stats
	thought  thinking.State
	usage    *llm.Usage
	gotToken bool
	stopSeen bool
}

// ID returns the session's unique identifier, which also tags its log
// entries.
func (s *Session) ID() string {
	return s.id
}

// Events returns the session's ordered event stream. The channel is
// closed after the terminal event.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the error that ended the session. It is nil while the
// session runs, after a clean completion, and after Cancel; check
// State to tell those apart.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Timing returns the final timing snapshot. ok is false until the
// session completes.
func (s *Session) Timing() (t Timing, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timing == nil {
		return Timing{}, false
	}

	return *s.timing, true
}

// Cancel stops the session. It is safe to call at any time and from
// any goroutine; calls after the session reached a terminal state do
// nothing. Cancelling is not a failure, so no Err event follows.
func (s *Session) Cancel() {
	s.mu.Lock()
	done := s.state.Terminal()
	if !done {
		s.state = StateCancelled
	}
	s.mu.Unlock()

	s.cancel()

	if !done {
		s.logger.Info("stream cancelled by caller")
	}
}

// transition moves the session forward. It reports false when a
// terminal state was already committed, which callers treat as "stand
// down".
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.state = to

	return true
}

// complete commits the complete state together with its timing, so
// Timing never disagrees with State.
func (s *Session) complete(t Timing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.state = StateComplete
	s.timing = &t

	return true
}

// fail commits the error state together with its cause.
func (s *Session) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.state = StateError
	s.err = err

	return true
}

// emit delivers one event in order. It reports false when the session
// context ended before the consumer took the event.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
