package stream

import (
	"time"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/llm"
)

// State identifies where a session is in its lifecycle.
//
// Transitions move strictly forward:
//
//	idle → connecting → streaming → complete
//	                              ↘ error
//	                              ↘ cancelled
//
// A terminal state never changes again.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateComplete   State = "complete"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the state is one of the three end states.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateError, StateCancelled:
		return true
	}

	return false
}

// Status marks a progress milestone delivered between text deltas.
type Status string

const (
	// StatusFirstToken is emitted once, immediately before the first
	// delta that carries text.
	StatusFirstToken Status = "first_token"
	// StatusRateLimitRetry is emitted before each backoff wait when
	// the gateway answered with a retryable server error.
	StatusRateLimitRetry Status = "rate_limit_retry"
	// StatusTimingInfo is emitted once at the end of a successful
	// stream, carrying the final Timing.
	StatusTimingInfo Status = "timing_info"
)

// Event is one delivery from a session. Events arrive in order and are
// never dropped. At most one of Content/ReasoningDelta, Status, Done,
// or Err is meaningful per event.
type Event struct {
	// Content is visible answer text.
	Content string
	// ReasoningDelta is model thinking text, from a reasoning field or
	// extracted from inline thinking tags.
	ReasoningDelta string
	// Status marks a milestone.
	Status Status
	// Timing carries the final metrics; set only with StatusTimingInfo.
	Timing *Timing
	// Done reports normal completion. It is the last event of a
	// successful stream.
	Done bool
	// Err carries the terminal failure. It is the last event of a
	// failed stream.
	Err error
}

// Timing is the metrics snapshot for one completed stream.
type Timing struct {
	// TimeToFirstToken measures from request start to the first delta
	// carrying text. Zero when the stream never produced one.
	TimeToFirstToken time.Duration
	// TotalTime measures from request start to end of stream.
	TotalTime time.Duration
	// TokensPerSecond estimates generation speed over the window from
	// first token to end of stream.
	TokensPerSecond float64
	// EstimatedTokens approximates the completion size from its
	// character count.
	EstimatedTokens int
	// Usage is the gateway-reported accounting when a chunk carried
	// one; nil otherwise.
	Usage *llm.Usage
}
