package stream

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyResponse is returned when the gateway closed the stream
// without sending a single byte.
var ErrEmptyResponse = errors.New("no response from model")

// AuthError is returned when the gateway rejects the API key. It is
// terminal; retrying with the same key cannot succeed.
type AuthError struct {
	Status int
}

func (e AuthError) Error() string {
	return "authentication failed: invalid or expired API key"
}

// RateLimitError is returned on a 429. The gateway meters by key, so
// an immediate retry would burn more quota; the caller decides when to
// try again.
type RateLimitError struct {
	Detail string
}

func (e RateLimitError) Error() string {
	if e.Detail == "" {
		return "rate limited by gateway"
	}

	return "rate limited by gateway: " + e.Detail
}

// TransientServerError is returned when the gateway stayed unavailable
// through every connect attempt.
type TransientServerError struct {
	Status   int
	Attempts int
}

func (e TransientServerError) Error() string {
	return fmt.Sprintf("gateway unavailable (status %d) after %d attempts", e.Status, e.Attempts)
}

// TimeoutPhase names which part of the budget ran out.
type TimeoutPhase string

const (
	PhaseFirstChunk TimeoutPhase = "first_chunk"
	PhaseInterChunk TimeoutPhase = "inter_chunk"
	PhaseTotal      TimeoutPhase = "total"
)

// TimeoutError is returned when a phase of the timeout budget elapses.
type TimeoutError struct {
	Phase TimeoutPhase
	Limit time.Duration
}

func (e TimeoutError) Error() string {
	switch e.Phase {
	case PhaseFirstChunk:
		return fmt.Sprintf("timed out waiting %s for the first chunk", e.Limit)
	case PhaseInterChunk:
		return fmt.Sprintf("stream stalled for %s between chunks", e.Limit)
	default:
		return fmt.Sprintf("request exceeded the %s total budget", e.Limit)
	}
}

// UpstreamError is returned for gateway responses and transport
// failures that fit no more specific category.
type UpstreamError struct {
	Status int
	Detail string
	Err    error
}

func (e UpstreamError) Error() string {
	if e.Err != nil {
		return "gateway connection failed: " + e.Err.Error()
	}
	if e.Detail != "" {
		return fmt.Sprintf("unexpected gateway response (status %d): %s", e.Status, e.Detail)
	}

	return fmt.Sprintf("unexpected gateway response (status %d)", e.Status)
}

func (e UpstreamError) Unwrap() error {
	return e.Err
}

// ParseWarning records a data line that was valid SSE but not valid
// JSON. Warnings are logged and the line skipped; they never end a
// stream.
type ParseWarning struct {
	Data string
	Err  error
}

func (e ParseWarning) Error() string {
	return "unparseable chunk: " + e.Err.Error()
}

func (e ParseWarning) Unwrap() error {
	return e.Err
}
