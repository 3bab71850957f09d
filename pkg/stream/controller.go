// Package stream runs streaming chat completion requests against the
// gateway.
//
// A Controller owns the connection policy: endpoint, credentials,
// retry bounds, and the timeout budget. Each call to Stream starts one
// Session, a single logical request that connects, consumes the SSE
// response, and delivers ordered Events until it reaches a terminal
// state. Retries happen only while connecting; once bytes are flowing
// a failure ends the session.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/llm"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/sse"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/timeout"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/utils"
)

const (
	// DefaultBaseURL is the hosted gateway endpoint.
	DefaultBaseURL = "https://api.gatewayz.ai"
	// DefaultMaxRetries bounds reconnects after retryable gateway
	// errors.
	DefaultMaxRetries = 2
	// DefaultRetryBackoff is the base backoff unit; the nth retry
	// waits n times this long.
	DefaultRetryBackoff = time.Second
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	doneSentinel        = "[DONE]"
	eventBuffer         = 16
	errorBodyLimit      = 4096
)

// Config wires a Controller. Zero values take the documented defaults.
type Config struct {
	// BaseURL is the gateway root, without the chat completions path.
	BaseURL string
	// APIKey authenticates requests against the gateway.
	APIKey string
	// HTTPClient overrides the transport. The default client carries
	// no timeout of its own; the Budget governs all waiting.
	HTTPClient *http.Client
	// Logger receives session diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
	// MaxRetries bounds reconnect attempts after retryable gateway
	// errors. Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int
	// RetryBackoff is the base backoff unit between reconnects.
	RetryBackoff time.Duration
	// Budget fixes the timeout phases for every session this
	// controller starts.
	Budget timeout.Budget
}

// Controller starts streaming chat sessions against the gateway. It
// runs one session at a time: starting a new stream first cancels the
// active one and waits for it to tear down, so no two sessions are
// ever connecting or streaming at once.
type Controller struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	active *Session
}

// NewController returns a Controller with defaults applied to cfg.
func NewController(cfg Config) *Controller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Budget == (timeout.Budget{}) {
		cfg.Budget = timeout.NewBudget(timeout.DefaultConfig(), timeout.Signals{})
	}

	return &Controller{
		cfg:    cfg,
		client: cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

// Stream begins one logical chat completion request, cancelling any
// session still active on this controller. The returned Session is
// already running; consume its Events until the channel closes.
func (c *Controller) Stream(ctx context.Context, req llm.ChatRequest) *Session {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	s := &Session{
		id:     id,
		events: make(chan Event, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: c.logger.With(zap.String("session_id", id)),
		state:  StateIdle,
	}

	c.mu.Lock()
	prev := c.active
	c.active = s
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		<-prev.done
	}

	c.logger.Debug("starting stream session",
		zap.String("session_id", id),
		zap.String("model", req.Model))

	go c.run(ctx, s, req)

	return s
}

func (c *Controller) endpoint() string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + chatCompletionsPath
}

// frame is one unit handed from the pump to the run loop. A nil event
// with a nil error means the stream ended cleanly.
type frame struct {
	ev  *sse.Event
	err error
}

// pump reads SSE events off the wire and hands them to the run loop.
// It exits on the first error, at end of stream, or when the session
// context ends.
func pump(ctx context.Context, src io.Reader, frames chan<- frame) {
	r := sse.NewReader(src)
	for {
		ev, err := r.Next()
		select {
		case frames <- frame{ev: ev, err: err}:
		case <-ctx.Done():
			return
		}
		if ev == nil || err != nil {
			return
		}
	}
}

// countingReader tracks how many bytes the gateway actually sent, so
// an empty stream can be told apart from a completed one.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n.Add(int64(n))

	return n, err
}

func (cr *countingReader) Count() int64 {
	return cr.n.Load()
}

func (c *Controller) run(ctx context.Context, s *Session, req llm.ChatRequest) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	s.stats = NewStats(time.Now())
	budget := c.cfg.Budget

	s.transition(StateConnecting)

	if c.cfg.APIKey == "" {
		c.fail(ctx, s, AuthError{})
		return
	}

	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		c.fail(ctx, s, fmt.Errorf("encoding chat request: %w", err))
		return
	}

	// The budget is sampled once here; it never changes mid-session.
	totalTimer := time.NewTimer(budget.Total)
	defer totalTimer.Stop()
	firstTimer := time.NewTimer(budget.FirstChunk)
	defer firstTimer.Stop()

	resp, release, err := c.connect(ctx, s, payload, firstTimer, totalTimer)
	if err != nil {
		c.fail(ctx, s, err)
		return
	}
	defer release()

	closeBody := sync.OnceFunc(func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	})
	defer closeBody()

	s.transition(StateStreaming)
	s.logger.Debug("gateway connected, streaming")

	counting := &countingReader{r: resp.Body}
	frames := make(chan frame)
	go pump(ctx, counting, frames)

	interTimer := time.NewTimer(budget.InterChunk)
	if !interTimer.Stop() {
		<-interTimer.C
	}
	defer interTimer.Stop()

	// firstC is live until the first frame lands, then interC takes
	// over. A nil channel blocks forever, dropping it out of the
	// select.
	firstC := firstTimer.C
	var interC <-chan time.Time

	for {
		select {
		case f := <-frames:
			if f.err != nil {
				if ctx.Err() != nil {
					s.transition(StateCancelled)
					return
				}
				closeBody()
				c.fail(ctx, s, UpstreamError{Err: f.err})
				return
			}
			if f.ev == nil {
				c.finish(ctx, s, counting.Count())
				return
			}

			if firstC != nil {
				firstTimer.Stop()
				firstC = nil
				interC = interTimer.C
			}
			if interC != nil && !s.stopSeen {
				resetTimer(interTimer, budget.InterChunk)
			}

			if !c.handleFrame(ctx, s, f.ev) {
				s.transition(StateCancelled)
				return
			}

			// An explicit finish reason means the model is done
			// talking; only the total budget bounds the wait for the
			// gateway to close the stream.
			if s.stopSeen && interC != nil {
				interTimer.Stop()
				interC = nil
			}

		case <-firstC:
			closeBody()
			c.fail(ctx, s, TimeoutError{Phase: PhaseFirstChunk, Limit: budget.FirstChunk})
			return

		case <-interC:
			closeBody()
			c.fail(ctx, s, TimeoutError{Phase: PhaseInterChunk, Limit: budget.InterChunk})
			return

		case <-totalTimer.C:
			closeBody()
			c.fail(ctx, s, TimeoutError{Phase: PhaseTotal, Limit: budget.Total})
			return

		case <-ctx.Done():
			closeBody()
			s.transition(StateCancelled)
			return
		}
	}
}

// connect performs the connection phase, retrying retryable gateway
// errors with linear backoff. On success it returns the streaming
// response along with a release func for the attempt's context.
func (c *Controller) connect(ctx context.Context, s *Session, payload []byte, first, total *time.Timer) (*http.Response, context.CancelFunc, error) {
	for n := 0; ; n++ {
		resp, release, err := c.attempt(ctx, payload, n, first, total)
		if err != nil {
			return nil, nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, release, nil

		case resp.StatusCode == http.StatusUnauthorized:
			c.drain(resp)
			release()
			return nil, nil, AuthError{Status: resp.StatusCode}

		case resp.StatusCode == http.StatusTooManyRequests:
			detail := c.errorDetail(resp)
			release()
			return nil, nil, RateLimitError{Detail: detail}

		case retryable(resp.StatusCode):
			status := resp.StatusCode
			c.drain(resp)
			release()
			if n >= c.cfg.MaxRetries {
				return nil, nil, TransientServerError{Status: status, Attempts: n + 1}
			}
			wait := time.Duration(n+1) * c.cfg.RetryBackoff
			s.logger.Warn("gateway unavailable, backing off",
				zap.Int("status", status),
				zap.Int("attempt", n+1),
				zap.Duration("wait", wait))
			if !s.emit(ctx, Event{Status: StatusRateLimitRetry}) {
				return nil, nil, context.Canceled
			}
			if err := c.backoff(ctx, wait, first, total); err != nil {
				return nil, nil, err
			}

		default:
			status := resp.StatusCode
			detail := c.errorDetail(resp)
			release()
			return nil, nil, UpstreamError{Status: status, Detail: detail}
		}
	}
}

type doResult struct {
	resp *http.Response
	err  error
}

// attempt sends one POST to the gateway. The returned release func
// must outlive the response body; cancelling it ends the transfer.
func (c *Controller) attempt(ctx context.Context, payload []byte, n int, first, total *time.Timer) (*http.Response, context.CancelFunc, error) {
	attemptCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("building gateway request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("connecting to gateway",
		zap.String("request_id", requestID),
		zap.Int("attempt", n+1))

	resCh := make(chan doResult, 1)
	go func() {
		resp, doErr := c.client.Do(req)
		resCh <- doResult{resp: resp, err: doErr}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, nil, context.Canceled
			}
			return nil, nil, UpstreamError{Err: r.err}
		}
		return r.resp, cancel, nil

	case <-first.C:
		cancel()
		go reap(resCh)
		return nil, nil, TimeoutError{Phase: PhaseFirstChunk, Limit: c.cfg.Budget.FirstChunk}

	case <-total.C:
		cancel()
		go reap(resCh)
		return nil, nil, TimeoutError{Phase: PhaseTotal, Limit: c.cfg.Budget.Total}

	case <-ctx.Done():
		cancel()
		go reap(resCh)
		return nil, nil, context.Canceled
	}
}

// reap closes the response of an abandoned connect attempt.
func reap(resCh <-chan doResult) {
	if r := <-resCh; r.resp != nil {
		_ = r.resp.Body.Close()
	}
}

// backoff waits out one retry delay while still honoring the budget
// and cancellation.
func (c *Controller) backoff(ctx context.Context, wait time.Duration, first, total *time.Timer) error {
	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-first.C:
		return TimeoutError{Phase: PhaseFirstChunk, Limit: c.cfg.Budget.FirstChunk}
	case <-total.C:
		return TimeoutError{Phase: PhaseTotal, Limit: c.cfg.Budget.Total}
	case <-ctx.Done():
		return context.Canceled
	}
}

// handleFrame processes one SSE event. It reports false when the
// session context ended before an event could be delivered.
func (c *Controller) handleFrame(ctx context.Context, s *Session, ev *sse.Event) bool {
	data := strings.TrimSpace(ev.Data)
	if data == "" || data == doneSentinel {
		return true
	}

	delta, err := llm.DecodeDelta([]byte(data))
	if err != nil {
		s.logger.Warn("skipping malformed chunk",
			zap.Error(ParseWarning{Data: data, Err: err}),
			zap.String("data", utils.Truncate(data, 120)))
		return true
	}

	if delta.Usage != nil {
		s.usage = delta.Usage
	}
	if delta.Stop {
		s.stopSeen = true
		s.logger.Debug("finish reason received")
	}

	if !delta.HasText() {
		return true
	}

	if !s.gotToken {
		s.gotToken = true
		s.stats.RecordFirstToken(time.Now())
		if !s.emit(ctx, Event{Status: StatusFirstToken}) {
			return false
		}
	}

	visible, thought := s.thought.Extract(delta.Content)
	reasoning := delta.Reasoning + thought
	if visible == "" && reasoning == "" {
		return true
	}

	s.stats.AddChars(len(visible) + len(reasoning))

	return s.emit(ctx, Event{Content: visible, ReasoningDelta: reasoning})
}

// finish commits the terminal state after a cleanly closed stream.
func (c *Controller) finish(ctx context.Context, s *Session, received int64) {
	content, reasoning := s.thought.Flush()
	if content != "" || reasoning != "" {
		s.stats.AddChars(len(content) + len(reasoning))
		if !s.emit(ctx, Event{Content: content, ReasoningDelta: reasoning}) {
			s.transition(StateCancelled)
			return
		}
	}

	if received == 0 {
		c.fail(ctx, s, ErrEmptyResponse)
		return
	}

	timing := s.stats.Snapshot(time.Now())
	timing.Usage = s.usage

	if !s.complete(timing) {
		return
	}

	s.logger.Info("stream complete",
		zap.Duration("ttft", timing.TimeToFirstToken),
		zap.Duration("total", timing.TotalTime),
		zap.Float64("tokens_per_sec", timing.TokensPerSecond),
		zap.Int("est_tokens", timing.EstimatedTokens))

	s.emit(ctx, Event{Status: StatusTimingInfo, Timing: &timing})
	s.emit(ctx, Event{Done: true})
}

// fail commits a terminal error and delivers it as the last event.
// Cancellation is not a failure and produces no Err event.
func (c *Controller) fail(ctx context.Context, s *Session, err error) {
	if errors.Is(err, context.Canceled) {
		s.transition(StateCancelled)
		return
	}
	if !s.fail(err) {
		return
	}

	s.logger.Error("stream failed", zap.Error(err))
	s.emit(ctx, Event{Err: err})
}

// drain discards and closes a response body that is not going to be
// streamed. Close failures are logged, never surfaced.
func (c *Controller) drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
	if err := resp.Body.Close(); err != nil {
		c.logger.Warn("failed to close response body", zap.Error(err))
	}
}

// errorDetail reads a capped amount of an error response and pulls a
// human message out of the usual gateway shapes.
func (c *Controller) errorDetail(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if cerr := resp.Body.Close(); cerr != nil {
		c.logger.Warn("failed to close response body", zap.Error(cerr))
	}
	if err != nil || len(raw) == 0 {
		return ""
	}

	var body struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if jerr := json.Unmarshal(raw, &body); jerr == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error.Message != "" {
			return body.Error.Message
		}
	}

	return utils.Truncate(strings.TrimSpace(string(raw)), 200)
}

func retryable(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}

	return false
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
