package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/llm"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/logger"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/stream"
	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/timeout"
)

// contentChunk builds a minimal OpenAI-shaped streaming chunk.
func contentChunk(text string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, text)
}

// writeChunks streams each chunk as one SSE data event.
func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	Expect(ok).To(BeTrue())

	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
		flusher.Flush()
	}
}

// newTestController builds a Controller against the fixture server with
// fast backoff and a generous budget; mutate tweaks the config per
// test.
func newTestController(baseURL string, mutate func(*stream.Config)) *stream.Controller {
	cfg := stream.Config{
		BaseURL:      baseURL,
		APIKey:       "gw_test_key",
		Logger:       logger.Nop(),
		RetryBackoff: time.Millisecond,
		Budget: timeout.Budget{
			FirstChunk: 5 * time.Second,
			InterChunk: 5 * time.Second,
			Total:      30 * time.Second,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return stream.NewController(cfg)
}

func collectEvents(s *stream.Session) []stream.Event {
	var events []stream.Event
	for ev := range s.Events() {
		events = append(events, ev)
	}

	return events
}

func joinedContent(events []stream.Event) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.Content)
	}

	return b.String()
}

func joinedReasoning(events []stream.Event) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.ReasoningDelta)
	}

	return b.String()
}

var _ = Describe("Controller", func() {
	var userReq llm.ChatRequest

	BeforeEach(func() {
		userReq = llm.ChatRequest{
			Model:    "openai/gpt-4o",
			Messages: []llm.Message{llm.NewUserMessage("Say hello")},
		}
	})

	Context("on a clean stream", func() {
		It("delivers events in order and completes", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("Hello"), contentChunk(" world"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events).To(HaveLen(5))
			Expect(events[0].Status).To(Equal(stream.StatusFirstToken))
			Expect(events[1].Content).To(Equal("Hello"))
			Expect(events[2].Content).To(Equal(" world"))
			Expect(events[3].Status).To(Equal(stream.StatusTimingInfo))
			Expect(events[3].Timing).NotTo(BeNil())
			Expect(events[4].Done).To(BeTrue())

			Expect(events[3].Timing.TimeToFirstToken).To(BeNumerically(">", 0))
			Expect(events[3].Timing.TotalTime).To(BeNumerically(">", 0))
			Expect(events[3].Timing.EstimatedTokens).To(Equal(len("Hello world") / 4))

			Expect(s.State()).To(Equal(stream.StateComplete))
			Expect(s.Err()).NotTo(HaveOccurred())
			timing, ok := s.Timing()
			Expect(ok).To(BeTrue())
			Expect(timing).To(Equal(*events[3].Timing))
		})

		It("assigns each session a distinct identifier", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("hi"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			ctrl := newTestController(server.URL, nil)
			first := ctrl.Stream(context.Background(), userReq)
			collectEvents(first)
			second := ctrl.Stream(context.Background(), userReq)
			collectEvents(second)

			Expect(first.ID()).NotTo(BeEmpty())
			Expect(second.ID()).NotTo(BeEmpty())
			Expect(first.ID()).NotTo(Equal(second.ID()))
		})

		It("sends a correctly shaped gateway request", func() {
			type captured struct {
				auth, accept, requestID string
				body                    map[string]any
			}
			got := make(chan captured, 1)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, err := io.ReadAll(r.Body)
				Expect(err).NotTo(HaveOccurred())
				var body map[string]any
				Expect(json.Unmarshal(raw, &body)).To(Succeed())
				got <- captured{
					auth:      r.Header.Get("Authorization"),
					accept:    r.Header.Get("Accept"),
					requestID: r.Header.Get("X-Request-ID"),
					body:      body,
				}
				writeChunks(w, contentChunk("hi"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			collectEvents(s)

			c := <-got
			Expect(c.auth).To(Equal("Bearer gw_test_key"))
			Expect(c.accept).To(Equal("text/event-stream"))
			Expect(c.requestID).NotTo(BeEmpty())
			Expect(c.body["model"]).To(Equal("openai/gpt-4o"))
			Expect(c.body["stream"]).To(BeTrue())
			Expect(c.body["messages"]).To(HaveLen(1))
		})

		It("separates reasoning fields from visible content", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w,
					`{"choices":[{"delta":{"reasoning_content":"considering..."}}]}`,
					contentChunk("The answer is 4."),
					"[DONE]",
				)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(joinedReasoning(events)).To(Equal("considering..."))
			Expect(joinedContent(events)).To(Equal("The answer is 4."))
			Expect(s.State()).To(Equal(stream.StateComplete))
		})

		It("extracts thinking tags split across chunks", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w,
					contentChunk("<thinki"),
					contentChunk("ng>deep</thinking> an answer"),
					"[DONE]",
				)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events[0].Status).To(Equal(stream.StatusFirstToken))
			Expect(joinedReasoning(events)).To(Equal("deep"))
			Expect(joinedContent(events)).To(Equal(" an answer"))
			Expect(s.State()).To(Equal(stream.StateComplete))
		})

		It("flushes text held back for a possible tag at end of stream", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("see <thi"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(joinedContent(events)).To(Equal("see <thi"))
			Expect(s.State()).To(Equal(stream.StateComplete))
		})

		It("accepts a thinking tag left open at end of stream", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("Answer: <think>partial reasoning"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(joinedContent(events)).To(Equal("Answer: "))
			Expect(joinedReasoning(events)).To(Equal("partial reasoning"))
			Expect(s.State()).To(Equal(stream.StateComplete))
		})

		It("attaches gateway usage to the final timing", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w,
					contentChunk("done"),
					`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":1,"total_tokens":13}}`,
					"[DONE]",
				)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			var timing *stream.Timing
			for _, ev := range events {
				if ev.Status == stream.StatusTimingInfo {
					timing = ev.Timing
				}
			}
			Expect(timing).NotTo(BeNil())
			Expect(timing.Usage).NotTo(BeNil())
			Expect(timing.Usage.TotalTokens).To(Equal(13))
		})

		It("skips malformed chunks without ending the stream", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, "{invalid json", contentChunk("fine"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(joinedContent(events)).To(Equal("fine"))
			for _, ev := range events {
				Expect(ev.Err).To(BeNil())
			}
			Expect(s.State()).To(Equal(stream.StateComplete))
		})

		It("completes without a first token when only [DONE] arrives", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events).To(HaveLen(2))
			Expect(events[0].Status).To(Equal(stream.StatusTimingInfo))
			Expect(events[0].Timing.TimeToFirstToken).To(BeZero())
			Expect(events[1].Done).To(BeTrue())
			Expect(s.State()).To(Equal(stream.StateComplete))
		})
	})

	Context("on gateway errors", func() {
		It("fails with an empty response error on a zero-byte stream", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events).To(HaveLen(1))
			Expect(errors.Is(events[0].Err, stream.ErrEmptyResponse)).To(BeTrue())
			Expect(events[0].Err.Error()).To(Equal("no response from model"))
			Expect(s.State()).To(Equal(stream.StateError))
		})

		It("treats a 401 as terminal without retrying", func() {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusUnauthorized)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events).To(HaveLen(1))
			var authErr stream.AuthError
			Expect(errors.As(events[0].Err, &authErr)).To(BeTrue())
			Expect(calls.Load()).To(Equal(int32(1)))
			Expect(s.State()).To(Equal(stream.StateError))
			Expect(s.Err()).To(Equal(events[0].Err))
		})

		It("fails fast when no API key is configured", func() {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, func(cfg *stream.Config) {
				cfg.APIKey = ""
			}).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events).To(HaveLen(1))
			var authErr stream.AuthError
			Expect(errors.As(events[0].Err, &authErr)).To(BeTrue())
			Expect(calls.Load()).To(BeZero())
		})

		It("treats a 429 as terminal and surfaces the gateway detail", func() {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"detail":"monthly quota exceeded"}`)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events).To(HaveLen(1))
			var rle stream.RateLimitError
			Expect(errors.As(events[0].Err, &rle)).To(BeTrue())
			Expect(rle.Detail).To(Equal("monthly quota exceeded"))
			Expect(calls.Load()).To(Equal(int32(1)))
			Expect(s.State()).To(Equal(stream.StateError))
		})

		It("retries retryable server errors and then succeeds", func() {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= 2 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				writeChunks(w, contentChunk("recovered"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(events[0].Status).To(Equal(stream.StatusRateLimitRetry))
			Expect(events[1].Status).To(Equal(stream.StatusRateLimitRetry))
			Expect(events[2].Status).To(Equal(stream.StatusFirstToken))
			Expect(joinedContent(events)).To(Equal("recovered"))
			Expect(calls.Load()).To(Equal(int32(3)))
			Expect(s.State()).To(Equal(stream.StateComplete))
		})

		It("gives up after the configured retries", func() {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusBadGateway)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			last := events[len(events)-1]
			var tse stream.TransientServerError
			Expect(errors.As(last.Err, &tse)).To(BeTrue())
			Expect(tse.Status).To(Equal(http.StatusBadGateway))
			Expect(tse.Attempts).To(Equal(3))
			Expect(calls.Load()).To(Equal(int32(3)))
			Expect(s.State()).To(Equal(stream.StateError))
		})

		It("uses a fresh request ID for every attempt", func() {
			var mu sync.Mutex
			var ids []string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				ids = append(ids, r.Header.Get("X-Request-ID"))
				n := len(ids)
				mu.Unlock()
				if n == 1 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				writeChunks(w, contentChunk("ok"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			collectEvents(s)

			mu.Lock()
			defer mu.Unlock()
			Expect(ids).To(HaveLen(2))
			Expect(ids[0]).NotTo(BeEmpty())
			Expect(ids[1]).NotTo(BeEmpty())
			Expect(ids[0]).NotTo(Equal(ids[1]))
		})

		It("surfaces other statuses as upstream errors", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":{"message":"model not found"}}`)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			events := collectEvents(s)

			var ue stream.UpstreamError
			Expect(errors.As(events[len(events)-1].Err, &ue)).To(BeTrue())
			Expect(ue.Status).To(Equal(http.StatusBadRequest))
			Expect(ue.Detail).To(Equal("model not found"))
		})
	})

	Context("with timeout budgets", func() {
		It("times out waiting for the first chunk", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
				w.(http.Flusher).Flush()
				<-r.Context().Done()
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, func(cfg *stream.Config) {
				cfg.Budget = timeout.Budget{
					FirstChunk: 80 * time.Millisecond,
					InterChunk: 5 * time.Second,
					Total:      30 * time.Second,
				}
			}).Stream(context.Background(), userReq)
			events := collectEvents(s)

			var te stream.TimeoutError
			Expect(errors.As(events[len(events)-1].Err, &te)).To(BeTrue())
			Expect(te.Phase).To(Equal(stream.PhaseFirstChunk))
			Expect(s.State()).To(Equal(stream.StateError))
		})

		It("times out when the stream stalls between chunks", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("partial"))
				<-r.Context().Done()
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, func(cfg *stream.Config) {
				cfg.Budget = timeout.Budget{
					FirstChunk: 5 * time.Second,
					InterChunk: 80 * time.Millisecond,
					Total:      30 * time.Second,
				}
			}).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(joinedContent(events)).To(Equal("partial"))
			var te stream.TimeoutError
			Expect(errors.As(events[len(events)-1].Err, &te)).To(BeTrue())
			Expect(te.Phase).To(Equal(stream.PhaseInterChunk))
		})

		It("times out when the whole request exceeds the total budget", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())
				for {
					select {
					case <-r.Context().Done():
						return
					case <-time.After(30 * time.Millisecond):
						fmt.Fprintf(w, "data: %s\n\n", contentChunk("x"))
						flusher.Flush()
					}
				}
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, func(cfg *stream.Config) {
				cfg.Budget = timeout.Budget{
					FirstChunk: 5 * time.Second,
					InterChunk: 5 * time.Second,
					Total:      250 * time.Millisecond,
				}
			}).Stream(context.Background(), userReq)
			events := collectEvents(s)

			var te stream.TimeoutError
			Expect(errors.As(events[len(events)-1].Err, &te)).To(BeTrue())
			Expect(te.Phase).To(Equal(stream.PhaseTotal))
		})

		It("stops the inter-chunk clock after an explicit finish reason", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, `{"choices":[{"delta":{"content":"done"},"finish_reason":"stop"}]}`)
				// Quiet gap longer than the inter-chunk budget before the
				// gateway closes the stream.
				time.Sleep(350 * time.Millisecond)
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, func(cfg *stream.Config) {
				cfg.Budget = timeout.Budget{
					FirstChunk: 5 * time.Second,
					InterChunk: 100 * time.Millisecond,
					Total:      30 * time.Second,
				}
			}).Stream(context.Background(), userReq)
			events := collectEvents(s)

			Expect(joinedContent(events)).To(Equal("done"))
			Expect(events[len(events)-1].Done).To(BeTrue())
			Expect(s.State()).To(Equal(stream.StateComplete))
		})
	})

	Context("on cancellation", func() {
		It("ends without an error event and is idempotent", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("partial"))
				<-r.Context().Done()
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)

			var ev stream.Event
			Eventually(s.Events(), "5s").Should(Receive(&ev))
			Expect(ev.Status).To(Equal(stream.StatusFirstToken))
			Eventually(s.Events(), "5s").Should(Receive(&ev))
			Expect(ev.Content).To(Equal("partial"))

			s.Cancel()
			s.Cancel()

			for ev := range s.Events() {
				Expect(ev.Err).To(BeNil())
				Expect(ev.Done).To(BeFalse())
			}
			Expect(s.State()).To(Equal(stream.StateCancelled))
			Expect(s.Err()).NotTo(HaveOccurred())
			_, ok := s.Timing()
			Expect(ok).To(BeFalse())
		})

		It("keeps the first terminal state when cancelled after completion", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("hi"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			s := newTestController(server.URL, nil).Stream(context.Background(), userReq)
			collectEvents(s)
			Expect(s.State()).To(Equal(stream.StateComplete))

			s.Cancel()
			Expect(s.State()).To(Equal(stream.StateComplete))
		})

		It("tears down the active session before starting a new stream", func() {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					writeChunks(w, contentChunk("first"))
					<-r.Context().Done()
					return
				}
				writeChunks(w, contentChunk("second"), "[DONE]")
			}))
			DeferCleanup(server.Close)

			ctrl := newTestController(server.URL, nil)
			first := ctrl.Stream(context.Background(), userReq)

			var ev stream.Event
			Eventually(first.Events(), "5s").Should(Receive(&ev))
			Expect(ev.Status).To(Equal(stream.StatusFirstToken))

			second := ctrl.Stream(context.Background(), userReq)

			for ev := range first.Events() {
				Expect(ev.Err).To(BeNil())
				Expect(ev.Done).To(BeFalse())
			}
			Expect(first.State()).To(Equal(stream.StateCancelled))

			events := collectEvents(second)
			Expect(second.State()).To(Equal(stream.StateComplete))
			Expect(events[1].Content).To(Equal("second"))
		})

		It("honors caller context cancellation", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChunks(w, contentChunk("partial"))
				<-r.Context().Done()
			}))
			DeferCleanup(server.Close)

			ctx, cancel := context.WithCancel(context.Background())
			s := newTestController(server.URL, nil).Stream(ctx, userReq)

			var ev stream.Event
			Eventually(s.Events(), "5s").Should(Receive(&ev))
			cancel()

			for ev := range s.Events() {
				Expect(ev.Err).To(BeNil())
			}
			Expect(s.State()).To(Equal(stream.StateCancelled))
		})
	})
})
