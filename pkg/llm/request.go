package llm

// ChatRequest is the request body for the gateway's chat completions
// endpoint. Optional knobs are pointers so that unset values are left
// out of the JSON entirely and the gateway's own defaults apply.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// WithMaxTokens sets the completion token cap.
func (r *ChatRequest) WithMaxTokens(n int) *ChatRequest {
	r.MaxTokens = &n
	return r
}

// WithTemperature sets the sampling temperature.
func (r *ChatRequest) WithTemperature(t float64) *ChatRequest {
	r.Temperature = &t
	return r
}

// WithTopP sets the nucleus sampling cutoff.
func (r *ChatRequest) WithTopP(p float64) *ChatRequest {
	r.TopP = &p
	return r
}
