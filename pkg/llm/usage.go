package llm

// Usage reports token accounting for a completed request. Gateways
// attach it to the final streaming chunk when the provider supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
