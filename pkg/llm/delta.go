package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Delta is the uniform record produced from one streaming chunk. Deltas
// contain only what the chunk actually carried; most fields are empty
// on most chunks.
type Delta struct {
	// Content is the visible answer text carried by this chunk.
	Content string
	// Reasoning is model thinking text carried alongside the answer,
	// from either a reasoning or reasoning_content field.
	Reasoning string
	// Stop reports that the chunk carried an explicit "stop" finish
	// reason. Other finish reasons (length, content_filter) do not set
	// it.
	Stop bool
	// Usage holds token accounting when the chunk supplied it,
	// typically on the final chunk of a stream.
	Usage *Usage
}

// HasText reports whether the delta carries any visible or reasoning
// text.
func (d Delta) HasText() bool {
	return d.Content != "" || d.Reasoning != ""
}

// DecodeDelta parses one streaming chunk payload into a Delta.
//
// The gateway fronts many providers, so chunks arrive in more than one
// shape: the OpenAI chat shape (choices[0].delta), the responses shape
// (output[0] with text either a plain string or an array of text
// blocks), or bare top-level content/reasoning fields. Each field is
// resolved from those shapes in that order, with the top-level fields
// consulted only when the structured shapes yielded nothing. A chunk
// that is valid JSON but matches none of the shapes decodes to an
// empty Delta without error.
func DecodeDelta(data []byte) (Delta, error) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		return Delta{}, fmt.Errorf("parsing chunk: %w", err)
	}

	var d Delta

	if choices, ok := chunk["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if delta, ok := choice["delta"].(map[string]any); ok {
				d.Content = textValue(delta["content"])
				d.Reasoning = stringValue(delta["reasoning"])
				if d.Reasoning == "" {
					d.Reasoning = stringValue(delta["reasoning_content"])
				}
			}
			if stringValue(choice["finish_reason"]) == "stop" {
				d.Stop = true
			}
		}
	}

	if output, ok := chunk["output"].([]any); ok && len(output) > 0 {
		if item, ok := output[0].(map[string]any); ok {
			if d.Content == "" {
				d.Content = textValue(item["text"])
			}
			if d.Content == "" {
				d.Content = textValue(item["content"])
			}
			if stringValue(item["finish_reason"]) == "stop" {
				d.Stop = true
			}
		}
	}

	if d.Content == "" {
		d.Content = textValue(chunk["content"])
	}
	if d.Reasoning == "" {
		d.Reasoning = stringValue(chunk["reasoning"])
	}

	d.Usage = extractUsage(chunk["usage"])

	return d, nil
}

// textValue extracts text from a value that may be a plain string or
// an array of text blocks ({"type":"text","text":"..."} or bare
// strings).
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		var sb strings.Builder
		for _, item := range t {
			switch block := item.(type) {
			case string:
				sb.WriteString(block)
			case map[string]any:
				sb.WriteString(stringValue(block["text"]))
			}
		}
		return sb.String()
	}
	return ""
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// extractUsage pulls token counts out of a usage object. Providers
// disagree on number encodings, so values may arrive as JSON numbers
// or as strings.
func extractUsage(v any) *Usage {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return &Usage{
		PromptTokens:     jsonInt(m["prompt_tokens"]),
		CompletionTokens: jsonInt(m["completion_tokens"]),
		TotalTokens:      jsonInt(m["total_tokens"]),
	}
}

func jsonInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return parsed
	}
	return 0
}
