package model

import "time"

// ModelRequest is one completion call. It is passed by value; use the With*
// helpers to derive a variant instead of mutating a shared request.
type ModelRequest struct {
	Model       string
	APIKey      string
	Temperature float32
	JSONMode    bool
	MaxTokens   int
	System      string
	Prompt      string
}

// NewModelRequest builds a request for a single prompt.
func NewModelRequest(model, apiKey string, temperature float32, jsonMode bool, prompt string) ModelRequest {
	return ModelRequest{
		Model:       model,
		APIKey:      apiKey,
		Temperature: temperature,
		JSONMode:    jsonMode,
		Prompt:      prompt,
	}
}

// WithSystem returns a copy carrying a system instruction.
func (r ModelRequest) WithSystem(system string) ModelRequest {
	r.System = system
	return r
}

// WithMaxTokens returns a copy with an output token cap.
func (r ModelRequest) WithMaxTokens(n int) ModelRequest {
	r.MaxTokens = n
	return r
}

// TokenUsage counts tokens reported by the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// RawResponse is the unprocessed text a model returned.
type RawResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        TokenUsage
	Latency      time.Duration
}
