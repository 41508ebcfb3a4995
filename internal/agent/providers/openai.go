package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coursegen-core/server/internal/agent/model"
	errx "github.com/coursegen-core/server/internal/core/error"
	logx "github.com/coursegen-core/server/pkg/logger"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Seed           *int            `json:"seed,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIRequester talks to any OpenAI-compatible chat completions endpoint.
type OpenAIRequester struct {
	provider string
	baseURL  string
	seed     *int
	opts     Options
	client   *http.Client
}

// NewOpenAIRequester builds a requester for choice.
func NewOpenAIRequester(choice Choice, opts Options) *OpenAIRequester {
	baseURL := choice.BaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	return &OpenAIRequester{
		provider: choice.Provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		seed:     choice.Seed,
		opts:     opts,
		client:   opts.httpClient(),
	}
}

func (r *OpenAIRequester) buildRequest(req model.ModelRequest) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Seed:        r.seed,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = r.opts.MaxTokens
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}

// Complete sends one chat completion request.
func (r *OpenAIRequester) Complete(ctx context.Context, req model.ModelRequest) (model.RawResponse, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return model.RawResponse{}, errx.AuthenticationFailed(fmt.Errorf("no api key for provider %q", r.provider))
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(r.buildRequest(req)); err != nil {
		return model.RawResponse{}, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", &buf)
	if err != nil {
		return model.RawResponse{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return model.RawResponse{}, classifyTransport(err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return model.RawResponse{}, classifyTransport(readErr)
	}
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Provider: r.provider, StatusCode: resp.StatusCode, Body: errorMessage(raw)}
		logx.Debug().
			Str("provider", r.provider).
			Str("model", req.Model).
			Int("status", resp.StatusCode).
			Msg("chat completion rejected")
		return model.RawResponse{}, classifyStatus(resp.StatusCode, statusErr)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.RawResponse{}, errx.ProviderUnavailable(fmt.Errorf("decode chat response: %w", err))
	}
	if len(out.Choices) == 0 {
		return model.RawResponse{}, errx.ProviderUnavailable(fmt.Errorf("chat response has no choices"))
	}

	modelName := out.Model
	if modelName == "" {
		modelName = req.Model
	}
	return model.RawResponse{
		Text:         out.Choices[0].Message.Content,
		Model:        modelName,
		FinishReason: out.Choices[0].FinishReason,
		Usage: model.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
		Latency: latency,
	}, nil
}

const maxErrorBody = 512

// errorMessage pulls the provider's message out of an error body.
func errorMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
