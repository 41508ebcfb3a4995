package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/coursegen-core/server/internal/agent/model"
	errx "github.com/coursegen-core/server/internal/core/error"
	logx "github.com/coursegen-core/server/pkg/logger"
)

// jsonInstruction is appended to the system prompt in JSON mode.
const jsonInstruction = "Respond with a single valid JSON object and nothing else. Do not wrap it in markdown."

// GeminiRequester calls Gemini natively through the eino chat model.
type GeminiRequester struct {
	opts    Options
	baseURL string

	mu     sync.Mutex
	models map[string]*gemini.ChatModel
}

// NewGeminiRequester builds a requester for choice.
func NewGeminiRequester(choice Choice, opts Options) *GeminiRequester {
	baseURL := choice.BaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	return &GeminiRequester{
		opts:    opts,
		baseURL: baseURL,
		models:  make(map[string]*gemini.ChatModel),
	}
}

// chatModel returns a cached chat model for the key and model pair.
func (r *GeminiRequester) chatModel(ctx context.Context, apiKey, modelName string) (*gemini.ChatModel, error) {
	cacheKey := apiKey + "\x00" + modelName

	r.mu.Lock()
	defer r.mu.Unlock()
	if cm, ok := r.models[cacheKey]; ok {
		return cm, nil
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: r.opts.HTTPClient,
	}
	if r.baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = r.baseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	cfg := &gemini.Config{
		Client: client,
		Model:  modelName,
	}
	if r.opts.MaxTokens > 0 {
		maxTokens := r.opts.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	cm, err := gemini.NewChatModel(ctx, cfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}
	r.models[cacheKey] = cm
	return cm, nil
}

func buildMessages(req model.ModelRequest) []*schema.Message {
	system := req.System
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}
	messages := make([]*schema.Message, 0, 2)
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	return append(messages, schema.UserMessage(req.Prompt))
}

// Complete sends one generate call.
func (r *GeminiRequester) Complete(ctx context.Context, req model.ModelRequest) (model.RawResponse, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return model.RawResponse{}, errx.AuthenticationFailed(fmt.Errorf("no api key for provider %q", model.ProviderGemini))
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()

	cm, err := r.chatModel(ctx, req.APIKey, req.Model)
	if err != nil {
		return model.RawResponse{}, err
	}

	callOpts := []einomodel.Option{einomodel.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, einomodel.WithMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	out, err := cm.Generate(ctx, buildMessages(req), callOpts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.RawResponse{}, classifyTransport(fmt.Errorf("%w: %v", ctxErr, err))
		}
		return model.RawResponse{}, classifyGemini(err)
	}
	if out == nil {
		return model.RawResponse{}, errx.ProviderUnavailable(fmt.Errorf("gemini returned no message"))
	}

	raw := model.RawResponse{
		Text:    out.Content,
		Model:   req.Model,
		Latency: time.Since(start),
	}
	if out.ResponseMeta != nil {
		raw.FinishReason = out.ResponseMeta.FinishReason
		if u := out.ResponseMeta.Usage; u != nil {
			raw.Usage = model.TokenUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
	}
	return raw, nil
}
