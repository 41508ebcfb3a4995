// Package providers sends single completion requests to model providers.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coursegen-core/server/internal/agent/model"
)

// Requester performs exactly one model call per Complete. Retries belong to
// the caller.
type Requester interface {
	Complete(ctx context.Context, req model.ModelRequest) (model.RawResponse, error)
}

// Kind selects the wire protocol used for a model choice.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

// DefaultChoice is used when a configured choice is unknown.
const DefaultChoice = "Gemini-2.5-Pro"

// Choice is a named model configuration.
type Choice struct {
	Name        string
	Kind        Kind
	Provider    string
	Model       string
	BaseURL     string
	Temperature float32
	JSONMode    bool
	Seed        *int
}

func seed(v int) *int { return &v }

var catalogue = map[string]Choice{
	"gemini-2.5-pro": {
		Name:        "Gemini-2.5-Pro",
		Kind:        KindGemini,
		Provider:    model.ProviderGemini,
		Model:       "gemini-2.5-pro",
		Temperature: 0.2,
		JSONMode:    true,
	},
	"gemini-2.5-flash": {
		Name:        "Gemini-2.5-Flash",
		Kind:        KindGemini,
		Provider:    model.ProviderGemini,
		Model:       "gemini-2.5-flash",
		Temperature: 0.2,
		JSONMode:    true,
	},
	"gpt-4o": {
		Name:        "GPT-4o",
		Kind:        KindOpenAI,
		Provider:    model.ProviderOpenAI,
		Model:       "gpt-4o",
		BaseURL:     "https://api.openai.com/v1",
		Temperature: 0.2,
		JSONMode:    true,
		Seed:        seed(42),
	},
	"gpt-4o-mini": {
		Name:        "GPT-4o-mini",
		Kind:        KindOpenAI,
		Provider:    model.ProviderOpenAI,
		Model:       "gpt-4o-mini",
		BaseURL:     "https://api.openai.com/v1",
		Temperature: 0.2,
		JSONMode:    true,
		Seed:        seed(42),
	},
	// deepseek-chat does not honour response_format, the prompt asks for JSON instead
	"deepseek-v3": {
		Name:        "DeepSeek-V3",
		Kind:        KindOpenAI,
		Provider:    model.ProviderDeepSeek,
		Model:       "deepseek-chat",
		BaseURL:     "https://api.deepseek.com",
		Temperature: 0.2,
		Seed:        seed(42),
	},
}

// Lookup returns the named choice. Names are matched case-insensitively;
// an unknown name yields the default choice and false.
func Lookup(name string) (Choice, bool) {
	if c, ok := catalogue[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, true
	}
	return catalogue[strings.ToLower(DefaultChoice)], false
}

// Choices lists the catalogue names, sorted.
func Choices() []string {
	names := make([]string, 0, len(catalogue))
	for _, c := range catalogue {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Options tune a requester.
type Options struct {
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxTokens caps output tokens when the request leaves it unset.
	MaxTokens int
	// BaseURL overrides the choice's endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 120 * time.Second

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{}
}

// New builds the requester for choice.
func New(choice Choice, opts Options) (Requester, error) {
	switch choice.Kind {
	case KindOpenAI:
		return NewOpenAIRequester(choice, opts), nil
	case KindGemini:
		return NewGeminiRequester(choice, opts), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q for model choice %q", choice.Kind, choice.Name)
	}
}

// Request builds the model request for prompt using choice's defaults and the
// matching key from creds.
func (c Choice) Request(creds model.Credentials, prompt string) model.ModelRequest {
	return model.NewModelRequest(c.Model, creds.APIKey(c.Provider), c.Temperature, c.JSONMode, prompt)
}
