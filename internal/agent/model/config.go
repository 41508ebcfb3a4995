package model

import "time"

// ================ Config ================
type ModelConfig struct {
	Choice         string        `envconfig:"MODEL_CHOICE" default:"Gemini-2.5-Pro"`
	MaxTokens      int           `envconfig:"MODEL_MAX_TOKENS" default:"8192"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"120s"`
}

type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int           `envconfig:"RETRY_MAX" default:"2"`
	Backoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"2s"`
}

type CheckpointConfig struct {
	Backend string        `envconfig:"CHECKPOINT_BACKEND" default:"file"`
	Dir     string        `envconfig:"CHECKPOINT_DIR" default:"checkpoints"`
	TTL     time.Duration `envconfig:"CHECKPOINT_TTL" default:"168h"`
}

type LibraryConfig struct {
	PromptDir   string `envconfig:"PROMPT_DIR" default:"prompts"`
	PipelineDir string `envconfig:"PIPELINE_DIR" default:"pipelines"`
}

type ProviderKeys struct {
	OpenAI   string `envconfig:"OPENAI_API_KEY"`
	DeepSeek string `envconfig:"DEEPSEEK_API_KEY"`
	Gemini   string `envconfig:"GEMINI_API_KEY"`
}

// Credentials builds the read-only key accessor handed to providers.
func (k ProviderKeys) Credentials() Credentials {
	return NewCredentials(map[string]string{
		ProviderOpenAI:   k.OpenAI,
		ProviderDeepSeek: k.DeepSeek,
		ProviderGemini:   k.Gemini,
	})
}
