package model

import "strings"

// Credential owners. A model choice names one of these to find its key.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

// Credentials is an immutable set of provider API keys. It is built once from
// configuration and passed to the components that need it.
type Credentials struct {
	keys map[string]string
}

// NewCredentials copies keys; blank values are dropped.
func NewCredentials(keys map[string]string) Credentials {
	c := Credentials{keys: make(map[string]string, len(keys))}
	for provider, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		c.keys[strings.ToLower(provider)] = key
	}
	return c
}

// APIKey returns the key registered for provider, or "".
func (c Credentials) APIKey(provider string) string {
	return c.keys[strings.ToLower(provider)]
}

// Has reports whether a key exists for provider.
func (c Credentials) Has(provider string) bool {
	return c.APIKey(provider) != ""
}
