// Package judge talks to the language models that grade transcripts.
package judge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Default endpoints per provider.
var defaultBaseURLs = map[string]string{
	ProviderGemini:    "https://generativelanguage.googleapis.com/v1beta/openai",
	ProviderOpenAI:    "https://api.openai.com/v1",
	ProviderAnthropic: "https://api.anthropic.com",
}

// Request is a single judging prompt.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Response is the raw model reply plus token usage.
type Response struct {
	Content      string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client sends a prompt to a model and returns its reply.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// StatusError is a non-200 reply from the model endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("judge API returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configure a Client.
type Options struct {
	Provider  string
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
	Timeout   time.Duration

	// OpenAICompatible forces the chat completions wire format for every
	// provider, as when calls go through a LiteLLM gateway.
	OpenAICompatible bool
}

// New builds the client for opts.Provider.
func New(opts Options) (Client, error) {
	provider := strings.ToLower(opts.Provider)
	if provider == "" {
		provider = ProviderGemini
	}
	base, ok := defaultBaseURLs[provider]
	if !ok {
		return nil, fmt.Errorf("unknown judge provider %q", opts.Provider)
	}
	if opts.BaseURL != "" {
		base = opts.BaseURL
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("judge model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	httpClient := &http.Client{Timeout: opts.Timeout}

	if provider == ProviderAnthropic && !opts.OpenAICompatible {
		return &AnthropicClient{
			BaseURL:   strings.TrimRight(base, "/"),
			APIKey:    opts.APIKey,
			Model:     opts.Model,
			MaxTokens: maxTokens,
			HTTP:      httpClient,
		}, nil
	}
	return &OpenAIClient{
		Provider:  provider,
		BaseURL:   strings.TrimRight(base, "/"),
		APIKey:    opts.APIKey,
		Model:     opts.Model,
		MaxTokens: maxTokens,
		HTTP:      httpClient,
	}, nil
}
