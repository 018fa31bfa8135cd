package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/types"
)

// Providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderRuleBased = "rule-based"
)

// Image is an inline image sent with a prompt
type Image struct {
	MediaType string
	Data      []byte
}

// ChatRequest is a single-turn request to a vision model
type ChatRequest struct {
	System    string
	Prompt    string
	Images    []Image
	MaxTokens int

	// Comparison and Differences let the rule-based adapter answer without
	// looking at images; vendor adapters ignore them
	Comparison  *types.CompareResult
	Differences []types.Difference
}

// ChatResponse is the model's text and token usage
type ChatResponse struct {
	Text  string
	Usage *types.TokenUsage
}

// VisionAdapter talks to one model vendor
type VisionAdapter interface {
	ChatWithImages(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Provider() string
	Model() string
}

// ProviderForModel picks the vendor for a model name
func ProviderForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderOpenAI
	default:
		return ProviderRuleBased
	}
}

// NewAdapter creates the adapter for an endpoint's model
func NewAdapter(ep config.EndpointConfig) (VisionAdapter, error) {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	switch ProviderForModel(ep.Model) {
	case ProviderOpenAI:
		return newOpenAIAdapter(ep.APIKey, ep.Model, ep.BaseURL, ep.MaxTokens, httpClient)
	case ProviderAnthropic:
		return newAnthropicAdapter(ep.APIKey, ep.Model, ep.BaseURL, ep.MaxTokens, httpClient)
	default:
		return NewRuleBasedAdapter(), nil
	}
}

// APIError is a non-2xx vendor response
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
