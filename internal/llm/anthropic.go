package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content []anthropicPart `json:"content"`
}

type anthropicPart struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicAdapter calls the Messages API with base64 image blocks
type anthropicAdapter struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

func newAnthropicAdapter(apiKey, model, baseURL string, maxTokens int, httpClient *http.Client) (*anthropicAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set llm.api_key or ANTHROPIC_API_KEY)")
	}
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return &anthropicAdapter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}, nil
}

func (a *anthropicAdapter) Provider() string { return ProviderAnthropic }
func (a *anthropicAdapter) Model() string    { return a.model }

func (a *anthropicAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Images = nil
	return a.ChatWithImages(ctx, req)
}

func (a *anthropicAdapter) ChatWithImages(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var parts []anthropicPart
	for _, img := range req.Images {
		parts = append(parts, anthropicPart{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	parts = append(parts, anthropicPart{Type: "text", Text: req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: parts}},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	logging.Debug("Anthropic request: model=%s images=%d bytes=%d", a.model, len(req.Images), len(jsonData))
	start := time.Now()
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	logging.Debug("Anthropic response in %v: status=%d bytes=%d", time.Since(start), resp.StatusCode, len(raw))

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: truncate(string(raw), 300)}
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil || resp.StatusCode >= 300 {
		msg := truncate(string(raw), 300)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, &APIError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: msg}
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("Anthropic returned empty response - model: %s, stop_reason: %s", a.model, out.StopReason)
	}

	return &ChatResponse{
		Text: text.String(),
		Usage: &types.TokenUsage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}
