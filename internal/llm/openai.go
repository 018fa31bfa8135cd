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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIRequest is the chat completions request body
type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []openAIPart
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// openAIAdapter calls the chat completions API with image_url parts
type openAIAdapter struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

func newOpenAIAdapter(apiKey, model, baseURL string, maxTokens int, httpClient *http.Client) (*openAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set llm.api_key or OPENAI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openAIAdapter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}, nil
}

func (a *openAIAdapter) Provider() string { return ProviderOpenAI }
func (a *openAIAdapter) Model() string    { return a.model }

func (a *openAIAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Images = nil
	return a.ChatWithImages(ctx, req)
}

func (a *openAIAdapter) ChatWithImages(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var messages []openAIMessage
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}

	if len(req.Images) == 0 {
		messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})
	} else {
		parts := []openAIPart{{Type: "text", Text: req.Prompt}}
		for _, img := range req.Images {
			url := "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
			parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: url, Detail: "high"}})
		}
		messages = append(messages, openAIMessage{Role: "user", Content: parts})
	}

	body := openAIRequest{Model: a.model, Messages: messages}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens > 0 {
		body.MaxCompletionTokens = &maxTokens
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	logging.Debug("OpenAI request: model=%s images=%d bytes=%d", a.model, len(req.Images), len(jsonData))
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
	logging.Debug("OpenAI response in %v: status=%d bytes=%d", time.Since(start), resp.StatusCode, len(raw))

	var out openAIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: truncate(string(raw), 300)}
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil || resp.StatusCode >= 300 {
		msg := truncate(string(raw), 300)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, &APIError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: msg}
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI - empty choices array")
	}

	content := out.Choices[0].Message.Content
	if content == "" {
		return nil, fmt.Errorf("OpenAI returned empty response - model: %s, finish_reason: %s", a.model, out.Choices[0].FinishReason)
	}

	return &ChatResponse{
		Text: content,
		Usage: &types.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}
