package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

// OpenAIClient implements Provider over the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: requestTimeout,
	}
}

// NewOpenAIClient creates a client with default configuration.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a client with custom configuration.
func NewOpenAIClientWithConfig(cfg OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: logging.Get(logging.CategoryProvider),
	}
}

func (c *OpenAIClient) Type() string  { return TypeOpenAI }
func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) CalculateCost(inputTokens, outputTokens int) float64 {
	return costFor(TypeOpenAI, inputTokens, outputTokens)
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// AnalyzeWithQuestions sends the batched prompt and returns the raw JSON
// text. Retries up to 3 times with exponential backoff on transport errors
// and 429s.
func (c *OpenAIClient) AnalyzeWithQuestions(ctx context.Context, req Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openai: API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	body := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	start := time.Now()
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("openai: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("openai: request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("openai: read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("openai: rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("openai: request failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed openAIResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("openai: parse response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("openai: API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("openai: no completion returned")
		}

		out := &Response{
			Text:         strings.TrimSpace(parsed.Choices[0].Message.Content),
			Model:        parsed.Model,
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			Latency:      time.Since(start),
		}
		if out.Model == "" {
			out.Model = c.model
		}
		c.log.Debug("openai call completed",
			zap.String("correlationId", req.CorrelationID),
			zap.Duration("latency", out.Latency),
			zap.Int("inputTokens", out.InputTokens),
			zap.Int("outputTokens", out.OutputTokens))
		return out, nil
	}
	return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
}

// HealthCheck sends a minimal prompt under a 5 s deadline.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	_, err := c.AnalyzeWithQuestions(ctx, Request{Prompt: healthPrompt, MaxTokens: 8})
	return err
}
