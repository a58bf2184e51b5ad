package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

// GeminiClient implements Provider over the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey: apiKey,
		Model:  "gemini-2.0-flash",
	}
}

// NewGeminiClient creates a client with default configuration.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	return NewGeminiClientWithConfig(ctx, DefaultGeminiConfig(apiKey))
}

// NewGeminiClientWithConfig creates a client with custom configuration.
func NewGeminiClientWithConfig(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  cfg.Model,
		log:    logging.Get(logging.CategoryProvider),
	}, nil
}

func (c *GeminiClient) Type() string  { return TypeGemini }
func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) CalculateCost(inputTokens, outputTokens int) float64 {
	return costFor(TypeGemini, inputTokens, outputTokens)
}

// AnalyzeWithQuestions sends the batched prompt requesting a JSON response.
func (c *GeminiClient) AnalyzeWithQuestions(ctx context.Context, req Request) (*Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = float32(defaultTemperature)
	}
	maxTokens := int32(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = int32(defaultMaxTokens)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(temperature),
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response")
	}

	out := &Response{
		Text:    text,
		Model:   c.model,
		Latency: time.Since(start),
	}
	if result.UsageMetadata != nil {
		out.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	c.log.Debug("gemini call completed",
		zap.String("correlationId", req.CorrelationID),
		zap.Duration("latency", out.Latency),
		zap.Int("inputTokens", out.InputTokens),
		zap.Int("outputTokens", out.OutputTokens))
	return out, nil
}

// HealthCheck sends a minimal prompt under a 5 s deadline.
func (c *GeminiClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	_, err := c.AnalyzeWithQuestions(ctx, Request{Prompt: healthPrompt, MaxTokens: 8})
	return err
}
