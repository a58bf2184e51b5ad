// Package moderation wraps the external content-moderation classifier used
// by Layer 2. The cascade only sees per-category scores; the wire format is
// an implementation detail of the concrete client.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

// CategorySexualMinors is the category whose hits always force REMOVE
// regardless of the configured action.
const CategorySexualMinors = "sexual/minors"

// Scores maps classifier category names to scores in [0,1].
type Scores map[string]float64

// Classifier scores a text against the moderation categories.
type Classifier interface {
	Classify(ctx context.Context, text string) (Scores, error)
}

// OpenAIModerationClient implements Classifier over the OpenAI moderations
// endpoint.
type OpenAIModerationClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

// ModerationConfig configures the moderation client.
type ModerationConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultModerationConfig returns sensible defaults.
func DefaultModerationConfig(apiKey string) ModerationConfig {
	return ModerationConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "omni-moderation-latest",
		Timeout: 10 * time.Second,
	}
}

// NewOpenAIModerationClient creates a client with default configuration.
func NewOpenAIModerationClient(apiKey string) *OpenAIModerationClient {
	return NewOpenAIModerationClientWithConfig(DefaultModerationConfig(apiKey))
}

// NewOpenAIModerationClientWithConfig creates a client with custom
// configuration.
func NewOpenAIModerationClientWithConfig(cfg ModerationConfig) *OpenAIModerationClient {
	return &OpenAIModerationClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: logging.Get(logging.CategoryProvider),
	}
}

type moderationRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

type moderationResponse struct {
	Results []struct {
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Classify scores one text. A 429 is retried once after a short pause; other
// failures propagate so the cascade can treat the layer as no-match.
func (c *OpenAIModerationClient) Classify(ctx context.Context, text string) (Scores, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("moderation: API key not configured")
	}

	body, err := json.Marshal(moderationRequest{Input: text, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("moderation: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/moderations", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("moderation: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("moderation: request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("moderation: read response: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("moderation: rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("moderation: request failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed moderationResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("moderation: parse response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("moderation: API error: %s", parsed.Error.Message)
		}
		if len(parsed.Results) == 0 {
			return nil, fmt.Errorf("moderation: empty result")
		}

		scores := Scores{}
		for cat, score := range parsed.Results[0].CategoryScores {
			scores[cat] = score
		}
		c.log.Debug("moderation scores computed", zap.Int("categories", len(scores)))
		return scores, nil
	}
	return nil, lastErr
}
