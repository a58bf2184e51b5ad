// Package provider abstracts the LLM backends. Concrete clients speak
// provider-specific wire formats; the analyzer only sees the Provider
// interface and the selector's failover policy.
package provider

import (
	"context"
	"errors"
	"time"
)

// Provider names on the approved list. Nothing else is ever instantiated.
const (
	TypeOpenAI = "openai"
	TypeGemini = "gemini"
)

// ErrUnavailable is returned by the selector when no provider can serve.
var ErrUnavailable = errors.New("provider: no provider available")

// Request is one batched-question call.
type Request struct {
	Prompt        string
	UserID        string
	CorrelationID string
	MaxTokens     int
	Temperature   float64
}

// Response is the raw provider output before schema validation.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Provider is one LLM backend.
type Provider interface {
	// Type returns the provider name (openai, gemini).
	Type() string
	// Model returns the concrete model identifier.
	Model() string
	// AnalyzeWithQuestions sends a fully-assembled batched prompt.
	AnalyzeWithQuestions(ctx context.Context, req Request) (*Response, error)
	// HealthCheck sends a minimal prompt under a short deadline.
	HealthCheck(ctx context.Context) error
	// CalculateCost prices a call from token usage, in USD.
	CalculateCost(inputTokens, outputTokens int) float64
}

// pricing is USD per million tokens.
type pricing struct {
	inputPerM  float64
	outputPerM float64
}

var priceTable = map[string]pricing{
	TypeOpenAI: {inputPerM: 0.15, outputPerM: 0.60},
	TypeGemini: {inputPerM: 0.10, outputPerM: 0.40},
}

func costFor(providerType string, inputTokens, outputTokens int) float64 {
	p, ok := priceTable[providerType]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.inputPerM + float64(outputTokens)/1e6*p.outputPerM
}

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1500
	requestTimeout     = 20 * time.Second
	healthTimeout      = 5 * time.Second
	healthPrompt       = `Reply with exactly this JSON object: {"ok": true}`
)
