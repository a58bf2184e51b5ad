package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

const (
	healthCacheTTL = 5 * time.Minute

	healthValueHealthy   = "healthy"
	healthValueUnhealthy = "unhealthy"
)

// Factory builds a concrete provider client. Swapped in tests.
type Factory func(ctx context.Context, providerType, apiKey string) (Provider, error)

// DefaultFactory instantiates the approved provider clients.
func DefaultFactory(ctx context.Context, providerType, apiKey string) (Provider, error) {
	switch providerType {
	case TypeOpenAI:
		return NewOpenAIClient(apiKey), nil
	case TypeGemini:
		return NewGeminiClient(ctx, apiKey)
	}
	return nil, fmt.Errorf("provider: unknown provider %q", providerType)
}

// SelectorConfig carries the installation's provider choice.
type SelectorConfig struct {
	Primary  string
	Fallback string
	APIKeys  map[string]string
}

// Selector picks the provider to call: primary first, fallback second, each
// gated by its circuit breaker and a store-cached health check.
type Selector struct {
	store   kvstore.Store
	keys    kvstore.Keyspace
	cfg     SelectorConfig
	factory Factory
	log     *zap.Logger

	mu        sync.Mutex
	providers map[string]Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewSelector wires a selector. factory may be nil to use DefaultFactory.
func NewSelector(store kvstore.Store, keys kvstore.Keyspace, cfg SelectorConfig, factory Factory) *Selector {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Selector{
		store:     store,
		keys:      keys,
		cfg:       cfg,
		factory:   factory,
		log:       logging.Get(logging.CategoryProvider),
		providers: make(map[string]Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Select returns the provider to use, skipping excluded (set during one-shot
// failover), providers without API keys, open circuits, and providers with a
// cached unhealthy verdict. Returns ErrUnavailable when nothing qualifies.
func (s *Selector) Select(ctx context.Context, excluded string) (Provider, error) {
	for _, name := range []string{s.cfg.Primary, s.cfg.Fallback} {
		if name == "" || name == excluded {
			continue
		}
		if s.cfg.APIKeys[name] == "" {
			continue
		}
		if s.breaker(name).State() == gobreaker.StateOpen {
			s.log.Debug("skipping provider with open circuit", zap.String("provider", name))
			continue
		}
		p, err := s.provider(ctx, name)
		if err != nil {
			s.log.Warn("provider instantiation failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		if !s.healthy(ctx, p) {
			continue
		}
		return p, nil
	}
	return nil, ErrUnavailable
}

// Dispatch runs the provider call through its circuit breaker so repeated
// failures open the circuit and stop hammering a dead backend.
func (s *Selector) Dispatch(ctx context.Context, p Provider, req Request) (*Response, error) {
	out, err := s.breaker(p.Type()).Execute(func() (interface{}, error) {
		return p.AnalyzeWithQuestions(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

// healthy consults the cached health verdict, running a live check on a cache
// miss. Either outcome is cached for 5 minutes.
func (s *Selector) healthy(ctx context.Context, p Provider) bool {
	key := s.keys.ProviderHealth(p.Type())
	cached, err := s.store.Get(ctx, key)
	if err == nil {
		return cached == healthValueHealthy
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		s.log.Warn("health cache read failed", zap.String("provider", p.Type()), zap.Error(err))
		// Store trouble should not block moderation; assume healthy.
		return true
	}

	verdict := healthValueHealthy
	if err := p.HealthCheck(ctx); err != nil {
		verdict = healthValueUnhealthy
		s.log.Warn("provider health check failed", zap.String("provider", p.Type()), zap.Error(err))
	}
	if err := s.store.Set(ctx, key, verdict, healthCacheTTL); err != nil {
		s.log.Warn("health cache write failed", zap.String("provider", p.Type()), zap.Error(err))
	}
	return verdict == healthValueHealthy
}

func (s *Selector) provider(ctx context.Context, name string) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[name]; ok {
		return p, nil
	}
	p, err := s.factory(ctx, name, s.cfg.APIKeys[name])
	if err != nil {
		return nil, err
	}
	s.providers[name] = p
	return p, nil
}

func (s *Selector) breaker(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-" + name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			s.log.Info("provider circuit state change",
				zap.String("breaker", cbName),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	s.breakers[name] = cb
	return cb
}
