// Package analyzer coordinates the expensive path: cache probe, budget gate,
// request coalescing, provider selection with one-shot failover, response
// validation, cost recording, and the differential cache write.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/coalesce"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/cost"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/prompt"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/provider"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// Sentinel failures. The cascade maps all of them to "analysis unavailable";
// they stay distinct for logging and tests.
var (
	ErrBudgetExceeded      = errors.New("analyzer: daily budget exceeded")
	ErrProviderUnavailable = errors.New("analyzer: no provider available")
	ErrInvalidResponse     = errors.New("analyzer: provider response failed validation")
)

// MaxQuestionsPerBatch caps one provider call.
const MaxQuestionsPerBatch = 10

// Input is one batched analysis request.
type Input struct {
	UserID     string
	Profile    *types.UserProfile
	History    *types.PostHistory
	Subject    *types.Subject
	Subreddit  string
	Questions  []*rules.AIQuestion
	TrustScore float64
	KnownBad   bool
}

// Analyzer is the expensive-path coordinator.
type Analyzer struct {
	store     kvstore.Store
	keys      kvstore.Keyspace
	costs     *cost.Tracker
	selector  *provider.Selector
	coalescer *coalesce.Coalescer
	metrics   *prompt.Metrics
	log       *zap.Logger
	sf        singleflight.Group
	now       func() time.Time
}

// New wires an analyzer. metrics may be nil.
func New(store kvstore.Store, keys kvstore.Keyspace, costs *cost.Tracker, selector *provider.Selector, coalescer *coalesce.Coalescer, metrics *prompt.Metrics) *Analyzer {
	return &Analyzer{
		store:     store,
		keys:      keys,
		costs:     costs,
		selector:  selector,
		coalescer: coalescer,
		metrics:   metrics,
		log:       logging.Get(logging.CategoryAnalyzer),
		now:       time.Now,
	}
}

// Analyze runs the full protocol for one question batch. A nil result with a
// nil error never happens: failures carry one of the sentinel errors (or a
// coalesce timeout), and the caller decides what the cascade does with them.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*types.AIBatchResult, error) {
	ids, err := questionIDs(in.Questions)
	if err != nil {
		return nil, err
	}
	hash := kvstore.QuestionHash(ids)
	cacheKey := a.keys.UserAIQuestions(in.UserID, hash)

	if cached := a.probeCache(ctx, cacheKey, ids); cached != nil {
		a.log.Debug("analysis cache hit", zap.String("user", in.UserID), zap.String("hash", hash))
		return cached, nil
	}

	estimate := cost.Estimate(len(ids))
	affordable, err := a.costs.CanAfford(ctx, estimate)
	if err != nil {
		return nil, fmt.Errorf("budget check: %w", err)
	}
	if !affordable {
		a.log.Warn("analysis blocked by budget",
			zap.String("user", in.UserID), zap.Float64("estimateUSD", estimate))
		return nil, ErrBudgetExceeded
	}

	// In-process dedup first; cross-process lock inside.
	sfKey := in.UserID + ":" + hash
	result, err, _ := a.sf.Do(sfKey, func() (interface{}, error) {
		return a.analyzeLocked(ctx, in, ids, hash, cacheKey)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.AIBatchResult), nil
}

// analyzeLocked is the section guarded by the cross-process coalescer lock.
func (a *Analyzer) analyzeLocked(ctx context.Context, in Input, ids []string, hash, cacheKey string) (*types.AIBatchResult, error) {
	correlationID := uuid.NewString()
	lockKey := in.UserID + ":" + hash

	acquired, err := a.coalescer.AcquireLock(ctx, lockKey, correlationID)
	if err != nil {
		return nil, fmt.Errorf("acquire coalesce lock: %w", err)
	}
	if !acquired {
		// Another process is doing the work; wait for its cache write.
		var waited *types.AIBatchResult
		waitErr := a.coalescer.WaitForResult(ctx, lockKey, func(ctx context.Context) (bool, error) {
			waited = a.probeCache(ctx, cacheKey, ids)
			return waited != nil, nil
		})
		if waitErr != nil {
			return nil, waitErr
		}
		return waited, nil
	}
	defer func() {
		if err := a.coalescer.ReleaseLock(context.WithoutCancel(ctx), lockKey, correlationID); err != nil {
			a.log.Warn("coalesce lock release failed", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	built := prompt.Build(prompt.Input{
		Profile:   in.Profile,
		History:   in.History,
		Subject:   in.Subject,
		Subreddit: in.Subreddit,
		Questions: in.Questions,
	})
	if built.PIIRemoved+built.URLsRemoved > 0 {
		a.log.Debug("prompt content scrubbed",
			zap.Int("pii", built.PIIRemoved), zap.Int("urls", built.URLsRemoved))
	}
	if a.metrics != nil {
		a.metrics.RecordUse(ctx, prompt.Version)
	}

	p, resp, answers, err := a.callWithFailover(ctx, built.Prompt, ids, correlationID, in.UserID)
	if err != nil {
		return nil, err
	}

	costUSD := p.CalculateCost(resp.InputTokens, resp.OutputTokens)
	record := cost.Record{
		ID:        correlationID,
		Timestamp: a.now().UTC(),
		UserID:    in.UserID,
		Provider:  p.Type(),
		Model:     resp.Model,
		CostUSD:   costUSD,
		Tokens:    resp.InputTokens + resp.OutputTokens,
		Questions: len(ids),
	}
	if err := a.costs.Record(ctx, record); err != nil {
		// Accounting trouble must not discard a paid-for result.
		a.log.Error("cost recording failed", zap.Error(err))
	}

	ttl := CacheTTL(in.TrustScore, in.KnownBad)
	result := &types.AIBatchResult{
		UserID:        in.UserID,
		Timestamp:     record.Timestamp,
		Provider:      p.Type(),
		Model:         resp.Model,
		CorrelationID: correlationID,
		CacheTTL:      int64(ttl.Seconds()),
		TokensUsed:    record.Tokens,
		CostUSD:       costUSD,
		LatencyMs:     resp.Latency.Milliseconds(),
		Answers:       answers,
	}
	a.writeCache(ctx, in.UserID, hash, cacheKey, result, ttl)
	return result, nil
}

// callWithFailover tries the primary provider and, on any error including
// validation failure, retries exactly once with the other configured
// provider.
func (a *Analyzer) callWithFailover(ctx context.Context, promptText string, ids []string, correlationID, userID string) (provider.Provider, *provider.Response, []types.AIAnswer, error) {
	req := provider.Request{
		Prompt:        promptText,
		UserID:        userID,
		CorrelationID: correlationID,
	}

	primary, err := a.selector.Select(ctx, "")
	if err != nil {
		return nil, nil, nil, ErrProviderUnavailable
	}

	resp, answers, primaryErr := a.dispatch(ctx, primary, req, ids)
	if primaryErr == nil {
		return primary, resp, answers, nil
	}
	a.log.Warn("primary provider failed, trying fallback",
		zap.String("provider", primary.Type()), zap.Error(primaryErr))

	fallback, err := a.selector.Select(ctx, primary.Type())
	if err != nil {
		if errors.Is(primaryErr, ErrInvalidResponse) {
			return nil, nil, nil, primaryErr
		}
		return nil, nil, nil, ErrProviderUnavailable
	}
	resp, answers, fallbackErr := a.dispatch(ctx, fallback, req, ids)
	if fallbackErr != nil {
		if errors.Is(fallbackErr, ErrInvalidResponse) {
			return nil, nil, nil, fallbackErr
		}
		return nil, nil, nil, ErrProviderUnavailable
	}
	return fallback, resp, answers, nil
}

func (a *Analyzer) dispatch(ctx context.Context, p provider.Provider, req provider.Request, ids []string) (*provider.Response, []types.AIAnswer, error) {
	resp, err := a.selector.Dispatch(ctx, p, req)
	if err != nil {
		return nil, nil, err
	}
	answers, err := ParseResponse(resp.Text, ids)
	if err != nil {
		return nil, nil, err
	}
	return resp, answers, nil
}

// probeCache returns a valid cached batch or nil. Corrupt entries are
// deleted so the next call recomputes.
func (a *Analyzer) probeCache(ctx context.Context, cacheKey string, ids []string) *types.AIBatchResult {
	raw, err := a.store.Get(ctx, cacheKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		a.log.Warn("cache probe failed", zap.String("key", cacheKey), zap.Error(err))
		return nil
	}
	var result types.AIBatchResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil || !validCachedResult(&result, ids) {
		a.log.Warn("corrupt cache entry deleted", zap.String("key", cacheKey))
		_ = a.store.Del(ctx, cacheKey)
		return nil
	}
	return &result
}

// writeCache persists the result and registers its hash in the per-user
// index so cache clearing can find it. Write failures are swallowed; the
// next call recomputes.
func (a *Analyzer) writeCache(ctx context.Context, userID, hash, cacheKey string, result *types.AIBatchResult, ttl time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		a.log.Error("marshal analysis result", zap.Error(err))
		return
	}
	if err := a.store.Set(ctx, cacheKey, string(raw), ttl); err != nil {
		a.log.Warn("cache write failed", zap.String("key", cacheKey), zap.Error(err))
		return
	}
	expiry := a.now().Add(ttl).Unix()
	idx := a.keys.UserAIQuestionIndex(userID)
	if err := a.store.ZAdd(ctx, idx, kvstore.Member{Value: hash, Score: float64(expiry)}); err != nil {
		a.log.Warn("question index update failed", zap.String("key", idx), zap.Error(err))
	}
}

func questionIDs(questions []*rules.AIQuestion) ([]string, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("analyzer: at least one question required")
	}
	if len(questions) > MaxQuestionsPerBatch {
		return nil, fmt.Errorf("analyzer: batch of %d exceeds the %d-question cap", len(questions), MaxQuestionsPerBatch)
	}
	seen := make(map[string]bool, len(questions))
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		if q == nil || q.ID == "" {
			return nil, fmt.Errorf("analyzer: question without id")
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("analyzer: duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		ids = append(ids, q.ID)
	}
	return ids, nil
}
