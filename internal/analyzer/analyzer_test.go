package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/coalesce"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/cost"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/provider"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

type scriptedProvider struct {
	name    string
	respond func() (string, error)
	calls   atomic.Int64
}

func (p *scriptedProvider) Type() string  { return p.name }
func (p *scriptedProvider) Model() string { return p.name + "-model" }

func (p *scriptedProvider) AnalyzeWithQuestions(context.Context, provider.Request) (*provider.Response, error) {
	p.calls.Add(1)
	text, err := p.respond()
	if err != nil {
		return nil, err
	}
	return &provider.Response{
		Text:         text,
		Model:        p.Model(),
		InputTokens:  1000,
		OutputTokens: 100,
		Latency:      50 * time.Millisecond,
	}, nil
}

func (p *scriptedProvider) HealthCheck(context.Context) error { return nil }

func (p *scriptedProvider) CalculateCost(in, out int) float64 {
	return 0.05 // fixed for predictable accounting in tests
}

func goodAnswer(id string) string {
	return fmt.Sprintf(`{"answers":[{"questionId":%q,"answer":"YES","confidence":85,"reasoning":"explicit"}]}`, id)
}

type harness struct {
	analyzer *Analyzer
	store    kvstore.Store
	keys     kvstore.Keyspace
	primary  *scriptedProvider
	fallback *scriptedProvider
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T, dailyLimitUSD float64) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := kvstore.NewRedisStoreFromClient(client)
	keys := kvstore.NewKeyspace("1")

	h := &harness{
		store:    store,
		keys:     keys,
		primary:  &scriptedProvider{name: provider.TypeOpenAI, respond: func() (string, error) { return goodAnswer("dating_intent"), nil }},
		fallback: &scriptedProvider{name: provider.TypeGemini, respond: func() (string, error) { return goodAnswer("dating_intent"), nil }},
		mr:       mr,
	}
	sel := provider.NewSelector(store, keys, provider.SelectorConfig{
		Primary:  provider.TypeOpenAI,
		Fallback: provider.TypeGemini,
		APIKeys:  map[string]string{provider.TypeOpenAI: "sk", provider.TypeGemini: "g"},
	}, func(_ context.Context, name, _ string) (provider.Provider, error) {
		if name == provider.TypeOpenAI {
			return h.primary, nil
		}
		return h.fallback, nil
	})
	co := coalesce.New(store, keys)
	co.Attempts = 3
	co.PollInterval = 5 * time.Millisecond
	tracker := cost.NewTracker(store, keys, cost.Config{DailyLimitUSD: dailyLimitUSD}, nil)
	h.analyzer = New(store, keys, tracker, sel, co, nil)
	return h
}

func oneQuestion() []*rules.AIQuestion {
	return []*rules.AIQuestion{{ID: "dating_intent", Question: "Is the user seeking a date?"}}
}

func baseInput() Input {
	return Input{
		UserID:     "t2_u1",
		Profile:    &types.UserProfile{Username: "alice"},
		Subject:    &types.Subject{Type: types.ContentPost, Body: "hi"},
		Subreddit:  "sub",
		Questions:  oneQuestion(),
		TrustScore: 50,
	}
}

func TestAnalyze_HappyPath(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	res, err := h.analyzer.Analyze(ctx, baseInput())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, provider.TypeOpenAI, res.Provider)
	assert.Equal(t, "YES", res.Answer("dating_intent").Answer)
	assert.Equal(t, int64(1), h.primary.calls.Load())

	// Medium trust (50) selects the 24 h TTL.
	assert.Equal(t, int64((24*time.Hour).Seconds()), res.CacheTTL)

	// Cost was booked: $0.05 = 5 cents.
	today := time.Now().UTC().Format("2006-01-02")
	daily, err := kvstore.GetInt(ctx, h.store, "cost:daily:"+today)
	require.NoError(t, err)
	assert.Equal(t, int64(5), daily)

	// The stored record carries the call's correlation id.
	var recordKeys []string
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, "cost:record:") {
			recordKeys = append(recordKeys, k)
		}
	}
	require.Len(t, recordKeys, 1)
	raw, err := h.store.Get(ctx, recordKeys[0])
	require.NoError(t, err)
	var rec cost.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "t2_u1", rec.UserID)
	assert.False(t, rec.Cached)
}

func TestAnalyze_CacheHit(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	// Pre-seed the cache the way S-series fixtures do.
	seeded := &types.AIBatchResult{
		UserID:   "t2_u1",
		Provider: provider.TypeOpenAI,
		Answers:  []types.AIAnswer{{QuestionID: "dating_intent", Answer: "YES", Confidence: 85}},
	}
	raw, err := json.Marshal(seeded)
	require.NoError(t, err)
	hash := kvstore.QuestionHash([]string{"dating_intent"})
	require.NoError(t, h.store.Set(ctx, h.keys.UserAIQuestions("t2_u1", hash), string(raw), time.Hour))

	res, err := h.analyzer.Analyze(ctx, baseInput())
	require.NoError(t, err)
	assert.Equal(t, "YES", res.Answer("dating_intent").Answer)
	assert.Zero(t, h.primary.calls.Load(), "cache hit must not call a provider")

	today := time.Now().UTC().Format("2006-01-02")
	daily, err := kvstore.GetInt(ctx, h.store, "cost:daily:"+today)
	require.NoError(t, err)
	assert.Zero(t, daily, "cache hit must not spend budget")
}

func TestAnalyze_CachedSecondCall(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	_, err := h.analyzer.Analyze(ctx, baseInput())
	require.NoError(t, err)
	_, err = h.analyzer.Analyze(ctx, baseInput())
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.primary.calls.Load(), "second call must be served from cache")
}

func TestAnalyze_CorruptCacheIsMiss(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	hash := kvstore.QuestionHash([]string{"dating_intent"})
	key := h.keys.UserAIQuestions("t2_u1", hash)
	require.NoError(t, h.store.Set(ctx, key, `{"answers":[{"questionId":"wrong_q"`, time.Hour))

	res, err := h.analyzer.Analyze(ctx, baseInput())
	require.NoError(t, err)
	assert.Equal(t, "YES", res.Answer("dating_intent").Answer)
	assert.Equal(t, int64(1), h.primary.calls.Load(), "corrupt entry must be recomputed")
}

func TestAnalyze_IncompleteCachedResultIsMiss(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	// Valid JSON, but missing the required answer.
	hash := kvstore.QuestionHash([]string{"dating_intent"})
	key := h.keys.UserAIQuestions("t2_u1", hash)
	require.NoError(t, h.store.Set(ctx, key, `{"answers":[{"questionId":"other","answer":"YES","confidence":5}]}`, time.Hour))

	_, err := h.analyzer.Analyze(ctx, baseInput())
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.primary.calls.Load())
}

func TestAnalyze_BudgetGate(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	today := time.Now().UTC().Format("2006-01-02")

	// 490 of 500 cents spent: the one-question estimate of $0.05 crosses the
	// reserve line.
	_, err := h.store.IncrBy(ctx, "cost:daily:"+today, 490)
	require.NoError(t, err)

	_, err = h.analyzer.Analyze(ctx, baseInput())
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Zero(t, h.primary.calls.Load())

	daily, err := kvstore.GetInt(ctx, h.store, "cost:daily:"+today)
	require.NoError(t, err)
	assert.Equal(t, int64(490), daily, "counters unchanged")
}

func TestAnalyze_FailoverToFallback(t *testing.T) {
	h := newHarness(t, 5)
	h.primary.respond = func() (string, error) { return "", errors.New("boom") }

	res, err := h.analyzer.Analyze(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, provider.TypeGemini, res.Provider)
	assert.Equal(t, int64(1), h.fallback.calls.Load())
}

func TestAnalyze_InvalidResponseTriggersFailover(t *testing.T) {
	h := newHarness(t, 5)
	h.primary.respond = func() (string, error) { return `{"answers":[{"questionId":"dating_intent","answer":"MAYBE","confidence":50}]}`, nil }

	res, err := h.analyzer.Analyze(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, provider.TypeGemini, res.Provider)
}

func TestAnalyze_AllProvidersDown(t *testing.T) {
	h := newHarness(t, 5)
	h.primary.respond = func() (string, error) { return "", errors.New("boom") }
	h.fallback.respond = func() (string, error) { return "", errors.New("boom") }

	_, err := h.analyzer.Analyze(context.Background(), baseInput())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestAnalyze_Coalescing(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*types.AIBatchResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.analyzer.Analyze(ctx, baseInput())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), h.primary.calls.Load(), "exactly one provider call")
	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "YES", results[i].Answer("dating_intent").Answer)
	}

	today := time.Now().UTC().Format("2006-01-02")
	daily, err := kvstore.GetInt(ctx, h.store, "cost:daily:"+today)
	require.NoError(t, err)
	assert.Equal(t, int64(5), daily, "spend reflects exactly one call")
}

func TestAnalyze_QuestionValidation(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	_, err := h.analyzer.Analyze(ctx, Input{UserID: "u", Subreddit: "s"})
	assert.Error(t, err, "no questions")

	in := baseInput()
	in.Questions = append(in.Questions, &rules.AIQuestion{ID: "dating_intent", Question: "dup"})
	_, err = h.analyzer.Analyze(ctx, in)
	assert.Error(t, err, "duplicate ids")

	in = baseInput()
	in.Questions = nil
	for i := 0; i < MaxQuestionsPerBatch+1; i++ {
		in.Questions = append(in.Questions, &rules.AIQuestion{ID: fmt.Sprintf("q%d", i), Question: "x"})
	}
	_, err = h.analyzer.Analyze(ctx, in)
	assert.Error(t, err, "over the cap")
}

func TestAnalyze_IndexUpdated(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	_, err := h.analyzer.Analyze(ctx, baseInput())
	require.NoError(t, err)

	hashes, err := h.store.ZRangeByScore(ctx, h.keys.UserAIQuestionIndex("t2_u1"), 0, float64(time.Now().Add(100*24*time.Hour).Unix()))
	require.NoError(t, err)
	assert.Equal(t, []string{kvstore.QuestionHash([]string{"dating_intent"})}, hashes)
}

func TestParseResponse(t *testing.T) {
	ids := []string{"q1"}

	t.Run("valid", func(t *testing.T) {
		answers, err := ParseResponse(goodAnswer("q1"), ids)
		require.NoError(t, err)
		assert.Equal(t, "YES", answers[0].Answer)
	})

	t.Run("fenced JSON accepted", func(t *testing.T) {
		_, err := ParseResponse("```json\n"+goodAnswer("q1")+"\n```", ids)
		assert.NoError(t, err)
	})

	t.Run("lowercase answer normalized", func(t *testing.T) {
		answers, err := ParseResponse(`{"answers":[{"questionId":"q1","answer":"yes","confidence":70}]}`, ids)
		require.NoError(t, err)
		assert.Equal(t, "YES", answers[0].Answer)
	})

	bad := []struct {
		name string
		text string
	}{
		{"not json", "the user seems fine"},
		{"bad answer value", `{"answers":[{"questionId":"q1","answer":"MAYBE","confidence":50}]}`},
		{"confidence out of range", `{"answers":[{"questionId":"q1","answer":"YES","confidence":150}]}`},
		{"unknown id", `{"answers":[{"questionId":"zz","answer":"YES","confidence":50}]}`},
		{"missing answer", `{"answers":[]}`},
		{"duplicate answers", `{"answers":[{"questionId":"q1","answer":"YES","confidence":50},{"questionId":"q1","answer":"NO","confidence":50}]}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.text, ids)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestCacheTTL(t *testing.T) {
	assert.Equal(t, TTLKnownBad, CacheTTL(90, true))
	assert.Equal(t, TTLHighTrust, CacheTTL(60, false))
	assert.Equal(t, TTLMediumTrust, CacheTTL(40, false))
	assert.Equal(t, TTLMediumTrust, CacheTTL(59.9, false))
	assert.Equal(t, TTLLowTrust, CacheTTL(39.9, false))
	assert.Equal(t, TTLLowTrust, CacheTTL(0, false))
}
