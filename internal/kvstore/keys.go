package kvstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Keyspace derives every persistent key the engine uses. The cache version
// comes from installation settings; bumping it invalidates all versioned
// caches at once without touching cost accounting (cost keys are unversioned
// so spend survives cache flushes).
type Keyspace struct {
	cacheVersion string
}

// NewKeyspace builds a keyspace for the given cache version.
func NewKeyspace(cacheVersion string) Keyspace {
	if cacheVersion == "" {
		cacheVersion = "1"
	}
	return Keyspace{cacheVersion: cacheVersion}
}

func (k Keyspace) user(userID, rest string) string {
	return fmt.Sprintf("v1:%s:user:%s:%s", k.cacheVersion, userID, rest)
}

func (k Keyspace) global(rest string) string {
	return fmt.Sprintf("v1:%s:global:%s", k.cacheVersion, rest)
}

// UserAnalysis is the legacy single-result analysis cache.
func (k Keyspace) UserAnalysis(userID string) string {
	return k.user(userID, "ai:analysis")
}

// UserAIQuestions caches one batched question result.
func (k Keyspace) UserAIQuestions(userID, questionHash string) string {
	return k.user(userID, "ai:questions:"+questionHash)
}

// UserAIQuestionIndex tracks live question hashes per user (sorted set,
// score = expiry unix time).
func (k Keyspace) UserAIQuestionIndex(userID string) string {
	return k.user(userID, "ai:questions:keys")
}

// UserTrust holds the community-trust blob for a (user, subreddit).
func (k Keyspace) UserTrust(userID, subreddit string) string {
	return k.user(userID, "trust:"+subreddit)
}

// TrackingUsers is the sorted set of users seen in a subreddit.
func (k Keyspace) TrackingUsers(subreddit string) string {
	return k.global("tracking:" + subreddit + ":users")
}

// TrackingDecisions counts applied decisions per subreddit, UTC date, and
// action, for the daily digest.
func (k Keyspace) TrackingDecisions(subreddit, date, action string) string {
	return k.global("tracking:" + subreddit + ":decisions:" + date + ":" + action)
}

// TrackingContent is the 24 h approval-tracking record for a content id.
func (k Keyspace) TrackingContent(contentID string) string {
	return k.global("tracking:content:" + contentID)
}

// ProviderHealth caches a provider health-check outcome.
func (k Keyspace) ProviderHealth(name string) string {
	return "provider:health:" + name
}

// CoalesceLock is the short-lived per-key coalescer lock.
func (k Keyspace) CoalesceLock(key string) string {
	return "coalesce:" + key
}

// PromptMetrics is the per-prompt-version quality counter hash prefix.
func (k Keyspace) PromptMetrics(version string) string {
	return fmt.Sprintf("prompt:%s:metrics", version)
}

// Cost keys use UTC dates and are intentionally unversioned.

func (k Keyspace) CostDaily(date string) string { return "cost:daily:" + date }

func (k Keyspace) CostDailyProvider(date, provider string) string {
	return "cost:daily:" + date + ":" + provider
}

func (k Keyspace) CostMonthly(month string) string { return "cost:monthly:" + month }

func (k Keyspace) CostArchive(date string) string { return "cost:archive:" + date }

func (k Keyspace) CostRecord(ts time.Time, userID string) string {
	return fmt.Sprintf("cost:record:%d:%s", ts.UnixMilli(), userID)
}

func (k Keyspace) CostAlert(date, level string) string {
	return "cost:alert:" + date + ":" + level
}

// QuestionHash derives the cache hash for a question-id set: md5 of the
// sorted, comma-joined ids, truncated to 16 hex chars. Order-insensitive by
// construction.
func QuestionHash(questionIDs []string) string {
	ids := make([]string, len(questionIDs))
	copy(ids, questionIDs)
	sort.Strings(ids)
	sum := md5.Sum([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// ClearUserCache deletes every live batched-question cache entry for a user,
// walking the question-hash index, plus the legacy analysis cache.
func ClearUserCache(ctx context.Context, s Store, k Keyspace, userID string) error {
	idx := k.UserAIQuestionIndex(userID)
	hashes, err := s.ZRangeByScore(ctx, idx, math.Inf(-1), math.Inf(1))
	if err != nil {
		return fmt.Errorf("list question hashes for %s: %w", userID, err)
	}
	keys := make([]string, 0, len(hashes)+2)
	for _, h := range hashes {
		keys = append(keys, k.UserAIQuestions(userID, h))
	}
	keys = append(keys, idx, k.UserAnalysis(userID))
	return s.Del(ctx, keys...)
}

// ClearSubredditTracking drops the seen-user sorted set for a subreddit.
func ClearSubredditTracking(ctx context.Context, s Store, k Keyspace, subreddit string) error {
	return s.Del(ctx, k.TrackingUsers(subreddit))
}
