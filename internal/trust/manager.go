// Package trust maintains the community-trust ledger: per-user, per-subreddit
// approval statistics with monthly decay, scored independently for posts and
// comments so cheap comments cannot buy trust for posts.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

const (
	// MinSubmitted is the floor below which a user is never trusted.
	MinSubmitted = 3
	// TrustThreshold is the decayed approval rate required for trust.
	TrustThreshold = 70.0
	// DecayPerMonth is subtracted from the approval rate per full month of
	// inactivity.
	DecayPerMonth = 5.0

	trackingTTL = 24 * time.Hour
)

// Stats is the per-kind ledger for one (user, subreddit). Submitted always
// equals approved + flagged + removed.
type Stats struct {
	Submitted    int       `json:"submitted"`
	Approved     int       `json:"approved"`
	Flagged      int       `json:"flagged"`
	Removed      int       `json:"removed"`
	LastActivity time.Time `json:"lastActivity"`
}

// record is the JSON blob stored per (user, subreddit).
type record struct {
	Posts    Stats `json:"posts"`
	Comments Stats `json:"comments"`
}

func (r *record) stats(kind types.ContentType) *Stats {
	if kind == types.ContentComment {
		return &r.Comments
	}
	return &r.Posts
}

// Evaluation is the trust verdict for one (user, subreddit, kind).
type Evaluation struct {
	IsTrusted      bool    `json:"isTrusted"`
	Score          float64 `json:"score"` // decayed approval rate, 0..100
	Submitted      int     `json:"submitted"`
	Approved       int     `json:"approved"`
	Flagged        int     `json:"flagged"`
	Removed        int     `json:"removed"`
	MonthsInactive int     `json:"monthsInactive"`
}

// Change reports a score movement from an update.
type Change struct {
	OldScore float64 `json:"oldScore"`
	NewScore float64 `json:"newScore"`
	Delta    float64 `json:"delta"`
}

// tracking is the 24 h record that lets a later mod removal find the ledger
// entry it has to roll back.
type tracking struct {
	UserID    string            `json:"userId"`
	Subreddit string            `json:"subreddit"`
	Kind      types.ContentType `json:"kind"`
	TrackedAt time.Time         `json:"trackedAt"`
}

// Manager reads and writes the trust ledger. Writes are read-modify-write per
// (user, subreddit); under contention the last writer wins, which is
// acceptable at per-user submission rates.
type Manager struct {
	store kvstore.Store
	keys  kvstore.Keyspace
	log   *zap.Logger
	now   func() time.Time
}

// NewManager wires a trust manager over the store.
func NewManager(store kvstore.Store, keys kvstore.Keyspace) *Manager {
	return &Manager{
		store: store,
		keys:  keys,
		log:   logging.Get(logging.CategoryTrust),
		now:   time.Now,
	}
}

// GetTrust evaluates the current trust standing for one content kind.
func (m *Manager) GetTrust(ctx context.Context, userID, subreddit string, kind types.ContentType) (Evaluation, error) {
	rec, err := m.load(ctx, userID, subreddit)
	if err != nil {
		return Evaluation{}, err
	}
	return m.evaluate(rec.stats(kind)), nil
}

// Update records the outcome of one submission. APPROVE counts toward
// approval, FLAG and REMOVE against it; each counted outcome also counts as
// a submission and refreshes the activity timestamp. Other actions leave the
// ledger untouched.
func (m *Manager) Update(ctx context.Context, userID, subreddit, action string, kind types.ContentType) (Change, error) {
	rec, err := m.load(ctx, userID, subreddit)
	if err != nil {
		return Change{}, err
	}
	st := rec.stats(kind)
	old := m.evaluate(st).Score

	switch types.Action(action) {
	case types.ActionApprove:
		st.Approved++
	case types.ActionFlag:
		st.Flagged++
	case types.ActionRemove:
		st.Removed++
	default:
		return Change{OldScore: old, NewScore: old}, nil
	}
	st.Submitted++
	st.LastActivity = m.now().UTC()

	if err := m.save(ctx, userID, subreddit, rec); err != nil {
		return Change{}, err
	}
	newScore := m.evaluate(st).Score
	m.log.Debug("trust updated",
		zap.String("user", userID),
		zap.String("subreddit", subreddit),
		zap.String("kind", string(kind)),
		zap.String("action", action),
		zap.Float64("score", newScore))
	return Change{OldScore: old, NewScore: newScore, Delta: newScore - old}, nil
}

// TrackApproved remembers where an approval landed so a mod removal within
// 24 h can be reconciled against the ledger.
func (m *Manager) TrackApproved(ctx context.Context, contentID, userID, subreddit string, kind types.ContentType) error {
	t := tracking{UserID: userID, Subreddit: subreddit, Kind: kind, TrackedAt: m.now().UTC()}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tracking record: %w", err)
	}
	return m.store.Set(ctx, m.keys.TrackingContent(contentID), string(raw), trackingTTL)
}

// RetroactiveRemoval rolls back a previously-approved contribution. Returns
// nil when no tracking record exists (removal outside the 24 h window or of
// content the engine never approved).
func (m *Manager) RetroactiveRemoval(ctx context.Context, contentID string) (*Change, error) {
	key := m.keys.TrackingContent(contentID)
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t tracking
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		m.log.Warn("corrupt tracking record, dropping", zap.String("contentId", contentID), zap.Error(err))
		return nil, m.store.Del(ctx, key)
	}

	rec, err := m.load(ctx, t.UserID, t.Subreddit)
	if err != nil {
		return nil, err
	}
	st := rec.stats(t.Kind)
	old := m.evaluate(st).Score

	// Submitted stays: the contribution happened, its outcome changed.
	if st.Approved > 0 {
		st.Approved--
	}
	st.Removed++

	if err := m.save(ctx, t.UserID, t.Subreddit, rec); err != nil {
		return nil, err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return nil, err
	}
	newScore := m.evaluate(st).Score
	m.log.Info("retroactive removal reconciled",
		zap.String("contentId", contentID),
		zap.String("user", t.UserID),
		zap.Float64("oldScore", old),
		zap.Float64("newScore", newScore))
	return &Change{OldScore: old, NewScore: newScore, Delta: newScore - old}, nil
}

func (m *Manager) evaluate(st *Stats) Evaluation {
	ev := Evaluation{
		Submitted: st.Submitted,
		Approved:  st.Approved,
		Flagged:   st.Flagged,
		Removed:   st.Removed,
	}
	if st.Submitted == 0 {
		return ev
	}
	rate := float64(st.Approved) / float64(st.Submitted) * 100

	if !st.LastActivity.IsZero() {
		ev.MonthsInactive = fullMonthsBetween(st.LastActivity, m.now().UTC())
	}
	rate -= DecayPerMonth * float64(ev.MonthsInactive)
	if rate < 0 {
		rate = 0
	}
	ev.Score = rate
	ev.IsTrusted = st.Submitted >= MinSubmitted && rate >= TrustThreshold
	return ev
}

func (m *Manager) load(ctx context.Context, userID, subreddit string) (*record, error) {
	raw, err := m.store.Get(ctx, m.keys.UserTrust(userID, subreddit))
	if errors.Is(err, kvstore.ErrNotFound) {
		return &record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load trust record: %w", err)
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		m.log.Warn("corrupt trust record, starting fresh",
			zap.String("user", userID), zap.String("subreddit", subreddit), zap.Error(err))
		return &record{}, nil
	}
	return &rec, nil
}

func (m *Manager) save(ctx context.Context, userID, subreddit string, rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trust record: %w", err)
	}
	return m.store.Set(ctx, m.keys.UserTrust(userID, subreddit), string(raw), 0)
}

// fullMonthsBetween counts whole 30-day months between two instants.
func fullMonthsBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / (24 * 30))
}
