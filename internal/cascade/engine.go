// Package cascade is the top-level moderation pipeline: whitelist check,
// account heuristics, external classifier, and the rule engine with its LLM
// analyzer, applied in fixed order with early exit.
package cascade

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/analyzer"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/moderation"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/settings"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/trust"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// ProfileFetcher loads the author's account snapshot from the host.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (*types.UserProfile, error)
}

// HistoryFetcher loads the author's recent activity from the host.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, userID string) (*types.PostHistory, error)
}

// BatchAnalyzer is the expensive path. *analyzer.Analyzer satisfies it.
type BatchAnalyzer interface {
	Analyze(ctx context.Context, in analyzer.Input) (*types.AIBatchResult, error)
}

// TrustReader is the part of the trust manager the cascade consults.
type TrustReader interface {
	GetTrust(ctx context.Context, userID, subreddit string, kind types.ContentType) (trust.Evaluation, error)
}

// Engine runs the cascade. All collaborators are injected; nil classifier or
// analyzer simply disables the corresponding layer.
type Engine struct {
	settings   *settings.Settings
	store      kvstore.Store
	keys       kvstore.Keyspace
	trust      TrustReader
	analyzer   BatchAnalyzer
	classifier moderation.Classifier
	profiles   ProfileFetcher
	histories  HistoryFetcher
	log        *zap.Logger
	now        func() time.Time
}

// New wires a cascade engine.
func New(st *settings.Settings, store kvstore.Store, keys kvstore.Keyspace, tr TrustReader, an BatchAnalyzer, cl moderation.Classifier, pf ProfileFetcher, hf HistoryFetcher) *Engine {
	return &Engine{
		settings:   st,
		store:      store,
		keys:       keys,
		trust:      tr,
		analyzer:   an,
		classifier: cl,
		profiles:   pf,
		histories:  hf,
		log:        logging.Get(logging.CategoryCascade),
		now:        time.Now,
	}
}

// Evaluate runs the full cascade for one subject. It always returns a
// decision; layer failures are logged and treated as no-match.
func (e *Engine) Evaluate(ctx context.Context, subject *types.Subject) *types.Decision {
	d := e.run(ctx, subject)
	if e.settings.DryRun.Enabled {
		if d.Metadata == nil {
			d.Metadata = map[string]string{}
		}
		d.Metadata["dryRun"] = "true"
	}
	return d
}

func (e *Engine) run(ctx context.Context, subject *types.Subject) *types.Decision {
	log := e.log.With(
		zap.String("contentId", subject.ID),
		zap.String("author", subject.AuthorName),
		zap.String("type", string(subject.Type)))

	if e.settings.IsWhitelisted(subject.AuthorName) {
		log.Info("whitelisted author approved")
		return &types.Decision{
			Action: types.ActionApprove,
			Reason: "Author is whitelisted",
			Layer:  types.LayerWhitelist,
		}
	}

	profile := e.fetchProfile(ctx, subject, log)
	e.trackSeenUser(ctx, subject)

	trustEval := e.trustStanding(ctx, subject, log)

	if d := e.layer1(profile); d != nil {
		log.Info("layer 1 decision", zap.String("action", string(d.Action)))
		return d
	}
	if d := e.layer2(ctx, subject, log); d != nil {
		log.Info("layer 2 decision", zap.String("action", string(d.Action)))
		return d
	}

	if trustEval.IsTrusted {
		log.Info("layer 3 bypassed for trusted author", zap.Float64("trustScore", trustEval.Score))
	} else if e.settings.Layer3.Enabled {
		d, unavailable := e.layer3(ctx, subject, profile, trustEval.Score, log)
		if d != nil {
			log.Info("layer 3 decision", zap.String("action", string(d.Action)))
			return d
		}
		if unavailable {
			log.Warn("layer 3 analysis unavailable, flagging")
			return &types.Decision{
				Action: types.ActionFlag,
				Reason: "analysis unavailable",
				Layer:  types.LayerThree,
			}
		}
	}

	return &types.Decision{
		Action: types.ActionApprove,
		Reason: "No layer matched",
		Layer:  types.LayerNone,
	}
}

// CountApplied bumps the per-day action counter the daily digest reads. The
// caller invokes it once the decision has actually been carried out, so
// failed applications and dry runs never inflate the counts. Best effort.
func (e *Engine) CountApplied(ctx context.Context, subject *types.Subject, d *types.Decision) {
	if d.Metadata["dryRun"] == "true" {
		return
	}
	date := e.now().UTC().Format("2006-01-02")
	key := e.keys.TrackingDecisions(subject.Subreddit, date, string(d.Action))
	if _, err := e.store.IncrBy(ctx, key, 1); err != nil {
		e.log.Warn("decision counting failed", zap.String("key", key), zap.Error(err))
		return
	}
	// Counters only matter for the digest window.
	if err := e.store.Expire(ctx, key, 8*24*time.Hour); err != nil {
		e.log.Warn("decision counter expiry failed", zap.String("key", key), zap.Error(err))
	}
}

// layer1 applies the account heuristics. A nil profile passes: the fetch
// already failed and a missing profile must not punish the author.
func (e *Engine) layer1(profile *types.UserProfile) *types.Decision {
	cfg := e.settings.Layer1
	if !cfg.Enabled || profile == nil {
		return nil
	}

	var reason string
	switch {
	case cfg.AccountAgeDays > 0 && profile.AccountAgeInDays < cfg.AccountAgeDays:
		reason = cfg.Message
		if reason == "" {
			reason = "Account too new"
		}
	case profile.TotalKarma < cfg.KarmaThreshold:
		reason = cfg.Message
		if reason == "" {
			reason = "Account karma below threshold"
		}
	default:
		return nil
	}

	action := types.Action(cfg.Action)
	if !types.ValidAction(cfg.Action) {
		action = types.ActionFlag
	}
	return &types.Decision{Action: action, Reason: reason, Layer: types.LayerOne}
}

// layer2 calls the external classifier. Any error is treated as no-match.
func (e *Engine) layer2(ctx context.Context, subject *types.Subject, log *zap.Logger) *types.Decision {
	cfg := e.settings.Layer2
	if !cfg.Enabled || e.classifier == nil {
		return nil
	}

	text := strings.TrimSpace(subject.Title + "\n" + subject.Body)
	scores, err := e.classifier.Classify(ctx, text)
	if err != nil {
		log.Warn("moderation classifier failed, layer skipped", zap.Error(err))
		return nil
	}

	var hitCategory string
	var hitScore float64
	for _, cat := range e.enabledCategories(scores) {
		if s := scores[cat]; s >= cfg.Threshold && s > hitScore {
			hitCategory, hitScore = cat, s
		}
	}
	if hitCategory == "" {
		return nil
	}

	action := types.Action(cfg.Action)
	if !types.ValidAction(cfg.Action) {
		action = types.ActionRemove
	}
	// This category is never negotiable.
	if hitCategory == moderation.CategorySexualMinors {
		action = types.ActionRemove
	}

	reason := cfg.Message
	if reason == "" {
		reason = "Content flagged by moderation classifier"
	}
	return &types.Decision{
		Action: action,
		Reason: reason,
		Layer:  types.LayerTwo,
		Metadata: map[string]string{
			"category": hitCategory,
		},
	}
}

// enabledCategories is the configured list, or every scored category when
// the list is empty.
func (e *Engine) enabledCategories(scores moderation.Scores) []string {
	if len(e.settings.Layer2.Categories) > 0 {
		return e.settings.Layer2.Categories
	}
	cats := make([]string, 0, len(scores))
	for cat := range scores {
		cats = append(cats, cat)
	}
	return cats
}

func (e *Engine) fetchProfile(ctx context.Context, subject *types.Subject, log *zap.Logger) *types.UserProfile {
	if e.profiles == nil {
		return nil
	}
	profile, err := e.profiles.FetchProfile(ctx, subject.AuthorID)
	if err != nil {
		log.Warn("profile fetch failed", zap.Error(err))
		return nil
	}
	return profile
}

func (e *Engine) fetchHistory(ctx context.Context, subject *types.Subject, log *zap.Logger) *types.PostHistory {
	if e.histories == nil {
		return nil
	}
	history, err := e.histories.FetchHistory(ctx, subject.AuthorID)
	if err != nil {
		log.Warn("history fetch failed", zap.Error(err))
		return nil
	}
	return history.Truncate()
}

func (e *Engine) trustStanding(ctx context.Context, subject *types.Subject, log *zap.Logger) trust.Evaluation {
	if e.trust == nil {
		return trust.Evaluation{}
	}
	ev, err := e.trust.GetTrust(ctx, subject.AuthorID, subject.Subreddit, subject.Type)
	if err != nil {
		log.Warn("trust lookup failed", zap.Error(err))
		return trust.Evaluation{}
	}
	return ev
}

// trackSeenUser records the author in the per-subreddit sorted set. Best
// effort.
func (e *Engine) trackSeenUser(ctx context.Context, subject *types.Subject) {
	key := e.keys.TrackingUsers(subject.Subreddit)
	err := e.store.ZAdd(ctx, key, kvstore.Member{
		Value: subject.AuthorID,
		Score: float64(e.now().Unix()),
	})
	if err != nil {
		e.log.Warn("seen-user tracking failed", zap.String("key", key), zap.Error(err))
	}
}
