package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/cost"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/settings"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// Router delivers notifications according to the installation's settings:
// modmail for recipient "all", individual PMs for "specific". It implements
// cost.Notifier for budget alerts.
type Router struct {
	settings *settings.Settings
	sink     NotificationSink
	log      *zap.Logger
}

// NewRouter wires a notification router.
func NewRouter(st *settings.Settings, sink NotificationSink) *Router {
	return &Router{
		settings: st,
		sink:     sink,
		log:      logging.Get(logging.CategoryPlatform),
	}
}

// deliver fans a message out per the recipient configuration. Partial PM
// failures are logged and the first error returned.
func (r *Router) deliver(ctx context.Context, subject, body string) error {
	cfg := r.settings.Notifications
	if cfg.Recipient == "specific" && len(cfg.Usernames) > 0 {
		var firstErr error
		for _, user := range cfg.Usernames {
			if err := r.sink.SendPM(ctx, user, subject, body); err != nil {
				r.log.Warn("pm delivery failed", zap.String("user", user), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}
	return r.sink.SendModmail(ctx, r.settings.Subreddit, subject, body)
}

// Realtime notifies moderators of a non-approve decision, when enabled.
func (r *Router) Realtime(ctx context.Context, subject *types.Subject, d *types.Decision) {
	if !r.settings.Notifications.RealtimeEnabled {
		return
	}
	if d.Action == types.ActionApprove || d.Metadata["dryRun"] == "true" {
		return
	}

	title := fmt.Sprintf("[automod] %s: %s by u/%s", d.Action, subject.Type, subject.AuthorName)
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\n", d.Action)
	fmt.Fprintf(&b, "Layer: %s\n", d.Layer)
	fmt.Fprintf(&b, "Content: %s\n", subject.ID)
	fmt.Fprintf(&b, "Author: u/%s\n", subject.AuthorName)
	fmt.Fprintf(&b, "Reason: %s\n", d.Reason)
	if rule := d.Metadata["ruleName"]; rule != "" {
		fmt.Fprintf(&b, "Rule: %s\n", rule)
	}
	if err := r.deliver(ctx, title, b.String()); err != nil {
		r.log.Warn("realtime notification failed", zap.Error(err))
	}
}

// NotifyBudget implements cost.Notifier.
func (r *Router) NotifyBudget(ctx context.Context, level string, status cost.BudgetStatus) error {
	if !r.settings.Layer3.BudgetAlertsEnabled {
		return nil
	}
	title := fmt.Sprintf("[automod] budget alert: %s", level)
	body := fmt.Sprintf(
		"Daily AI spend is $%.2f of the $%.2f limit (%.0f%%).\nMonthly spend: $%.2f of $%.2f.\n",
		status.DailySpentUSD, status.DailyLimitUSD, status.PercentUsed,
		status.MonthlySpentUSD, status.MonthlyLimitUSD)
	if level == cost.AlertExceeded {
		body += "AI analysis is paused until the daily budget resets.\n"
	}
	return r.deliver(ctx, title, body)
}

// Welcome is sent once at installation.
func (r *Router) Welcome(ctx context.Context, subreddit string) error {
	body := "The moderation assistant is installed. All layers start disabled; " +
		"enable them from the app settings when you are ready. Dry-run mode " +
		"lets you preview decisions without acting on content.\n"
	return r.sink.SendModmail(ctx, subreddit, "[automod] installed", body)
}

// Digest is the daily summary job. Wire it to the host scheduler at the
// configured digest time.
type Digest struct {
	settings *settings.Settings
	tracker  *cost.Tracker
	store    kvstore.Store
	keys     kvstore.Keyspace
	router   *Router
	log      *zap.Logger
	now      func() time.Time
}

// NewDigest wires the digest job.
func NewDigest(st *settings.Settings, tracker *cost.Tracker, store kvstore.Store, keys kvstore.Keyspace, router *Router) *Digest {
	return &Digest{
		settings: st,
		tracker:  tracker,
		store:    store,
		keys:     keys,
		router:   router,
		log:      logging.Get(logging.CategoryPlatform),
		now:      time.Now,
	}
}

// Run archives yesterday's counters and, when enabled, mails the digest.
func (d *Digest) Run(ctx context.Context) error {
	if err := d.tracker.ResetDaily(ctx); err != nil {
		d.log.Warn("daily counter rollover failed", zap.Error(err))
	}
	if !d.settings.Notifications.DailyDigestEnabled {
		return nil
	}

	report, err := d.tracker.Report(ctx, 7)
	if err != nil {
		return fmt.Errorf("build digest report: %w", err)
	}
	status, err := d.tracker.Status(ctx)
	if err != nil {
		return fmt.Errorf("read budget status: %w", err)
	}
	body := formatDigest(report, status) + d.decisionSummary(ctx)
	return d.router.deliver(ctx, "[automod] daily digest", body)
}

// decisionSummary reads yesterday's per-action counters. Empty when nothing
// was decided or the store is unreachable.
func (d *Digest) decisionSummary(ctx context.Context) string {
	date := d.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	var b strings.Builder
	for _, action := range []types.Action{
		types.ActionApprove, types.ActionFlag, types.ActionRemove, types.ActionComment,
	} {
		key := d.keys.TrackingDecisions(d.settings.Subreddit, date, string(action))
		n, err := kvstore.GetInt(ctx, d.store, key)
		if err != nil {
			d.log.Warn("decision counter read failed", zap.String("key", key), zap.Error(err))
			return ""
		}
		if n > 0 {
			fmt.Fprintf(&b, "%s %d  ", action, n)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "\nDecisions yesterday: " + strings.TrimSpace(b.String()) + "\n"
}

func formatDigest(report cost.SpendingReport, status cost.BudgetStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AI spend over the last %d days: $%.2f\n\n", len(report.Days), report.TotalUSD)
	for _, day := range report.Days {
		fmt.Fprintf(&b, "%s  $%.2f", day.Date, day.TotalUSD)
		if len(day.ByProvider) > 0 {
			providers := make([]string, 0, len(day.ByProvider))
			for p := range day.ByProvider {
				providers = append(providers, p)
			}
			sort.Strings(providers)
			parts := make([]string, 0, len(providers))
			for _, p := range providers {
				parts = append(parts, fmt.Sprintf("%s $%.2f", p, day.ByProvider[p]))
			}
			fmt.Fprintf(&b, "  (%s)", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nToday so far: $%.2f of $%.2f daily budget.\n",
		status.DailySpentUSD, status.DailyLimitUSD)
	return b.String()
}
