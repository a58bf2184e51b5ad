package platform

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/cascade"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/prompt"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/settings"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/trust"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// Handler reacts to host triggers: it runs the cascade on new content,
// applies the decision, and keeps the trust ledger in sync with moderator
// overrides.
type Handler struct {
	settings *settings.Settings
	engine   *cascade.Engine
	trust    *trust.Manager
	effector Effector
	notify   *Router
	metrics  *prompt.Metrics
	log      *zap.Logger
}

// NewHandler wires a trigger handler. metrics may be nil when prompt-quality
// feedback is not wanted.
func NewHandler(st *settings.Settings, engine *cascade.Engine, tr *trust.Manager, eff Effector, notify *Router, metrics *prompt.Metrics) *Handler {
	return &Handler{
		settings: st,
		engine:   engine,
		trust:    tr,
		effector: eff,
		notify:   notify,
		metrics:  metrics,
		log:      logging.Get(logging.CategoryPlatform),
	}
}

// OnPostSubmit handles a new submission.
func (h *Handler) OnPostSubmit(ctx context.Context, ev PostEvent) (*types.Decision, error) {
	return h.handleSubject(ctx, ev.subject())
}

// OnCommentSubmit handles a new comment.
func (h *Handler) OnCommentSubmit(ctx context.Context, ev CommentEvent) (*types.Decision, error) {
	return h.handleSubject(ctx, ev.subject())
}

func (h *Handler) handleSubject(ctx context.Context, subject *types.Subject) (*types.Decision, error) {
	d := h.engine.Evaluate(ctx, subject)

	if err := h.apply(ctx, subject, d); err != nil {
		h.log.Error("decision application failed",
			zap.String("contentId", subject.ID),
			zap.String("action", string(d.Action)),
			zap.Error(err))
		return d, err
	}

	h.engine.CountApplied(ctx, subject, d)
	h.updateTrust(ctx, subject, d)
	h.notify.Realtime(ctx, subject, d)
	return d, nil
}

// apply carries the decision out. In dry-run mode nothing touches the
// platform; the decision is only logged.
func (h *Handler) apply(ctx context.Context, subject *types.Subject, d *types.Decision) error {
	if d.Metadata["dryRun"] == "true" {
		h.log.Info("dry run, decision not applied",
			zap.String("contentId", subject.ID),
			zap.String("action", string(d.Action)),
			zap.String("layer", string(d.Layer)),
			zap.String("reason", d.Reason))
		return nil
	}

	switch d.Action {
	case types.ActionApprove:
		return h.effector.Approve(ctx, subject.ID)
	case types.ActionFlag:
		return h.effector.Flag(ctx, subject.ID, d.Reason)
	case types.ActionRemove:
		if err := h.effector.Remove(ctx, subject.ID); err != nil {
			return err
		}
		if body := h.removalComment(d); body != "" {
			if err := h.effector.Comment(ctx, subject.ID, body); err != nil {
				h.log.Warn("removal comment failed", zap.Error(err))
			}
		}
		return nil
	case types.ActionComment:
		body := d.Metadata["template"]
		if body == "" {
			body = h.settings.Templates.CommentTemplate
		}
		if body == "" {
			body = d.Reason
		}
		return h.effector.Comment(ctx, subject.ID, body)
	}
	return nil
}

// removalComment picks the reply left under removed content, preferring the
// rule's own template over the installation-wide one.
func (h *Handler) removalComment(d *types.Decision) string {
	if t := d.Metadata["template"]; t != "" {
		return t
	}
	return strings.TrimSpace(h.settings.Templates.RemoveTemplate)
}

// updateTrust records the decision in the trust ledger. Whitelisted authors
// bypass the cascade entirely, so their content carries no signal. Failures
// never block the decision.
func (h *Handler) updateTrust(ctx context.Context, subject *types.Subject, d *types.Decision) {
	if h.trust == nil || d.Layer == types.LayerWhitelist || d.Metadata["dryRun"] == "true" {
		return
	}

	switch d.Action {
	case types.ActionApprove, types.ActionFlag, types.ActionRemove:
	default:
		return
	}

	change, err := h.trust.Update(ctx, subject.AuthorID, subject.Subreddit, string(d.Action), subject.Type)
	if err != nil {
		h.log.Warn("trust update failed", zap.Error(err))
		return
	}
	if d.Action == types.ActionApprove {
		if err := h.trust.TrackApproved(ctx, subject.ID, subject.AuthorID, subject.Subreddit, subject.Type); err != nil {
			h.log.Warn("approval tracking failed", zap.Error(err))
		}
	}
	h.log.Debug("trust updated",
		zap.String("user", subject.AuthorID),
		zap.Float64("score", change.NewScore),
		zap.Float64("delta", change.Delta))
}

// OnModAction reconciles the trust ledger with moderator overrides: a human
// removing content the cascade approved takes the approval back, and a human
// approval counts toward the author's standing.
func (h *Handler) OnModAction(ctx context.Context, ev ModActionEvent) error {
	if ev.Moderator != "" && ev.Moderator == h.settings.BotUsername {
		// Our own actions are already accounted at decision time.
		return nil
	}

	switch ev.Action {
	case "removelink", "removecomment", "spamlink", "spamcomment":
		return h.reconcileRemoval(ctx, ev)
	case "approvelink", "approvecomment":
		return h.reconcileApproval(ctx, ev)
	}
	return nil
}

func (h *Handler) reconcileRemoval(ctx context.Context, ev ModActionEvent) error {
	change, err := h.trust.RetroactiveRemoval(ctx, ev.TargetID)
	if err != nil {
		h.log.Warn("retroactive removal failed",
			zap.String("targetId", ev.TargetID),
			zap.Error(err))
		return err
	}
	if change == nil {
		// Content we never approved, or the tracking window expired.
		return nil
	}
	// We approved it, a human removed it: the analysis missed.
	if h.metrics != nil {
		h.metrics.RecordOutcome(ctx, prompt.Version, prompt.MetricFalseNegative)
	}
	h.log.Info("trust adjusted after moderator removal",
		zap.String("targetId", ev.TargetID),
		zap.String("moderator", ev.Moderator),
		zap.Float64("score", change.NewScore))
	return nil
}

func (h *Handler) reconcileApproval(ctx context.Context, ev ModActionEvent) error {
	if ev.TargetAuthorID == "" || ev.Subreddit == "" {
		return nil
	}
	kind := types.ContentPost
	if ev.Action == "approvecomment" {
		kind = types.ContentComment
	}
	if _, err := h.trust.Update(ctx, ev.TargetAuthorID, ev.Subreddit, string(types.ActionApprove), kind); err != nil {
		h.log.Warn("trust update for moderator approval failed", zap.Error(err))
		return err
	}
	if err := h.trust.TrackApproved(ctx, ev.TargetID, ev.TargetAuthorID, ev.Subreddit, kind); err != nil {
		h.log.Warn("approval tracking failed", zap.Error(err))
	}
	return nil
}

// OnAppInstall greets the moderators of a fresh installation.
func (h *Handler) OnAppInstall(ctx context.Context, subreddit string) error {
	h.log.Info("installed", zap.String("subreddit", subreddit))
	return h.notify.Welcome(ctx, subreddit)
}
