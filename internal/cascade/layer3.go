package cascade

import (
	"context"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/analyzer"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/evaluate"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// layer3 runs the rule engine. The second return reports that at least one
// AI-backed rule could not be evaluated because analysis failed; with no rule
// matched, that turns into a FLAG upstream.
func (e *Engine) layer3(ctx context.Context, subject *types.Subject, profile *types.UserProfile, trustScore float64, log *zap.Logger) (*types.Decision, bool) {
	ruleSet := e.loadRuleSet(log)
	enabled := ruleSet.Enabled(subject.Type)
	if len(enabled) == 0 {
		return nil, false
	}

	history := e.fetchHistory(ctx, subject, log)

	run := &ruleRun{
		engine:     e,
		subject:    subject,
		profile:    profile,
		history:    history,
		trustScore: trustScore,
		questions:  questionIndex(enabled),
		answered:   &types.AIBatchResult{},
		log:        log,
	}

	for _, rule := range enabled {
		matched, skipped := run.evaluateRule(ctx, enabled, rule)
		if skipped {
			run.unavailable = true
			continue
		}
		if !matched {
			continue
		}

		evalCtx := run.evalContext(rule)
		action := types.Action(rule.Action)
		d := &types.Decision{
			Action: action,
			Reason: evaluate.Substitute(rule.ActionConfig.Reason, evalCtx),
			Layer:  types.LayerThree,
			Metadata: map[string]string{
				"ruleId":   rule.ID,
				"ruleName": rule.Name,
			},
		}
		if rule.ActionConfig.Template != "" {
			d.Metadata["template"] = evaluate.Substitute(rule.ActionConfig.Template, evalCtx)
		}
		return d, false
	}
	return nil, run.unavailable
}

// loadRuleSet validates the configured rules JSON and falls back to the
// built-in defaults when it cannot be loaded.
func (e *Engine) loadRuleSet(log *zap.Logger) *rules.RuleSet {
	res := rules.Validate(e.settings.Layer3.RulesJSON)
	if res.Err != nil {
		log.Warn("rule set invalid, using defaults", zap.Error(res.Err))
		return rules.DefaultRuleSet(e.settings.Subreddit)
	}
	for _, w := range res.Warnings {
		log.Warn("rule set warning", zap.String("warning", w))
	}
	return res.RuleSet
}

// ruleRun carries the per-subject evaluation state: answers accumulated
// across lazy batches and whether any dispatch failed.
type ruleRun struct {
	engine      *Engine
	subject     *types.Subject
	profile     *types.UserProfile
	history     *types.PostHistory
	trustScore  float64
	questions   map[string]*rules.AIQuestion
	answered    *types.AIBatchResult
	failed      map[string]bool
	unavailable bool
	log         *zap.Logger
}

func (r *ruleRun) evalContext(rule *rules.Rule) *evaluate.Context {
	return &evaluate.Context{
		Profile:   r.profile,
		History:   r.history,
		Subject:   r.subject,
		Subreddit: r.subject.Subreddit,
		AI:        r.answered,
		Rule:      rule,
	}
}

// evaluateRule resolves the rule's AI dependencies (dispatching a batch if
// needed) and then evaluates its conditions. skipped means the rule needs
// answers that could not be obtained.
func (r *ruleRun) evaluateRule(ctx context.Context, enabled []*rules.Rule, rule *rules.Rule) (matched, skipped bool) {
	missing := r.missingQuestions(rule)
	if len(missing) > 0 {
		r.dispatch(ctx, enabled, rule, missing)
		if len(r.missingQuestions(rule)) > 0 {
			return false, true
		}
	}

	if rule.Type == rules.KindAI && rule.Conditions == nil {
		// An AI rule without explicit conditions matches on its own
		// question answering YES.
		a := r.answered.Answer(rule.AI.ID)
		return a != nil && a.Answer == "YES", false
	}
	if rule.Conditions == nil {
		return false, false
	}
	return evaluate.Evaluate(rule.Conditions, r.evalContext(rule)), false
}

// missingQuestions returns the rule's required question ids that are neither
// answered nor already known to have failed, filtered to ids that actually
// have a question definition somewhere in the rule set.
func (r *ruleRun) missingQuestions(rule *rules.Rule) []string {
	var missing []string
	for _, id := range rule.RequiredQuestionIDs() {
		if r.answered.Answer(id) != nil {
			continue
		}
		if r.questions[id] == nil {
			continue
		}
		missing = append(missing, id)
	}
	return missing
}

// dispatch issues one batched analyzer call for the current rule's missing
// questions, topped up with questions later rules will need, capped at the
// analyzer's batch limit. Failures mark the batch ids failed so the same
// questions are not re-dispatched for later rules.
func (r *ruleRun) dispatch(ctx context.Context, enabled []*rules.Rule, current *rules.Rule, missing []string) {
	batch := make([]*rules.AIQuestion, 0, analyzer.MaxQuestionsPerBatch)
	inBatch := map[string]bool{}
	add := func(id string) {
		if len(batch) >= analyzer.MaxQuestionsPerBatch || inBatch[id] || r.failed[id] {
			return
		}
		if q := r.questions[id]; q != nil {
			inBatch[id] = true
			batch = append(batch, q)
		}
	}

	for _, id := range missing {
		add(id)
	}
	// Top up with upcoming rules' questions so one call serves several rules.
	before := true
	for _, rule := range enabled {
		if rule == current {
			before = false
			continue
		}
		if before {
			continue
		}
		for _, id := range rule.RequiredQuestionIDs() {
			if r.answered.Answer(id) == nil {
				add(id)
			}
		}
	}
	if len(batch) == 0 {
		return
	}

	result, err := r.engine.analyzer.Analyze(ctx, analyzer.Input{
		UserID:     r.subject.AuthorID,
		Profile:    r.profile,
		History:    r.history,
		Subject:    r.subject,
		Subreddit:  r.subject.Subreddit,
		Questions:  batch,
		TrustScore: r.trustScore,
	})
	if err != nil {
		r.log.Warn("analyzer dispatch failed",
			zap.Int("questions", len(batch)),
			zap.Error(err))
		if r.failed == nil {
			r.failed = map[string]bool{}
		}
		for id := range inBatch {
			r.failed[id] = true
		}
		return
	}

	r.answered.Provider = result.Provider
	r.answered.Model = result.Model
	r.answered.Answers = append(r.answered.Answers, result.Answers...)
}

// questionIndex maps every defined question id in the enabled rules to its
// definition.
func questionIndex(enabled []*rules.Rule) map[string]*rules.AIQuestion {
	idx := map[string]*rules.AIQuestion{}
	for _, r := range enabled {
		if r.AI != nil && r.AI.ID != "" {
			idx[r.AI.ID] = r.AI
		}
	}
	return idx
}
