// Package rules defines the moderator-authored rule model and the schema
// validator that normalizes raw rule-set JSON into a canonical form the
// cascade can evaluate.
package rules

import (
	"strings"
	"time"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// Rule kinds.
const (
	KindHard = "HARD"
	KindAI   = "AI"
)

// Normalized contentType values. "post" and "all" are accepted on input and
// aliased during normalization.
const (
	ContentSubmission = "submission"
	ContentComment    = "comment"
	ContentAny        = "any"
)

// Condition is one node of a boolean condition tree: either a leaf
// (field/operator/value) or a composite (logicalOperator/rules).
type Condition struct {
	Field           string       `json:"field,omitempty"`
	Operator        string       `json:"operator,omitempty"`
	Value           interface{}  `json:"value,omitempty"`
	LogicalOperator string       `json:"logicalOperator,omitempty"` // AND, OR, NOT
	Rules           []*Condition `json:"rules,omitempty"`
}

// IsComposite reports whether the node combines children.
func (c *Condition) IsComposite() bool {
	return c != nil && c.LogicalOperator != ""
}

// ConfidenceGuidance calibrates answer confidence per level.
type ConfidenceGuidance struct {
	Levels map[string]string `json:"levels"`
}

// EvidenceRequired demands concrete evidence pieces in answers.
type EvidenceRequired struct {
	MinPieces int      `json:"minPieces"`
	Types     []string `json:"types,omitempty"`
}

// NegationHandling instructs the model to detect negated statements.
type NegationHandling struct {
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns,omitempty"`
}

// Example is a calibration scenario with its expected verdict.
type Example struct {
	Scenario       string   `json:"scenario"`
	ExpectedAnswer string   `json:"expectedAnswer"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// AIQuestion is the natural-language yes/no question attached to an AI rule,
// plus optional prompt-enhancement blocks.
type AIQuestion struct {
	ID                   string              `json:"id"`
	Question             string              `json:"question"`
	Context              string              `json:"context,omitempty"`
	AnalysisFramework    string              `json:"analysisFramework,omitempty"`
	ConfidenceGuidance   *ConfidenceGuidance `json:"confidenceGuidance,omitempty"`
	EvidenceRequired     *EvidenceRequired   `json:"evidenceRequired,omitempty"`
	NegationHandling     *NegationHandling   `json:"negationHandling,omitempty"`
	FalsePositiveFilters []string            `json:"falsePositiveFilters,omitempty"`
	EvidenceTypes        []string            `json:"evidenceTypes,omitempty"`
	Examples             []Example           `json:"examples,omitempty"`
}

// ActionConfig carries the action's reason and optional reply template.
type ActionConfig struct {
	Reason   string `json:"reason"`
	Template string `json:"template,omitempty"`
}

// Rule is one normalized moderation rule.
//
// After normalization AI and AIQuestion reference the same object so legacy
// consumers reading aiQuestion keep working.
type Rule struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Enabled      bool         `json:"enabled"`
	Priority     int          `json:"priority"`
	Type         string       `json:"type"`        // HARD or AI
	ContentType  string       `json:"contentType"` // submission, comment, any
	Conditions   *Condition   `json:"conditions,omitempty"`
	Action       string       `json:"action"`
	ActionConfig ActionConfig `json:"actionConfig"`
	AI           *AIQuestion  `json:"ai,omitempty"`
	AIQuestion   *AIQuestion  `json:"aiQuestion,omitempty"` // legacy mirror of AI
	CreatedAt    string       `json:"createdAt,omitempty"`
	UpdatedAt    string       `json:"updatedAt,omitempty"`
}

// AppliesTo reports whether the rule covers a subject content type.
func (r *Rule) AppliesTo(ct types.ContentType) bool {
	switch r.ContentType {
	case ContentAny, "":
		return true
	case ContentSubmission:
		return ct == types.ContentPost
	case ContentComment:
		return ct == types.ContentComment
	}
	return false
}

// RequiredQuestionIDs collects every AI question id the rule's conditions
// reference, plus the rule's own question id for AI rules. Shorthand
// `ai.answer` paths resolve to the rule's own id.
func (r *Rule) RequiredQuestionIDs() []string {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if r.Type == KindAI && r.AI != nil {
		add(r.AI.ID)
	}

	var walk func(c *Condition)
	walk = func(c *Condition) {
		if c == nil {
			return
		}
		for _, child := range c.Rules {
			walk(child)
		}
		if c.Field == "" {
			return
		}
		if id, ok := questionIDFromField(c.Field); ok {
			if id == "" && r.AI != nil {
				id = r.AI.ID
			}
			add(id)
		}
	}
	walk(r.Conditions)
	return ids
}

// questionIDFromField extracts the question id from an ai.* or legacy
// aiAnalysis.answers.* field path. An empty id with ok=true means the
// shorthand form referring to the current rule's own question.
func questionIDFromField(field string) (string, bool) {
	if strings.HasPrefix(field, "aiAnalysis.answers.") {
		rest := strings.TrimPrefix(field, "aiAnalysis.answers.")
		parts := strings.SplitN(rest, ".", 2)
		if parts[0] != "" {
			return parts[0], true
		}
		return "", false
	}
	if !strings.HasPrefix(field, "ai.") {
		return "", false
	}
	parts := strings.Split(field, ".")
	if len(parts) == 2 {
		// ai.answer / ai.confidence / ai.reasoning refer to the rule's own question.
		return "", true
	}
	if len(parts) >= 3 {
		return parts[1], true
	}
	return "", false
}

// RuleSet is the ordered, normalized collection of rules for an installation.
type RuleSet struct {
	Version   string  `json:"version"`
	Subreddit string  `json:"subreddit"`
	UpdatedAt string  `json:"updatedAt"`
	Rules     []*Rule `json:"rules"`
}

// Enabled returns the enabled rules applying to a content type, already in
// priority order (sorting happens at validation time).
func (rs *RuleSet) Enabled(ct types.ContentType) []*Rule {
	var out []*Rule
	for _, r := range rs.Rules {
		if r.Enabled && r.AppliesTo(ct) {
			out = append(out, r)
		}
	}
	return out
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
