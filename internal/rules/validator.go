package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ValidationResult is the outcome of validating a rule-set JSON blob.
// Warnings never block loading; only Err does.
type ValidationResult struct {
	OK       bool
	RuleSet  *RuleSet
	Warnings []string
	Err      error
}

// Validate parses, normalizes, and migrates a rule-set JSON document.
// It never panics and never returns a partially-normalized set: either OK
// with a canonical RuleSet, or Err.
func Validate(jsonStr string) ValidationResult {
	var res ValidationResult

	if strings.TrimSpace(jsonStr) == "" {
		res.Err = fmt.Errorf("empty rule set")
		return res
	}

	var wire ruleSetWire
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		res.Err = describeParseError(jsonStr, err)
		return res
	}

	rs := &RuleSet{
		Version:   wire.Version,
		Subreddit: wire.Subreddit,
		UpdatedAt: wire.UpdatedAt,
	}
	if rs.Version == "" {
		rs.Version = "1.0"
	}
	if rs.Subreddit == "" {
		rs.Subreddit = "unknown"
	}
	if rs.UpdatedAt == "" {
		rs.UpdatedAt = nowRFC3339()
	}

	for i, raw := range wire.Rules {
		rule, warns := normalizeRule(raw, i)
		res.Warnings = append(res.Warnings, warns...)
		rs.Rules = append(rs.Rules, rule)
	}

	res.Warnings = append(res.Warnings, validateRules(rs)...)

	migrated, warns := Migrate(rs)
	res.Warnings = append(res.Warnings, warns...)
	rs = migrated

	// Priority descending, definition order as tie-break.
	sort.SliceStable(rs.Rules, func(a, b int) bool {
		return rs.Rules[a].Priority > rs.Rules[b].Priority
	})

	res.OK = true
	res.RuleSet = rs
	return res
}

type ruleSetWire struct {
	Version   string            `json:"version"`
	Subreddit string            `json:"subreddit"`
	UpdatedAt string            `json:"updatedAt"`
	Rules     []json.RawMessage `json:"rules"`
}

type ruleWire struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Enabled      *bool           `json:"enabled"`
	Priority     json.RawMessage `json:"priority"`
	Type         string          `json:"type"`
	ContentType  string          `json:"contentType"`
	Conditions   *Condition      `json:"conditions"`
	Action       string          `json:"action"`
	ActionConfig *ActionConfig   `json:"actionConfig"`
	AI           json.RawMessage `json:"ai"`
	AIQuestion   json.RawMessage `json:"aiQuestion"` // legacy
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

// normalizeRule fills defaults and canonicalizes one rule. It always returns
// a usable rule; malformed pieces degrade to warnings.
func normalizeRule(raw json.RawMessage, index int) (*Rule, []string) {
	var warns []string
	label := func() string { return fmt.Sprintf("rule %d", index+1) }

	var w ruleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		warns = append(warns, fmt.Sprintf("%s: malformed rule object: %v", label(), err))
	}

	r := &Rule{
		ID:          w.ID,
		Name:        w.Name,
		Enabled:     true,
		Type:        w.Type,
		ContentType: w.ContentType,
		Conditions:  w.Conditions,
		Action:      w.Action,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	if w.Enabled != nil {
		r.Enabled = *w.Enabled
	}
	if w.ActionConfig != nil {
		r.ActionConfig = *w.ActionConfig
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Name == "" {
		r.Name = fmt.Sprintf("Rule %d", index+1)
	}

	r.Priority, warns = normalizePriority(w.Priority, index, label(), warns)

	switch r.ContentType {
	case "post":
		r.ContentType = ContentSubmission
	case "all":
		r.ContentType = ContentAny
	case "", ContentSubmission, ContentComment, ContentAny:
		if r.ContentType == "" {
			r.ContentType = ContentAny
		}
	default:
		warns = append(warns, fmt.Sprintf("%s: unknown contentType %q, using %q", label(), r.ContentType, ContentAny))
		r.ContentType = ContentAny
	}

	if r.CreatedAt == "" {
		r.CreatedAt = nowRFC3339()
	}
	if r.UpdatedAt == "" {
		r.UpdatedAt = nowRFC3339()
	}
	if r.ActionConfig.Reason == "" {
		r.ActionConfig.Reason = "Rule matched"
	}

	// ai wins over legacy aiQuestion when both are present.
	aiRaw := w.AI
	if len(aiRaw) == 0 || string(aiRaw) == "null" {
		aiRaw = w.AIQuestion
	}
	if len(aiRaw) > 0 && string(aiRaw) != "null" {
		ai, aiWarns := normalizeAI(aiRaw, label())
		warns = append(warns, aiWarns...)
		r.AI = ai
		r.AIQuestion = ai // mirror for legacy consumers
	}

	// Kind is deduced from the presence of an AI block unless set explicitly.
	switch r.Type {
	case KindHard, KindAI:
	case "":
		if r.AI != nil {
			r.Type = KindAI
		} else {
			r.Type = KindHard
		}
	default:
		warns = append(warns, fmt.Sprintf("%s: invalid type %q", label(), r.Type))
		if r.AI != nil {
			r.Type = KindAI
		} else {
			r.Type = KindHard
		}
	}

	return r, warns
}

func normalizePriority(raw json.RawMessage, index int, label string, warns []string) (int, []string) {
	if len(raw) == 0 || string(raw) == "null" {
		return index * 10, warns
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		warns = append(warns, fmt.Sprintf("%s: non-numeric priority %s, using %d", label, string(raw), index*10))
		return index * 10, warns
	}
	return int(f), warns
}

// normalizeAI decodes an ai block leniently: a malformed block degrades to
// whatever id/question can be salvaged, with warnings.
func normalizeAI(raw json.RawMessage, label string) (*AIQuestion, []string) {
	var warns []string

	var ai AIQuestion
	if err := json.Unmarshal(raw, &ai); err != nil {
		warns = append(warns, fmt.Sprintf("%s: malformed ai block: %v", label, err))
		// Salvage the basics from a loose map.
		var m map[string]interface{}
		if json.Unmarshal(raw, &m) == nil {
			if v, ok := m["id"].(string); ok {
				ai.ID = v
			}
			if v, ok := m["question"].(string); ok {
				ai.Question = v
			}
		}
	}

	if ai.ID == "" && ai.Question != "" {
		ai.ID = Slugify(ai.Question)
	}
	return &ai, warns
}

// validateRules produces warnings for the whole normalized set. Nothing here
// blocks loading.
func validateRules(rs *RuleSet) []string {
	var warns []string
	aiIDs := map[string]string{}

	for i, r := range rs.Rules {
		label := fmt.Sprintf("rule %d (%s)", i+1, r.Name)

		if r.Action == "" {
			warns = append(warns, label+": missing action")
		} else if !validActionName(r.Action) {
			warns = append(warns, fmt.Sprintf("%s: invalid action %q", label, r.Action))
		}

		if r.Conditions == nil {
			warns = append(warns, label+": missing conditions")
		} else {
			warns = append(warns, validateCondition(r.Conditions, label)...)
		}

		if r.Type == KindAI {
			if r.AI == nil || r.AI.Question == "" {
				warns = append(warns, label+": AI rule without ai.question")
			}
			if r.AI != nil && r.AI.ID != "" {
				if prev, dup := aiIDs[r.AI.ID]; dup {
					warns = append(warns, fmt.Sprintf("%s: duplicate AI question id %q (also used by %s)", label, r.AI.ID, prev))
				} else {
					aiIDs[r.AI.ID] = r.Name
				}
			}
			warns = append(warns, validateEnhancedFields(r.AI, label)...)
		}
	}
	return warns
}

func validateCondition(c *Condition, label string) []string {
	var warns []string
	if c.IsComposite() {
		switch c.LogicalOperator {
		case "AND", "OR", "NOT":
		default:
			warns = append(warns, fmt.Sprintf("%s: unknown logicalOperator %q", label, c.LogicalOperator))
		}
		if len(c.Rules) == 0 {
			warns = append(warns, label+": composite condition without rules")
		}
		for _, child := range c.Rules {
			warns = append(warns, validateCondition(child, label)...)
		}
		return warns
	}
	if c.Field == "" && len(c.Rules) > 0 {
		// Composite missing its logicalOperator; treat children as AND at
		// evaluation time but tell the author.
		warns = append(warns, label+": composite condition missing logicalOperator")
		for _, child := range c.Rules {
			warns = append(warns, validateCondition(child, label)...)
		}
		return warns
	}
	if c.Operator == "" {
		warns = append(warns, fmt.Sprintf("%s: leaf condition on %q without operator", label, c.Field))
	}
	return warns
}

func validateEnhancedFields(ai *AIQuestion, label string) []string {
	if ai == nil {
		return nil
	}
	var warns []string
	if ai.ConfidenceGuidance != nil && len(ai.ConfidenceGuidance.Levels) == 0 {
		warns = append(warns, label+": confidenceGuidance must carry at least one level")
	}
	if ai.EvidenceRequired != nil && ai.EvidenceRequired.MinPieces < 1 {
		warns = append(warns, label+": evidenceRequired.minPieces must be >= 1")
	}
	for i, ex := range ai.Examples {
		if ex.Scenario == "" || ex.ExpectedAnswer == "" {
			warns = append(warns, fmt.Sprintf("%s: example %d needs scenario and expectedAnswer", label, i+1))
		}
		if ex.Confidence != nil && (*ex.Confidence < 0 || *ex.Confidence > 100) {
			warns = append(warns, fmt.Sprintf("%s: example %d confidence out of [0,100]", label, i+1))
		}
	}
	return warns
}

func validActionName(a string) bool {
	switch a {
	case "APPROVE", "FLAG", "REMOVE", "COMMENT":
		return true
	}
	return false
}

// describeParseError attaches a line/column position when the underlying
// parser exposes a byte offset.
func describeParseError(src string, err error) error {
	var offset int64 = -1
	if syn, ok := err.(*json.SyntaxError); ok {
		offset = syn.Offset
	} else if typ, ok := err.(*json.UnmarshalTypeError); ok {
		offset = typ.Offset
	}
	if offset < 0 {
		return fmt.Errorf("invalid rule set JSON: %w", err)
	}
	line, col := 1, 1
	for i := int64(0); i < offset && i < int64(len(src)); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return fmt.Errorf("invalid rule set JSON at line %d, column %d: %w", line, col, err)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a stable question id from free text.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
		s = strings.Trim(s, "_")
	}
	if s == "" {
		s = "q_" + strconv.Itoa(int(uuid.New().ID()))
	}
	return s
}
