// Package prompt assembles the batched-question prompt sent to LLM
// providers. Assembly is deterministic: the same input always yields the same
// string, so cache keys and tests stay stable. All user content is scrubbed
// by the sanitizer before insertion.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/sanitize"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// Version tags the prompt layout for quality metrics.
const Version = "v2"

// Input is everything the builder needs for one batch.
type Input struct {
	Profile   *types.UserProfile
	History   *types.PostHistory
	Subject   *types.Subject
	Subreddit string
	Questions []*rules.AIQuestion
}

// Result is the assembled prompt plus sanitation accounting.
type Result struct {
	Prompt      string
	PIIRemoved  int
	URLsRemoved int
	QuestionIDs []string
}

// Build assembles the prompt. Sections appear in fixed order: role, profile,
// history, current post, decision framework, per-question guidance,
// questions, output schema.
func Build(in Input) Result {
	var res Result
	var b strings.Builder

	scrub := func(s string) string {
		r := sanitize.Scrub(s)
		res.PIIRemoved += r.EmailsRemoved + r.PhonesRemoved + r.IPsRemoved
		res.URLsRemoved += r.URLsRemoved
		return r.Text
	}

	b.WriteString("You are a content-moderation analyst for r/")
	b.WriteString(in.Subreddit)
	b.WriteString(". Answer each question about the user strictly from the evidence below.\n\n")

	writeProfile(&b, in.Profile)
	writeHistory(&b, in.History, scrub)
	writeCurrentPost(&b, in.Subject, scrub)
	writeDecisionFramework(&b)

	for _, q := range in.Questions {
		writeQuestionGuidance(&b, q)
	}
	writeQuestions(&b, in.Questions)
	writeOutputSchema(&b)

	for _, q := range in.Questions {
		res.QuestionIDs = append(res.QuestionIDs, q.ID)
	}
	res.Prompt = b.String()
	return res
}

func writeProfile(b *strings.Builder, p *types.UserProfile) {
	b.WriteString("## User Profile\n")
	if p == nil {
		b.WriteString("(No profile available)\n\n")
		return
	}
	fmt.Fprintf(b, "Username: %s\n", p.Username)
	fmt.Fprintf(b, "Account age: %d days\n", p.AccountAgeInDays)
	fmt.Fprintf(b, "Total karma: %d\n", p.TotalKarma)
	fmt.Fprintf(b, "Email verified: %s\n", yesNo(p.EmailVerified))
	fmt.Fprintf(b, "Moderator: %s\n\n", yesNo(p.IsModerator))
}

func writeHistory(b *strings.Builder, h *types.PostHistory, scrub func(string) string) {
	b.WriteString("## Post History\n")
	if h == nil || len(h.Items) == 0 {
		b.WriteString("(No post history available)\n\n")
		return
	}
	for _, item := range h.Truncate().Items {
		kind := "POST"
		if item.Type == types.ContentComment {
			kind = "COMMENT"
		}
		fmt.Fprintf(b, "[%s in r/%s] %s\n", kind, item.Subreddit, scrub(item.Content))
	}
	b.WriteString("\n")
}

func writeCurrentPost(b *strings.Builder, s *types.Subject, scrub func(string) string) {
	b.WriteString("## Current Submission\n")
	if s == nil {
		b.WriteString("(No submission)\n\n")
		return
	}
	if s.Title != "" {
		fmt.Fprintf(b, "Title: %s\n", scrub(s.Title))
	}
	fmt.Fprintf(b, "Body: %s\n\n", scrub(s.Body))
}

func writeDecisionFramework(b *strings.Builder) {
	b.WriteString("## Decision Framework\n")
	b.WriteString("Answer YES only when the evidence in the history or the current submission directly supports it. ")
	b.WriteString("Prefer NO when the evidence is ambiguous. ")
	b.WriteString("Confidence is 0-100 and must reflect how directly the evidence supports the answer.\n\n")
}

func writeQuestionGuidance(b *strings.Builder, q *rules.AIQuestion) {
	var sections []string

	if q.Context != "" {
		sections = append(sections, "Context: "+q.Context)
	}
	if q.AnalysisFramework != "" {
		sections = append(sections, "Analysis framework: "+q.AnalysisFramework)
	}
	if len(q.FalsePositiveFilters) > 0 {
		sections = append(sections, "Do NOT count as evidence: "+strings.Join(q.FalsePositiveFilters, "; "))
	}
	if q.NegationHandling != nil && q.NegationHandling.Enabled {
		s := "Watch for negated statements and report them in negationDetected"
		if len(q.NegationHandling.Patterns) > 0 {
			s += " (patterns: " + strings.Join(q.NegationHandling.Patterns, ", ") + ")"
		}
		sections = append(sections, s+".")
	}
	if q.ConfidenceGuidance != nil && len(q.ConfidenceGuidance.Levels) > 0 {
		var lines []string
		for _, level := range sortedKeys(q.ConfidenceGuidance.Levels) {
			lines = append(lines, fmt.Sprintf("%s: %s", level, q.ConfidenceGuidance.Levels[level]))
		}
		sections = append(sections, "Confidence calibration:\n"+strings.Join(lines, "\n"))
	}
	if q.EvidenceRequired != nil && q.EvidenceRequired.MinPieces > 0 {
		s := fmt.Sprintf("A YES answer requires at least %d evidence piece(s)", q.EvidenceRequired.MinPieces)
		if len(q.EvidenceRequired.Types) > 0 {
			s += " of type " + strings.Join(q.EvidenceRequired.Types, ", ")
		}
		sections = append(sections, s+".")
	}
	for i, ex := range q.Examples {
		s := fmt.Sprintf("Example %d: %s => %s", i+1, ex.Scenario, ex.ExpectedAnswer)
		if ex.Reasoning != "" {
			s += " (" + ex.Reasoning + ")"
		}
		sections = append(sections, s)
	}

	if len(sections) == 0 {
		return
	}
	fmt.Fprintf(b, "## Guidance for question %q\n", q.ID)
	for _, s := range sections {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeQuestions(b *strings.Builder, questions []*rules.AIQuestion) {
	b.WriteString("## Questions\n")
	for _, q := range questions {
		fmt.Fprintf(b, "- id=%q: %s\n", q.ID, q.Question)
	}
	b.WriteString("\n")
}

func writeOutputSchema(b *strings.Builder) {
	b.WriteString("## Output\n")
	b.WriteString("Respond with ONLY this JSON object, one entry per question:\n")
	b.WriteString(`{"answers":[{"questionId":"<id>","answer":"YES|NO","confidence":<0-100>,"reasoning":"<short>","evidencePieces":["<quote>"],"negationDetected":false}]}`)
	b.WriteString("\n")
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
