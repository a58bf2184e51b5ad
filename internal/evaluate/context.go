// Package evaluate resolves dotted field paths against an evaluation context,
// applies condition trees with short-circuit semantics, and substitutes
// {placeholders} in action strings.
package evaluate

import (
	"regexp"
	"strings"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// Context is the bag of values conditions and templates can reference.
// Rule, when set, scopes the ai.answer shorthand to that rule's own question.
type Context struct {
	Profile   *types.UserProfile
	History   *types.PostHistory
	Subject   *types.Subject
	Subreddit string
	AI        *types.AIBatchResult
	Rule      *rules.Rule
}

var (
	wordRe   = regexp.MustCompile(`\S+`)
	domainRe = regexp.MustCompile(`https?://([^/\s]+)`)
)

// Resolve looks up a dotted path. The second return reports whether the path
// resolved to a concrete value; an unset or unknown path returns (nil, false).
// Values are string, float64, bool, or []string.
func (c *Context) Resolve(path string) (interface{}, bool) {
	switch {
	case path == "subreddit":
		if c.Subreddit != "" {
			return c.Subreddit, true
		}
		if c.Subject != nil {
			return c.Subject.Subreddit, true
		}
		return nil, false
	case strings.HasPrefix(path, "profile."):
		return c.resolveProfile(strings.TrimPrefix(path, "profile."))
	case strings.HasPrefix(path, "postHistory."):
		return c.resolveHistory(strings.TrimPrefix(path, "postHistory."))
	case strings.HasPrefix(path, "currentPost."):
		return c.resolveSubject(strings.TrimPrefix(path, "currentPost."))
	case strings.HasPrefix(path, "ai."):
		return c.resolveAI(strings.TrimPrefix(path, "ai."))
	case strings.HasPrefix(path, "aiAnalysis.answers."):
		// Legacy path: aiAnalysis.answers.<id>.<attr>.
		rest := strings.TrimPrefix(path, "aiAnalysis.answers.")
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 {
			return nil, false
		}
		return c.answerAttr(c.AI.Answer(parts[0]), parts[1])
	}
	return nil, false
}

func (c *Context) resolveProfile(attr string) (interface{}, bool) {
	if c.Profile == nil {
		return nil, false
	}
	switch attr {
	case "username":
		return c.Profile.Username, true
	case "accountAgeInDays":
		return float64(c.Profile.AccountAgeInDays), true
	case "totalKarma":
		return float64(c.Profile.TotalKarma), true
	case "emailVerified":
		return c.Profile.EmailVerified, true
	case "isModerator":
		return c.Profile.IsModerator, true
	case "hasFlair":
		return c.Profile.HasFlair, true
	case "hasPremium":
		return c.Profile.HasPremium, true
	case "isVerified":
		return c.Profile.IsVerified, true
	}
	return nil, false
}

func (c *Context) resolveHistory(attr string) (interface{}, bool) {
	if c.History == nil {
		return nil, false
	}
	// totalPosts and totalComments work with and without the metrics prefix.
	attr = strings.TrimPrefix(attr, "metrics.")
	switch attr {
	case "totalPosts":
		return float64(c.History.Metrics.TotalPosts), true
	case "totalComments":
		return float64(c.History.Metrics.TotalComments), true
	case "averageScore":
		return c.History.Metrics.AverageScore, true
	case "itemCount":
		return float64(len(c.History.Items)), true
	}
	return nil, false
}

func (c *Context) resolveSubject(attr string) (interface{}, bool) {
	if c.Subject == nil {
		return nil, false
	}
	switch attr {
	case "title":
		return c.Subject.Title, true
	case "body":
		return c.Subject.Body, true
	case "subreddit":
		return c.Subject.Subreddit, true
	case "authorName":
		return c.Subject.AuthorName, true
	case "wordCount":
		text := strings.TrimSpace(c.Subject.Title + " " + c.Subject.Body)
		return float64(len(wordRe.FindAllString(text, -1))), true
	case "domains":
		var domains []string
		seen := map[string]bool{}
		for _, m := range domainRe.FindAllStringSubmatch(c.Subject.Title+" "+c.Subject.Body, -1) {
			d := strings.ToLower(strings.TrimPrefix(m[1], "www."))
			if !seen[d] {
				seen[d] = true
				domains = append(domains, d)
			}
		}
		if len(domains) == 0 {
			return nil, false
		}
		return domains, true
	}
	return nil, false
}

// resolveAI handles both the shorthand form (ai.answer, scoped to the current
// rule's question) and the explicit form (ai.<questionId>.answer).
func (c *Context) resolveAI(attr string) (interface{}, bool) {
	parts := strings.SplitN(attr, ".", 2)
	if len(parts) == 1 {
		if c.Rule == nil || c.Rule.AI == nil {
			return nil, false
		}
		return c.answerAttr(c.AI.Answer(c.Rule.AI.ID), parts[0])
	}
	return c.answerAttr(c.AI.Answer(parts[0]), parts[1])
}

func (c *Context) answerAttr(a *types.AIAnswer, attr string) (interface{}, bool) {
	if a == nil {
		return nil, false
	}
	switch attr {
	case "answer":
		return a.Answer, true
	case "confidence":
		return a.Confidence, true
	case "reasoning":
		return a.Reasoning, true
	case "evidencePieces":
		if len(a.EvidencePieces) == 0 {
			return nil, false
		}
		return a.EvidencePieces, true
	case "negationDetected":
		if a.NegationDetected == nil {
			return nil, false
		}
		return *a.NegationDetected, true
	}
	return nil, false
}
