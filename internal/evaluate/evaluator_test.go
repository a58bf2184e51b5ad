package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

func testContext() *Context {
	return &Context{
		Profile: &types.UserProfile{
			Username:         "alice",
			AccountAgeInDays: 5,
			TotalKarma:       120,
			EmailVerified:    true,
		},
		History: &types.PostHistory{
			Items: []types.HistoryItem{
				{Type: types.ContentPost, Subreddit: "gosub", Content: "hello"},
			},
			Metrics: types.HistoryMetrics{TotalPosts: 4, TotalComments: 12, AverageScore: 3.5},
		},
		Subject: &types.Subject{
			ID:        "t3_abc",
			Type:      types.ContentPost,
			Title:     "Check out my site",
			Body:      "Visit https://www.example.com/page and http://spam.io now",
			Subreddit: "gosub",
		},
		Subreddit: "gosub",
		AI: &types.AIBatchResult{
			Answers: []types.AIAnswer{
				{QuestionID: "seeking_date", Answer: "YES", Confidence: 85, Reasoning: "explicit ask"},
				{QuestionID: "is_spam", Answer: "NO", Confidence: 60},
			},
		},
		Rule: &rules.Rule{
			Type: rules.KindAI,
			AI:   &rules.AIQuestion{ID: "seeking_date", Question: "Seeking a date?"},
		},
	}
}

func TestResolve_Paths(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		path string
		want interface{}
	}{
		{"profile.accountAgeInDays", float64(5)},
		{"profile.totalKarma", float64(120)},
		{"profile.emailVerified", true},
		{"postHistory.totalPosts", float64(4)},
		{"postHistory.metrics.totalComments", float64(12)},
		{"postHistory.metrics.averageScore", 3.5},
		{"currentPost.title", "Check out my site"},
		{"currentPost.subreddit", "gosub"},
		{"subreddit", "gosub"},
		{"ai.answer", "YES"},
		{"ai.confidence", float64(85)},
		{"ai.reasoning", "explicit ask"},
		{"ai.is_spam.answer", "NO"},
		{"aiAnalysis.answers.is_spam.confidence", float64(60)},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ctx.Resolve(tt.path)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_WordCountAndDomains(t *testing.T) {
	ctx := testContext()

	wc, ok := ctx.Resolve("currentPost.wordCount")
	assert.True(t, ok)
	assert.Equal(t, float64(9), wc)

	domains, ok := ctx.Resolve("currentPost.domains")
	assert.True(t, ok)
	assert.Equal(t, []string{"example.com", "spam.io"}, domains)

	ctx.Subject.Title = "no links here"
	ctx.Subject.Body = "plain text"
	_, ok = ctx.Resolve("currentPost.domains")
	assert.False(t, ok, "no links means the path does not resolve")
}

func TestResolve_Unknown(t *testing.T) {
	ctx := testContext()
	for _, path := range []string{"profile.shoeSize", "nothing", "ai.missing_q.answer", "currentPost."} {
		_, ok := ctx.Resolve(path)
		assert.False(t, ok, path)
	}
}

func TestResolve_AIShorthandNeedsRule(t *testing.T) {
	ctx := testContext()
	ctx.Rule = nil
	_, ok := ctx.Resolve("ai.answer")
	assert.False(t, ok)
}

func leaf(field, op string, value interface{}) *rules.Condition {
	return &rules.Condition{Field: field, Operator: op, Value: value}
}

func TestEvaluate_Operators(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name string
		cond *rules.Condition
		want bool
	}{
		{"numeric gt", leaf("profile.totalKarma", ">", float64(100)), true},
		{"numeric lt", leaf("profile.accountAgeInDays", "<", float64(2)), false},
		{"numeric gte boundary", leaf("profile.accountAgeInDays", ">=", float64(5)), true},
		{"numeric against string value", leaf("profile.totalKarma", ">", "100"), true},
		{"string eq case-insensitive", leaf("currentPost.subreddit", "==", "GoSub"), true},
		{"string neq", leaf("currentPost.subreddit", "!=", "other"), true},
		{"bool vs Yes", leaf("profile.emailVerified", "==", "Yes"), true},
		{"bool vs No", leaf("profile.emailVerified", "==", "No"), false},
		{"ai answer eq", leaf("ai.answer", "==", "YES"), true},
		{"ai confidence threshold", leaf("ai.confidence", ">=", float64(80)), true},
		{"contains", leaf("currentPost.title", "contains", "my site"), true},
		{"contains in list", leaf("currentPost.domains", "contains", "SPAM.IO"), true},
		{"startsWith", leaf("currentPost.title", "startsWith", "check"), true},
		{"endsWith", leaf("currentPost.title", "endsWith", "site"), true},
		{"in", leaf("subreddit", "in", []interface{}{"other", "gosub"}), true},
		{"in miss", leaf("subreddit", "in", []interface{}{"other"}), false},
		{"matches", leaf("currentPost.body", "matches", `https?://\S+`), true},
		{"matches bad regex is false", leaf("currentPost.body", "matches", `[unclosed`), false},
		{"exists", leaf("currentPost.domains", "exists", nil), true},
		{"notExists", leaf("profile.shoeSize", "notExists", nil), true},
		{"missing field eq is false", leaf("profile.shoeSize", "==", float64(9)), false},
		{"missing field neq is true", leaf("profile.shoeSize", "!=", float64(9)), true},
		{"unknown operator", leaf("subreddit", "~~", "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, ctx))
		})
	}
}

func TestEvaluate_Composites(t *testing.T) {
	ctx := testContext()

	and := &rules.Condition{LogicalOperator: "AND", Rules: []*rules.Condition{
		leaf("profile.totalKarma", ">", float64(100)),
		leaf("subreddit", "==", "gosub"),
	}}
	assert.True(t, Evaluate(and, ctx))

	or := &rules.Condition{LogicalOperator: "OR", Rules: []*rules.Condition{
		leaf("profile.totalKarma", ">", float64(10000)),
		leaf("subreddit", "==", "gosub"),
	}}
	assert.True(t, Evaluate(or, ctx))

	not := &rules.Condition{LogicalOperator: "NOT", Rules: []*rules.Condition{
		leaf("subreddit", "==", "other"),
	}}
	assert.True(t, Evaluate(not, ctx))

	empty := &rules.Condition{LogicalOperator: "AND"}
	assert.False(t, Evaluate(empty, ctx), "composite without children never matches")

	missingOp := &rules.Condition{Rules: []*rules.Condition{
		leaf("subreddit", "==", "gosub"),
		leaf("profile.emailVerified", "==", true),
	}}
	assert.True(t, Evaluate(missingOp, ctx), "missing logicalOperator defaults to AND")

	assert.False(t, Evaluate(nil, ctx))
}

func TestEvaluate_ShortCircuit(t *testing.T) {
	ctx := testContext()

	// The second child has a regex that would log a warning if compiled; AND
	// must not reach it once the first child fails.
	and := &rules.Condition{LogicalOperator: "AND", Rules: []*rules.Condition{
		leaf("subreddit", "==", "nope"),
		leaf("currentPost.body", "matches", `[unclosed`),
	}}
	assert.False(t, Evaluate(and, ctx))

	or := &rules.Condition{LogicalOperator: "OR", Rules: []*rules.Condition{
		leaf("subreddit", "==", "gosub"),
		leaf("currentPost.body", "matches", `[unclosed`),
	}}
	assert.True(t, Evaluate(or, ctx))
}

func TestSubstitute(t *testing.T) {
	ctx := testContext()

	out := Substitute("u/{profile.username} in r/{subreddit}: {ai.answer} ({ai.confidence}%)", ctx)
	assert.Equal(t, "u/alice in r/gosub: YES (85%)", out)

	out = Substitute("unknown {no.such.path} stays empty", ctx)
	assert.Equal(t, "unknown  stays empty", out)

	out = Substitute("no placeholders", ctx)
	assert.Equal(t, "no placeholders", out)
}
