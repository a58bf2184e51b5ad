// Package types holds the domain types shared across the moderation engine:
// subjects under evaluation, fetched user context, AI batch results, and the
// decisions the cascade emits. Keeping them here avoids import cycles between
// the cascade, the analyzer, and the evaluators.
package types

import "time"

// ContentType distinguishes posts from comments.
type ContentType string

const (
	ContentPost    ContentType = "post"
	ContentComment ContentType = "comment"
	ContentAny     ContentType = "any"
)

// Subject is a single submission under moderation. It lives for exactly one
// cascade invocation.
type Subject struct {
	ID         string      `json:"id"`
	Type       ContentType `json:"type"`
	AuthorID   string      `json:"authorId"`
	AuthorName string      `json:"authorName"`
	Subreddit  string      `json:"subreddit"`
	Title      string      `json:"title,omitempty"` // posts only
	Body       string      `json:"body"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// UserProfile is the account snapshot fetched once per cascade.
type UserProfile struct {
	Username         string `json:"username"`
	AccountAgeInDays int    `json:"accountAgeInDays"`
	TotalKarma       int    `json:"totalKarma"`
	EmailVerified    bool   `json:"emailVerified"`
	IsModerator      bool   `json:"isModerator"`
	HasFlair         bool   `json:"hasFlair"`
	HasPremium       bool   `json:"hasPremium"`
	IsVerified       bool   `json:"isVerified"`
}

// HistoryItem is one recent post or comment by the author.
type HistoryItem struct {
	Type      ContentType `json:"type"`
	Subreddit string      `json:"subreddit"`
	Content   string      `json:"content"`
	Score     int         `json:"score"`
	CreatedAt time.Time   `json:"createdAt"`
}

// HistoryMetrics are aggregates over the (truncated) history window.
type HistoryMetrics struct {
	TotalPosts    int       `json:"totalPosts"`
	TotalComments int       `json:"totalComments"`
	AverageScore  float64   `json:"averageScore"`
	OldestItem    time.Time `json:"oldestItem"`
	NewestItem    time.Time `json:"newestItem"`
}

// MaxHistoryItems caps how much history reaches prompts and rule evaluation.
const MaxHistoryItems = 200

// PostHistory is the author's recent activity, truncated to MaxHistoryItems.
type PostHistory struct {
	Items   []HistoryItem  `json:"items"`
	Metrics HistoryMetrics `json:"metrics"`
}

// Truncate returns a copy limited to the most recent MaxHistoryItems entries.
func (h *PostHistory) Truncate() *PostHistory {
	if h == nil {
		return nil
	}
	if len(h.Items) <= MaxHistoryItems {
		return h
	}
	out := *h
	out.Items = h.Items[:MaxHistoryItems]
	return &out
}

// AIAnswer is one validated yes/no answer from a batched question call.
type AIAnswer struct {
	QuestionID                    string   `json:"questionId"`
	Answer                        string   `json:"answer"` // "YES" or "NO"
	Confidence                    float64  `json:"confidence"`
	Reasoning                     string   `json:"reasoning"`
	EvidencePieces                []string `json:"evidencePieces,omitempty"`
	FalsePositivePatternsDetected []string `json:"falsePositivePatternsDetected,omitempty"`
	NegationDetected              *bool    `json:"negationDetected,omitempty"`
}

// AIBatchResult is the full outcome of one batched provider call, as cached.
type AIBatchResult struct {
	UserID        string     `json:"userId"`
	Timestamp     time.Time  `json:"timestamp"`
	Provider      string     `json:"provider"`
	Model         string     `json:"model"`
	CorrelationID string     `json:"correlationId"`
	CacheTTL      int64      `json:"cacheTTL"` // seconds
	TokensUsed    int        `json:"tokensUsed"`
	CostUSD       float64    `json:"costUSD"`
	LatencyMs     int64      `json:"latencyMs"`
	Answers       []AIAnswer `json:"answers"`
}

// Answer returns the answer for a question id, or nil.
func (r *AIBatchResult) Answer(questionID string) *AIAnswer {
	if r == nil {
		return nil
	}
	for i := range r.Answers {
		if r.Answers[i].QuestionID == questionID {
			return &r.Answers[i]
		}
	}
	return nil
}

// Action is what the cascade tells the effector to do.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionFlag    Action = "FLAG"
	ActionRemove  Action = "REMOVE"
	ActionComment Action = "COMMENT"
)

// ValidAction reports whether s is one of the four effector actions.
func ValidAction(s string) bool {
	switch Action(s) {
	case ActionApprove, ActionFlag, ActionRemove, ActionComment:
		return true
	}
	return false
}

// Layer identifies which stage of the cascade produced a decision.
type Layer string

const (
	LayerWhitelist Layer = "whitelist"
	LayerOne       Layer = "layer1"
	LayerTwo       Layer = "layer2"
	LayerThree     Layer = "layer3"
	LayerNone      Layer = "none"
)

// Decision is the cascade's verdict for one subject.
type Decision struct {
	Action   Action            `json:"action"`
	Reason   string            `json:"reason"`
	Layer    Layer             `json:"layer"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
