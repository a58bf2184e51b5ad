// Package platform connects the moderation core to the hosting platform:
// trigger handlers for new content and moderator actions, decision
// application, notifications, and the daily digest job.
package platform

import (
	"context"
	"time"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// Effector applies decisions to live content.
type Effector interface {
	Approve(ctx context.Context, contentID string) error
	Remove(ctx context.Context, contentID string) error
	Flag(ctx context.Context, contentID, reason string) error
	Comment(ctx context.Context, contentID, body string) error
}

// NotificationSink delivers messages to moderators.
type NotificationSink interface {
	SendModmail(ctx context.Context, subreddit, subject, body string) error
	SendPM(ctx context.Context, username, subject, body string) error
}

// PostEvent is the host's new-submission trigger payload.
type PostEvent struct {
	PostID     string
	AuthorID   string
	AuthorName string
	Subreddit  string
	Title      string
	Body       string
	CreatedAt  time.Time
}

// CommentEvent is the host's new-comment trigger payload.
type CommentEvent struct {
	CommentID  string
	AuthorID   string
	AuthorName string
	Subreddit  string
	Body       string
	CreatedAt  time.Time
}

// ModActionEvent is the host's moderation-log trigger payload.
type ModActionEvent struct {
	Action         string // removelink, removecomment, approvelink, ...
	TargetID       string
	TargetAuthorID string
	Moderator      string
	Subreddit      string
}

func (p PostEvent) subject() *types.Subject {
	return &types.Subject{
		ID:         p.PostID,
		Type:       types.ContentPost,
		AuthorID:   p.AuthorID,
		AuthorName: p.AuthorName,
		Subreddit:  p.Subreddit,
		Title:      p.Title,
		Body:       p.Body,
		CreatedAt:  p.CreatedAt,
	}
}

func (c CommentEvent) subject() *types.Subject {
	return &types.Subject{
		ID:         c.CommentID,
		Type:       types.ContentComment,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Subreddit:  c.Subreddit,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
	}
}
