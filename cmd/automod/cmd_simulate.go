package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/analyzer"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/cascade"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/settings"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

var fixturePath string

// fixture is the YAML schema for offline cascade replays: settings, canned
// author context, scripted AI answers, and the subjects to evaluate.
type fixture struct {
	Settings  map[string]interface{} `yaml:"settings"`
	Profile   *fixtureProfile        `yaml:"profile"`
	History   []fixtureHistoryItem   `yaml:"history"`
	AIAnswers map[string]string      `yaml:"aiAnswers"`
	Subjects  []fixtureSubject       `yaml:"subjects"`
}

type fixtureProfile struct {
	Username         string `yaml:"username"`
	AccountAgeInDays int    `yaml:"accountAgeInDays"`
	TotalKarma       int    `yaml:"totalKarma"`
	EmailVerified    bool   `yaml:"emailVerified"`
	IsModerator      bool   `yaml:"isModerator"`
}

type fixtureHistoryItem struct {
	Type      string `yaml:"type"`
	Subreddit string `yaml:"subreddit"`
	Content   string `yaml:"content"`
	Score     int    `yaml:"score"`
}

type fixtureSubject struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	AuthorID   string `yaml:"authorId"`
	AuthorName string `yaml:"authorName"`
	Title      string `yaml:"title"`
	Body       string `yaml:"body"`
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay fixture content through the cascade",
	Long: `Runs each subject in the fixture through the full cascade against an
in-memory state store. AI answers come scripted from the fixture, so no
provider is called and no budget is spent. Useful for checking what a rule
set would do before enabling it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(fixturePath)
		if err != nil {
			return fmt.Errorf("read fixture: %w", err)
		}
		var fix fixture
		if err := yaml.Unmarshal(data, &fix); err != nil {
			return fmt.Errorf("parse fixture: %w", err)
		}

		settingsJSON, err := json.Marshal(fix.Settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		st, err := settings.Parse(settingsJSON)
		if err != nil {
			return err
		}

		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start in-memory store: %w", err)
		}
		defer mr.Close()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		store := kvstore.NewRedisStoreFromClient(client)
		keys := kvstore.NewKeyspace(st.CacheVersion)

		engine := cascade.New(st, store, keys, nil,
			scriptedAnalyzer(fix.AIAnswers), nil,
			fixtureFetcher{fix: &fix}, fixtureFetcher{fix: &fix})

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		for _, s := range fix.Subjects {
			subject := s.subject()
			d := engine.Evaluate(ctx, subject)
			fmt.Printf("%-12s %-8s %-9s layer=%-9s %s\n",
				subject.ID, subject.Type, d.Action, d.Layer, d.Reason)
			if rule := d.Metadata["ruleName"]; rule != "" {
				fmt.Printf("%-12s rule: %s\n", "", rule)
			}
		}
		return nil
	},
}

func (s fixtureSubject) subject() *types.Subject {
	ct := types.ContentType(s.Type)
	if ct != types.ContentComment {
		ct = types.ContentPost
	}
	authorID := s.AuthorID
	if authorID == "" {
		authorID = s.AuthorName
	}
	return &types.Subject{
		ID:         s.ID,
		Type:       ct,
		AuthorID:   authorID,
		AuthorName: s.AuthorName,
		Title:      s.Title,
		Body:       s.Body,
		CreatedAt:  time.Now(),
	}
}

// fixtureFetcher serves the fixture's canned profile and history for every
// author.
type fixtureFetcher struct{ fix *fixture }

func (f fixtureFetcher) FetchProfile(context.Context, string) (*types.UserProfile, error) {
	p := f.fix.Profile
	if p == nil {
		return nil, nil
	}
	return &types.UserProfile{
		Username:         p.Username,
		AccountAgeInDays: p.AccountAgeInDays,
		TotalKarma:       p.TotalKarma,
		EmailVerified:    p.EmailVerified,
		IsModerator:      p.IsModerator,
	}, nil
}

func (f fixtureFetcher) FetchHistory(context.Context, string) (*types.PostHistory, error) {
	h := &types.PostHistory{}
	for _, item := range f.fix.History {
		h.Items = append(h.Items, types.HistoryItem{
			Type:      types.ContentType(item.Type),
			Subreddit: item.Subreddit,
			Content:   item.Content,
			Score:     item.Score,
		})
	}
	h.Metrics.TotalPosts, h.Metrics.TotalComments = countItems(h.Items)
	return h, nil
}

func countItems(items []types.HistoryItem) (posts, comments int) {
	for _, it := range items {
		if it.Type == types.ContentComment {
			comments++
		} else {
			posts++
		}
	}
	return posts, comments
}

// scriptedAnalyzer answers questions from the fixture instead of a provider.
// Unlisted questions answer NO.
type scriptedAnalyzer map[string]string

func (s scriptedAnalyzer) Analyze(_ context.Context, in analyzer.Input) (*types.AIBatchResult, error) {
	out := &types.AIBatchResult{
		UserID:    in.UserID,
		Provider:  "scripted",
		Timestamp: time.Now(),
	}
	for _, q := range in.Questions {
		answer := s[q.ID]
		if answer == "" {
			answer = "NO"
		}
		out.Answers = append(out.Answers, types.AIAnswer{
			QuestionID: q.ID,
			Answer:     answer,
			Confidence: 100,
			Reasoning:  "scripted fixture answer",
		})
	}
	return out, nil
}

func init() {
	simulateCmd.Flags().StringVar(&fixturePath, "fixture", "", "fixture YAML file")
	_ = simulateCmd.MarkFlagRequired("fixture")
}
