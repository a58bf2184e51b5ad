package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/cascade"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/cost"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/settings"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/trust"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

type call struct {
	op, contentID, arg string
}

type fakeEffector struct {
	calls     []call
	removeErr error
}

func (f *fakeEffector) Approve(_ context.Context, id string) error {
	f.calls = append(f.calls, call{"approve", id, ""})
	return nil
}

func (f *fakeEffector) Remove(_ context.Context, id string) error {
	f.calls = append(f.calls, call{"remove", id, ""})
	return f.removeErr
}

func (f *fakeEffector) Flag(_ context.Context, id, reason string) error {
	f.calls = append(f.calls, call{"flag", id, reason})
	return nil
}

func (f *fakeEffector) Comment(_ context.Context, id, body string) error {
	f.calls = append(f.calls, call{"comment", id, body})
	return nil
}

type message struct {
	kind, target, subject, body string
}

type fakeSink struct {
	messages []message
	err      error
}

func (f *fakeSink) SendModmail(_ context.Context, subreddit, subject, body string) error {
	f.messages = append(f.messages, message{"modmail", subreddit, subject, body})
	return f.err
}

func (f *fakeSink) SendPM(_ context.Context, username, subject, body string) error {
	f.messages = append(f.messages, message{"pm", username, subject, body})
	return f.err
}

type fakeProfiles struct{ profile *types.UserProfile }

func (f *fakeProfiles) FetchProfile(context.Context, string) (*types.UserProfile, error) {
	return f.profile, nil
}

type fakeHistories struct{}

func (fakeHistories) FetchHistory(context.Context, string) (*types.PostHistory, error) {
	return &types.PostHistory{}, nil
}

type harness struct {
	handler  *Handler
	settings *settings.Settings
	effector *fakeEffector
	sink     *fakeSink
	trust    *trust.Manager
	profiles *fakeProfiles
	mr       *miniredis.Miniredis
}

// newHarness builds a handler around a real cascade with Layer 3 disabled,
// so decisions come from Layer 1 or fall through to APPROVE.
func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := kvstore.NewRedisStoreFromClient(client)
	keys := kvstore.NewKeyspace("1")

	st := settings.Default()
	st.Subreddit = "gosub"
	st.BotUsername = "automod-bot"

	tr := trust.NewManager(store, keys)
	profiles := &fakeProfiles{profile: &types.UserProfile{
		Username:         "alice",
		AccountAgeInDays: 400,
		TotalKarma:       2500,
	}}
	engine := cascade.New(st, store, keys, tr, nil, nil, profiles, fakeHistories{})

	eff := &fakeEffector{}
	sink := &fakeSink{}
	router := NewRouter(st, sink)
	return &harness{
		handler:  NewHandler(st, engine, tr, eff, router, nil),
		settings: st,
		effector: eff,
		sink:     sink,
		trust:    tr,
		profiles: profiles,
		mr:       mr,
	}
}

func postEvent(id string) PostEvent {
	return PostEvent{
		PostID:     id,
		AuthorID:   "u123",
		AuthorName: "alice",
		Subreddit:  "gosub",
		Title:      "A title",
		Body:       "A body",
	}
}

func TestOnPostSubmit_ApproveUpdatesTrust(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.handler.OnPostSubmit(ctx, postEvent("t3_1"))
	require.NoError(t, err)
	assert.Equal(t, types.ActionApprove, d.Action)
	assert.Equal(t, []call{{"approve", "t3_1", ""}}, h.effector.calls)

	ev, err := h.trust.GetTrust(ctx, "u123", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Submitted)
	assert.Equal(t, 1, ev.Approved)

	today := time.Now().UTC().Format("2006-01-02")
	v, err := h.mr.Get(kvstore.NewKeyspace("1").TrackingDecisions("gosub", today, "APPROVE"))
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestOnPostSubmit_FlagsErodeTrust(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.handler.OnPostSubmit(ctx, postEvent(fmt.Sprintf("t3_%d", i)))
		require.NoError(t, err)
	}
	ev, err := h.trust.GetTrust(ctx, "u123", "gosub", types.ContentPost)
	require.NoError(t, err)
	require.True(t, ev.IsTrusted)

	// The account trips Layer 1 from now on; every flag counts against the
	// author's standing.
	h.settings.Layer1.Enabled = true
	h.settings.Layer1.AccountAgeDays = 7
	h.profiles.profile.AccountAgeInDays = 1
	for i := 0; i < 10; i++ {
		d, err := h.handler.OnPostSubmit(ctx, postEvent(fmt.Sprintf("t3_f%d", i)))
		require.NoError(t, err)
		require.Equal(t, types.ActionFlag, d.Action)
	}

	ev, err = h.trust.GetTrust(ctx, "u123", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.Equal(t, 13, ev.Submitted)
	assert.Equal(t, 3, ev.Approved)
	assert.Equal(t, 10, ev.Flagged)
	assert.InDelta(t, 23.08, ev.Score, 0.01)
	assert.False(t, ev.IsTrusted)
}

func TestOnPostSubmit_RemoveLeavesTemplateComment(t *testing.T) {
	h := newHarness(t)
	h.settings.Layer1.Enabled = true
	h.settings.Layer1.Action = "REMOVE"
	h.settings.Layer1.AccountAgeDays = 7
	h.settings.Templates.RemoveTemplate = "Your post was removed."
	h.profiles.profile.AccountAgeInDays = 1

	d, err := h.handler.OnPostSubmit(context.Background(), postEvent("t3_2"))
	require.NoError(t, err)
	assert.Equal(t, types.ActionRemove, d.Action)
	assert.Equal(t, []call{
		{"remove", "t3_2", ""},
		{"comment", "t3_2", "Your post was removed."},
	}, h.effector.calls)
}

func TestOnPostSubmit_RemoveWithoutTemplateSkipsComment(t *testing.T) {
	h := newHarness(t)
	h.settings.Layer1.Enabled = true
	h.settings.Layer1.Action = "REMOVE"
	h.settings.Layer1.AccountAgeDays = 7
	h.profiles.profile.AccountAgeInDays = 1

	_, err := h.handler.OnPostSubmit(context.Background(), postEvent("t3_3"))
	require.NoError(t, err)
	assert.Equal(t, []call{{"remove", "t3_3", ""}}, h.effector.calls)
}

func TestOnPostSubmit_EffectorErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.settings.Layer1.Enabled = true
	h.settings.Layer1.Action = "REMOVE"
	h.settings.Layer1.AccountAgeDays = 7
	h.profiles.profile.AccountAgeInDays = 1
	h.effector.removeErr = errors.New("api down")

	d, err := h.handler.OnPostSubmit(context.Background(), postEvent("t3_4"))
	assert.Error(t, err)
	assert.Equal(t, types.ActionRemove, d.Action)

	// The failed removal counts neither against the author nor in the
	// digest's decision counters.
	ev, terr := h.trust.GetTrust(context.Background(), "u123", "gosub", types.ContentPost)
	require.NoError(t, terr)
	assert.Equal(t, 0, ev.Submitted)

	today := time.Now().UTC().Format("2006-01-02")
	assert.False(t, h.mr.Exists(kvstore.NewKeyspace("1").TrackingDecisions("gosub", today, "REMOVE")))
}

func TestOnPostSubmit_DryRunTouchesNothing(t *testing.T) {
	h := newHarness(t)
	h.settings.DryRun.Enabled = true
	h.settings.Layer1.Enabled = true
	h.settings.Layer1.Action = "REMOVE"
	h.settings.Layer1.AccountAgeDays = 7
	h.profiles.profile.AccountAgeInDays = 1

	d, err := h.handler.OnPostSubmit(context.Background(), postEvent("t3_5"))
	require.NoError(t, err)
	assert.Equal(t, types.ActionRemove, d.Action)
	assert.Empty(t, h.effector.calls)

	ev, terr := h.trust.GetTrust(context.Background(), "u123", "gosub", types.ContentPost)
	require.NoError(t, terr)
	assert.Equal(t, 0, ev.Submitted)
}

func TestOnCommentSubmit_TrustIsPerKind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.handler.OnCommentSubmit(ctx, CommentEvent{
		CommentID:  "t1_1",
		AuthorID:   "u123",
		AuthorName: "alice",
		Subreddit:  "gosub",
		Body:       "nice post",
	})
	require.NoError(t, err)

	comments, err := h.trust.GetTrust(ctx, "u123", "gosub", types.ContentComment)
	require.NoError(t, err)
	assert.Equal(t, 1, comments.Submitted)

	posts, err := h.trust.GetTrust(ctx, "u123", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.Equal(t, 0, posts.Submitted)
}

func TestOnModAction_RetroactiveRemoval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Approve three posts so the author has standing to lose.
	for i := 0; i < 3; i++ {
		_, err := h.handler.OnPostSubmit(ctx, postEvent(fmt.Sprintf("t3_%d", i)))
		require.NoError(t, err)
	}
	before, err := h.trust.GetTrust(ctx, "u123", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.True(t, before.IsTrusted)

	require.NoError(t, h.handler.OnModAction(ctx, ModActionEvent{
		Action:    "removelink",
		TargetID:  "t3_1",
		Moderator: "human-mod",
	}))

	after, err := h.trust.GetTrust(ctx, "u123", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Approved)
	assert.Equal(t, 1, after.Removed)
	assert.Less(t, after.Score, before.Score)
}

func TestOnModAction_IgnoresOwnBotAndUnrelatedActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.handler.OnPostSubmit(ctx, postEvent("t3_1"))
	require.NoError(t, err)

	require.NoError(t, h.handler.OnModAction(ctx, ModActionEvent{
		Action: "removelink", TargetID: "t3_1", Moderator: "automod-bot",
	}))
	require.NoError(t, h.handler.OnModAction(ctx, ModActionEvent{
		Action: "approvelink", TargetID: "t3_1", Moderator: "human-mod",
	}))

	ev, err := h.trust.GetTrust(ctx, "u123", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Approved)
	assert.Equal(t, 0, ev.Removed)
}

func TestOnModAction_ModeratorApprovalCountsTowardTrust(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.handler.OnModAction(ctx, ModActionEvent{
		Action:         "approvelink",
		TargetID:       "t3_manual",
		TargetAuthorID: "u456",
		Moderator:      "human-mod",
		Subreddit:      "gosub",
	}))

	ev, err := h.trust.GetTrust(ctx, "u456", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Submitted)
	assert.Equal(t, 1, ev.Approved)

	// A later removal of the same content takes the approval back.
	require.NoError(t, h.handler.OnModAction(ctx, ModActionEvent{
		Action: "removelink", TargetID: "t3_manual", Moderator: "other-mod",
	}))
	ev, err = h.trust.GetTrust(ctx, "u456", "gosub", types.ContentPost)
	require.NoError(t, err)
	assert.Equal(t, 0, ev.Approved)
	assert.Equal(t, 1, ev.Removed)
}

func TestOnModAction_UnknownTargetIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.handler.OnModAction(context.Background(), ModActionEvent{
		Action: "removecomment", TargetID: "t1_unknown", Moderator: "human-mod",
	}))
}

func TestOnAppInstall_SendsWelcome(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.handler.OnAppInstall(context.Background(), "gosub"))
	require.Len(t, h.sink.messages, 1)
	assert.Equal(t, "modmail", h.sink.messages[0].kind)
	assert.Equal(t, "gosub", h.sink.messages[0].target)
	assert.Contains(t, h.sink.messages[0].subject, "installed")
}

func TestRealtimeNotification(t *testing.T) {
	h := newHarness(t)
	h.settings.Notifications.RealtimeEnabled = true
	h.settings.Layer1.Enabled = true
	h.settings.Layer1.AccountAgeDays = 7
	h.profiles.profile.AccountAgeInDays = 1

	_, err := h.handler.OnPostSubmit(context.Background(), postEvent("t3_9"))
	require.NoError(t, err)

	require.Len(t, h.sink.messages, 1)
	m := h.sink.messages[0]
	assert.Equal(t, "modmail", m.kind)
	assert.Contains(t, m.subject, "FLAG")
	assert.Contains(t, m.body, "Layer: layer1")
}

func TestRealtimeNotification_SpecificRecipients(t *testing.T) {
	h := newHarness(t)
	h.settings.Notifications.RealtimeEnabled = true
	h.settings.Notifications.Recipient = "specific"
	h.settings.Notifications.Usernames = []string{"mod1", "mod2"}
	h.settings.Layer1.Enabled = true
	h.settings.Layer1.AccountAgeDays = 7
	h.profiles.profile.AccountAgeInDays = 1

	_, err := h.handler.OnPostSubmit(context.Background(), postEvent("t3_9"))
	require.NoError(t, err)

	require.Len(t, h.sink.messages, 2)
	assert.Equal(t, "pm", h.sink.messages[0].kind)
	assert.Equal(t, "mod1", h.sink.messages[0].target)
	assert.Equal(t, "mod2", h.sink.messages[1].target)
}

func TestRealtimeNotification_ApproveIsSilent(t *testing.T) {
	h := newHarness(t)
	h.settings.Notifications.RealtimeEnabled = true

	_, err := h.handler.OnPostSubmit(context.Background(), postEvent("t3_10"))
	require.NoError(t, err)
	assert.Empty(t, h.sink.messages)
}

func TestDigest(t *testing.T) {
	h := newHarness(t)
	h.settings.Notifications.DailyDigestEnabled = true

	client := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := kvstore.NewRedisStoreFromClient(client)
	keys := kvstore.NewKeyspace("1")
	tracker := cost.NewTracker(store, keys, cost.Config{
		DailyLimitUSD: 5, MonthlyLimitUSD: 100,
	}, nil)

	ctx := context.Background()
	require.NoError(t, tracker.Record(ctx, cost.Record{
		UserID: "u123", Provider: "openai", CostUSD: 0.35,
	}))

	// Seed yesterday's decision counters.
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	_, err := store.IncrBy(ctx, keys.TrackingDecisions("gosub", yesterday, "REMOVE"), 3)
	require.NoError(t, err)

	digest := NewDigest(h.settings, tracker, store, keys, NewRouter(h.settings, h.sink))
	require.NoError(t, digest.Run(ctx))

	require.Len(t, h.sink.messages, 1)
	m := h.sink.messages[0]
	assert.Contains(t, m.subject, "digest")
	assert.Contains(t, m.body, "$0.35")
	assert.Contains(t, m.body, "openai $0.35")
	assert.Contains(t, m.body, "REMOVE 3")
}

func TestDigest_DisabledStillRollsOver(t *testing.T) {
	h := newHarness(t)
	h.settings.Notifications.DailyDigestEnabled = false

	client := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := kvstore.NewRedisStoreFromClient(client)
	keys := kvstore.NewKeyspace("1")
	tracker := cost.NewTracker(store, keys, cost.Config{DailyLimitUSD: 5}, nil)

	digest := NewDigest(h.settings, tracker, store, keys, NewRouter(h.settings, h.sink))
	require.NoError(t, digest.Run(context.Background()))
	assert.Empty(t, h.sink.messages)
}

func TestNotifyBudget(t *testing.T) {
	h := newHarness(t)
	h.settings.Layer3.BudgetAlertsEnabled = true
	router := NewRouter(h.settings, h.sink)

	require.NoError(t, router.NotifyBudget(context.Background(), cost.AlertExceeded, cost.BudgetStatus{
		DailySpentUSD: 5.10, DailyLimitUSD: 5, PercentUsed: 102,
	}))
	require.Len(t, h.sink.messages, 1)
	assert.Contains(t, h.sink.messages[0].subject, "EXCEEDED")
	assert.Contains(t, h.sink.messages[0].body, "paused")

	h.settings.Layer3.BudgetAlertsEnabled = false
	require.NoError(t, router.NotifyBudget(context.Background(), cost.AlertExceeded, cost.BudgetStatus{}))
	assert.Len(t, h.sink.messages, 1)
}
