package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgate/guildgate/internal/channel"
	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/logger"
	"github.com/guildgate/guildgate/internal/review"
	"github.com/guildgate/guildgate/internal/sections"
	"github.com/guildgate/guildgate/internal/verification"
)

type fakeVerifier struct {
	mu       sync.Mutex
	started  []verification.Request
	canceled []string
	all      []string
	block    bool
}

func (f *fakeVerifier) Start(ctx context.Context, req verification.Request) (verification.Outcome, error) {
	f.mu.Lock()
	f.started = append(f.started, req)
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return verification.Outcome{State: verification.StateCanceled}, nil
	}
	return verification.Outcome{State: verification.StateSuccess}, nil
}

func (f *fakeVerifier) Cancel(guildID, userID, sectionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, guildID+"/"+userID+"/"+sectionID)
	return true
}

func (f *fakeVerifier) CancelAll(guildID, userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, guildID+"/"+userID)
	return 1
}

func (f *fakeVerifier) snapshot() ([]verification.Request, []string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]verification.Request(nil), f.started...), append([]string(nil), f.canceled...), append([]string(nil), f.all...)
}

type resolution struct {
	id       string
	outcome  review.Outcome
	resolver string
}

type fakeReviews struct {
	mu       sync.Mutex
	byPrompt map[string]review.Request
	resolved []resolution
	purged   []string
}

func (f *fakeReviews) FindByPrompt(_ context.Context, ref channel.MessageRef) (review.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.byPrompt[ref.MessageID]
	if !ok {
		return review.Request{}, review.ErrRequestNotFound
	}
	return req, nil
}

func (f *fakeReviews) Resolve(_ context.Context, id string, outcome review.Outcome, resolver string) (review.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, resolution{id: id, outcome: outcome, resolver: resolver})
	return review.Request{ID: id}, nil
}

func (f *fakeReviews) PurgeForDeparture(_ context.Context, communityID, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, communityID+"/"+userID)
	return 1, nil
}

func (f *fakeReviews) snapshot() ([]resolution, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resolution(nil), f.resolved...), append([]string(nil), f.purged...)
}

func newTestRouter(t *testing.T) (*Router, *fakeVerifier, *fakeReviews) {
	t.Helper()
	secs := sections.NewStaticStore(config.Config{Guilds: []config.GuildConfig{{
		ID: "g1",
		Sections: []config.SectionConfig{
			{ID: "main", VerificationChannel: "c-verify", ManualReviewChannel: "c-review"},
		},
	}}})
	v := &fakeVerifier{}
	rv := &fakeReviews{byPrompt: map[string]review.Request{
		"p1": {ID: "r1", CommunityID: "g1", SectionID: "main", UserID: "u1"},
	}}
	r := New(logger.Discard(), v, rv, secs, config.DiscordConfig{VerifyKeyword: "Verify"})
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return r, v, rv
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content string
		want    Command
	}{
		{"verify", CommandVerify},
		{"  VERIFY ", CommandVerify},
		{"verify alt", CommandVerifyAlternate},
		{"verify   Alt", CommandVerifyAlternate},
		{"cancel", CommandCancel},
		{"verify me", CommandNone},
		{"hello", CommandNone},
		{"", CommandNone},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand("verify", tt.content))
		})
	}
}

func TestVerifyCommandStartsSession(t *testing.T) {
	r, v, _ := newTestRouter(t)
	ctx := context.Background()

	r.HandleMessage(ctx, channel.MessageEvent{GuildID: "g1", ChannelID: "c-verify", UserID: "u1", Content: "verify"})
	r.HandleMessage(ctx, channel.MessageEvent{GuildID: "g1", ChannelID: "c-verify", UserID: "u2", Content: "verify alt"})
	r.HandleMessage(ctx, channel.MessageEvent{GuildID: "g1", ChannelID: "c-general", UserID: "u3", Content: "verify"})
	r.HandleMessage(ctx, channel.MessageEvent{ChannelID: "dm-u4", UserID: "u4", Content: "verify"})

	require.Eventually(t, func() bool {
		started, _, _ := v.snapshot()
		return len(started) == 2
	}, time.Second, 5*time.Millisecond)
	started, _, _ := v.snapshot()
	modes := map[string]verification.Mode{}
	for _, req := range started {
		assert.Equal(t, "g1", req.GuildID)
		assert.Equal(t, "main", req.SectionID)
		modes[req.UserID] = req.Mode
	}
	assert.Equal(t, map[string]verification.Mode{"u1": verification.ModeVerify, "u2": verification.ModeAlternate}, modes)
}

func TestCancelCommand(t *testing.T) {
	r, v, _ := newTestRouter(t)
	r.HandleMessage(context.Background(), channel.MessageEvent{GuildID: "g1", ChannelID: "c-verify", UserID: "u1", Content: "Cancel"})
	require.Eventually(t, func() bool {
		_, canceled, _ := v.snapshot()
		return len(canceled) == 1
	}, time.Second, 5*time.Millisecond)
	_, canceled, _ := v.snapshot()
	assert.Equal(t, []string{"g1/u1/main"}, canceled)
}

func TestReviewReactionResolves(t *testing.T) {
	r, _, rv := newTestRouter(t)
	ctx := context.Background()

	r.HandleReaction(ctx, channel.ReactionEvent{GuildID: "g1", ChannelID: "c-review", MessageID: "p1", UserID: "mod", Emoji: "🎉"})
	r.HandleReaction(ctx, channel.ReactionEvent{GuildID: "g1", ChannelID: "c-review", MessageID: "p1", UserID: "u1", Emoji: channel.EmojiYes})
	r.HandleReaction(ctx, channel.ReactionEvent{GuildID: "g1", ChannelID: "c-verify", MessageID: "p1", UserID: "mod", Emoji: channel.EmojiYes})
	r.HandleReaction(ctx, channel.ReactionEvent{GuildID: "g1", ChannelID: "c-review", MessageID: "unknown", UserID: "mod", Emoji: channel.EmojiYes})
	r.HandleReaction(ctx, channel.ReactionEvent{GuildID: "g1", ChannelID: "c-review", MessageID: "p1", UserID: "mod", Emoji: channel.EmojiNo})

	require.Eventually(t, func() bool {
		resolved, _ := rv.snapshot()
		return len(resolved) == 1
	}, time.Second, 5*time.Millisecond)
	resolved, _ := rv.snapshot()
	assert.Equal(t, resolution{id: "r1", outcome: review.OutcomeDeny, resolver: "mod"}, resolved[0])
}

func TestMemberRemovePurgesAndCancels(t *testing.T) {
	r, v, rv := newTestRouter(t)
	r.HandleMemberRemove(context.Background(), channel.MemberEvent{GuildID: "g1", UserID: "u1"})
	require.Eventually(t, func() bool {
		_, purged := rv.snapshot()
		_, _, all := v.snapshot()
		return len(purged) == 1 && len(all) == 1
	}, time.Second, 5*time.Millisecond)
	_, purged := rv.snapshot()
	assert.Equal(t, []string{"g1/u1"}, purged)
	_, _, all := v.snapshot()
	assert.Equal(t, []string{"g1/u1"}, all)
}

func TestStopCancelsSessions(t *testing.T) {
	r, v, _ := newTestRouter(t)
	v.mu.Lock()
	v.block = true
	v.mu.Unlock()
	r.HandleMessage(context.Background(), channel.MessageEvent{GuildID: "g1", ChannelID: "c-verify", UserID: "u1", Content: "verify"})
	require.Eventually(t, func() bool {
		started, _, _ := v.snapshot()
		return len(started) == 1
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Error(t, r.enqueue(context.Background(), "message", func(context.Context) {}))
}
