package review

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgate/guildgate/internal/channel"
	"github.com/guildgate/guildgate/internal/channel/channeltest"
	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/identity"
	"github.com/guildgate/guildgate/internal/metrics"
	"github.com/guildgate/guildgate/internal/sections"
)

type fixture struct {
	queue    *Queue
	store    *MemoryStore
	gateway  *channeltest.Gateway
	identity *identity.Service
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	secs := sections.NewStaticStore(config.Config{Guilds: []config.GuildConfig{{
		ID: "g1",
		Sections: []config.SectionConfig{
			{ID: "main", Name: "Main", VerificationChannel: "c-verify", VerifiedRole: "r-verified", ManualReviewChannel: "c-review"},
			{ID: "open", VerificationChannel: "c-open", VerifiedRole: "r-open"},
		},
	}}})
	store := NewMemoryStore()
	gw := channeltest.New()
	ids := identity.NewService(nil, identity.NewMemoryStore(), 5)
	m := metrics.New(prometheus.NewRegistry())
	return fixture{
		queue:    NewQueue(nil, store, gw, secs, ids, m),
		store:    store,
		gateway:  gw,
		identity: ids,
		metrics:  m,
	}
}

func snapshot() Snapshot {
	return Snapshot{
		ClaimedName: "Testing",
		Rank:        40,
		Fame:        1200,
		NameHistory: []string{"Testing", "Old"},
		FailReason:  "rank",
		FailDetail:  "Rank 40/50",
	}
}

func TestEnqueuePostsPrompt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.queue.Enqueue(ctx, "g1", "MAIN", "u1", snapshot())
	require.NoError(t, err)

	posted := f.gateway.SentIn("c-review")
	require.Len(t, posted, 1)
	assert.Equal(t, []string{channel.EmojiYes, channel.EmojiNo, channel.EmojiIgnore}, posted[0].Prompt.Reactions)
	assert.Contains(t, posted[0].Prompt.Title, "Testing")

	req, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "main", req.SectionID)
	assert.Equal(t, posted[0].Ref, req.Prompt)

	byPrompt, err := f.queue.FindByPrompt(ctx, posted[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, id, byPrompt.ID)
}

func TestEnqueueWithoutReviewChannel(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Enqueue(context.Background(), "g1", "open", "u1", snapshot())
	assert.ErrorIs(t, err, ErrNoReviewChannel)

	_, err = f.queue.Enqueue(context.Background(), "g1", "missing", "u1", snapshot())
	assert.ErrorIs(t, err, sections.ErrSectionNotFound)
}

func TestEnqueueReplacesPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)
	second, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = f.store.Get(ctx, first)
	assert.ErrorIs(t, err, ErrRequestNotFound)
	assert.Len(t, f.gateway.Deleted(), 1)

	pending, err := f.queue.List(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueueSendFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.SendErr = errors.New("missing permissions")
	_, err := f.queue.Enqueue(context.Background(), "g1", "main", "u1", snapshot())
	require.Error(t, err)

	pending, err := f.queue.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

type failingPromptStore struct {
	*MemoryStore
}

func (failingPromptStore) SetPrompt(context.Context, string, channel.MessageRef) error {
	return errors.New("connection reset")
}

func TestEnqueuePromptStoreFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	secs := sections.NewStaticStore(config.Config{Guilds: []config.GuildConfig{{
		ID:       "g1",
		Sections: []config.SectionConfig{{ID: "main", VerificationChannel: "c-verify", ManualReviewChannel: "c-review"}},
	}}})
	queue := NewQueue(nil, failingPromptStore{f.store}, f.gateway, secs, f.identity, f.metrics)

	_, err := queue.Enqueue(context.Background(), "g1", "main", "u1", snapshot())
	require.Error(t, err)

	posted := f.gateway.SentIn("c-review")
	require.Len(t, posted, 1)
	assert.Equal(t, []channel.MessageRef{posted[0].Ref}, f.gateway.Deleted())
	pending, err := f.store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestResolveAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)

	_, err = f.queue.Resolve(ctx, id, OutcomeAccept, "mod")
	require.NoError(t, err)

	assert.Equal(t, []channeltest.Grant{{GuildID: "g1", UserID: "u1", RoleID: "r-verified"}}, f.gateway.Grants())
	rec, err := f.identity.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "testing", rec.Primary.Key)

	dms := f.gateway.SentTo("u1")
	require.Len(t, dms, 1)
	assert.Equal(t, "Verification approved", dms[0].Prompt.Title)
	assert.Len(t, f.gateway.Edited(), 1)

	_, err = f.store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrRequestNotFound)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReviewsResolved.WithLabelValues("accept")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Reconciliations.WithLabelValues("created")))
}

func TestResolveAcceptWithConflictStillGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.identity.Reconcile(ctx, "u1", "Mine", nil)
	require.NoError(t, err)
	_, err = f.identity.Reconcile(ctx, "u2", "Testing", nil)
	require.NoError(t, err)

	id, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)
	_, err = f.queue.Resolve(ctx, id, OutcomeAccept, "mod")
	require.NoError(t, err)
	assert.Len(t, f.gateway.Grants(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Reconciliations.WithLabelValues("conflict")))
}

func TestResolveAcceptRoleFailureKeepsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)

	f.gateway.GrantErr = errors.New("forbidden")
	_, err = f.queue.Resolve(ctx, id, OutcomeAccept, "mod")
	require.Error(t, err)

	_, err = f.store.Get(ctx, id)
	assert.NoError(t, err)
}

func TestResolveDenyNotifiesReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)

	_, err = f.queue.Resolve(ctx, id, OutcomeDeny, "mod")
	require.NoError(t, err)

	dms := f.gateway.SentTo("u1")
	require.Len(t, dms, 1)
	require.Len(t, dms[0].Prompt.Fields, 1)
	assert.Equal(t, "Rank 40/50", dms[0].Prompt.Fields[0].Value)
	assert.Empty(t, f.gateway.Grants())

	_, err = f.queue.Resolve(ctx, id, OutcomeDeny, "mod")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestResolveIgnoreKeepsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)

	_, err = f.queue.Resolve(ctx, id, OutcomeIgnore, "mod")
	require.NoError(t, err)
	_, err = f.store.Get(ctx, id)
	assert.NoError(t, err)
	assert.Empty(t, f.gateway.SentTo("u1"))
}

func TestResolveConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resolved int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.queue.Resolve(ctx, id, OutcomeDeny, "mod"); err == nil {
				mu.Lock()
				resolved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, resolved)
	assert.Len(t, f.gateway.SentTo("u1"), 1)
}

func TestPurgeForDeparture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "g1", "main", "u2", snapshot())
	require.NoError(t, err)

	n, err := f.queue.PurgeForDeparture(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.gateway.Deleted(), 1)

	pending, err := f.queue.List(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u2", pending[0].UserID)

	n, err = f.queue.PurgeForDeparture(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepDeparted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.queue.Enqueue(ctx, "g1", "main", "u1", snapshot())
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "g1", "main", "u2", snapshot())
	require.NoError(t, err)

	f.gateway.SetAbsent("g1", "u2")
	n, err := f.queue.SweepDeparted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.queue.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u1", pending[0].UserID)
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		raw     string
		want    Outcome
		wantErr bool
	}{
		{"accept", OutcomeAccept, false},
		{" DENY ", OutcomeDeny, false},
		{channel.EmojiYes, OutcomeAccept, false},
		{channel.EmojiNo, OutcomeDeny, false},
		{channel.EmojiIgnore, OutcomeIgnore, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseOutcome(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOutcome)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
