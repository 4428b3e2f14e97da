package identity

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgate/guildgate/internal/logger"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(logger.Discard(), store, 3), store
}

func TestReconcileCreatesRecord(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Reconcile(ctx, "u1", "Testing", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "testing", res.Record.Primary.Key)
	assert.Equal(t, "Testing", res.Record.Primary.Display)
	assert.Equal(t, "u1", res.Record.OwnerID)
	assert.False(t, res.Record.LastModified.IsZero())
	assert.Len(t, store.All(), 1)
}

func TestReconcilePrimaryRename(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, "u1", "OldName", nil)
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, "u1", "NewName", []string{"NewName", "OldName"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePrimaryRenamed, res.Outcome)
	assert.Equal(t, "newname", res.Record.Primary.Key)
	assert.Empty(t, res.Record.Alternates)
	require.NotNil(t, res.Rename)
	assert.Equal(t, Rename{From: "OldName", To: "NewName"}, *res.Rename)
	assert.Len(t, store.All(), 1)

	_, err = svc.FindByNameKey(ctx, "oldname")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReconcileAlternateRename(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, "u1", "Main", nil)
	require.NoError(t, err)
	_, err = svc.AddAlternate(ctx, "u1", "AltOne")
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, "u1", "AltTwo", []string{"AltTwo", "Something", "AltOne"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlternateRenamed, res.Outcome)
	assert.Equal(t, "main", res.Record.Primary.Key)
	assert.Equal(t, []Name{NewName("AltTwo")}, res.Record.Alternates)
	assert.Equal(t, &Rename{From: "AltOne", To: "AltTwo"}, res.Rename)
}

func TestReconcileNewAlternatePromotesVerifiedName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, "u1", "Main", nil)
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, "u1", "Second", []string{"Second"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlternateAdded, res.Outcome)
	assert.Equal(t, "second", res.Record.Primary.Key)
	assert.Equal(t, []Name{NewName("Main")}, res.Record.Alternates)
	assert.Nil(t, res.Rename)
}

func TestReconcileAlternateLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, n := range []string{"A", "B", "C", "D"} {
		_, err := svc.Reconcile(ctx, "u1", n, nil)
		require.NoError(t, err)
	}
	res, err := svc.Reconcile(ctx, "u1", "E", nil)
	assert.ErrorIs(t, err, ErrAlternateLimit)
	assert.Equal(t, "d", res.Record.Primary.Key)
	assert.Len(t, res.Record.Alternates, 3)
}

func TestReconcileClaimsOwnerlessRecord(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, Record{Primary: NewName("Orphan")})
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, "u9", "Orphan", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimed, res.Outcome)
	assert.Equal(t, "u9", res.Record.OwnerID)
	assert.Len(t, store.All(), 1)
}

func TestReconcileNameOwnedByAnotherUser(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, "u1", "Shared", nil)
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, "u2", "Shared", nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Len(t, store.All(), 1)
}

func TestReconcileTwoRecordsConflict(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, "u1", "Mine", nil)
	require.NoError(t, err)
	other, err := store.Insert(ctx, Record{Primary: NewName("Theirs")})
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, "u1", "Theirs", nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Contains(t, res.ConflictingIDs, other.ID)

	mine, err := svc.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "mine", mine.Primary.Key)
	assert.Empty(t, mine.Alternates)
}

func TestReconcileIsIdempotent(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(svc *Service)
		verify  string
		history []string
	}{
		{"create", func(*Service) {}, "Testing", nil},
		{"rename", func(svc *Service) {
			_, _ = svc.Reconcile(context.Background(), "u1", "OldName", nil)
		}, "NewName", []string{"NewName", "OldName"}},
		{"new alternate", func(svc *Service) {
			_, _ = svc.Reconcile(context.Background(), "u1", "Main", nil)
		}, "Other", []string{"Other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()
			tt.setup(svc)

			first, err := svc.Reconcile(ctx, "u1", tt.verify, tt.history)
			require.NoError(t, err)
			second, err := svc.Reconcile(ctx, "u1", tt.verify, tt.history)
			require.NoError(t, err)
			assert.Equal(t, OutcomeUnchanged, second.Outcome)
			assert.Equal(t, first.Record.Primary, second.Record.Primary)
			assert.Equal(t, first.Record.Alternates, second.Record.Alternates)
			assert.Equal(t, first.Record.Version, second.Record.Version)
		})
	}
}

func TestReconcileUniquenessUnderRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	names := []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot"}
	owners := []string{"u1", "u2", "u3", "u4"}

	for round := 0; round < 50; round++ {
		svc, store := newTestService(t)
		ctx := context.Background()
		for step := 0; step < 30; step++ {
			verified := names[rng.IntN(len(names))]
			history := []string{verified}
			for range rng.IntN(3) {
				history = append(history, names[rng.IntN(len(names))])
			}
			_, _ = svc.Reconcile(ctx, owners[rng.IntN(len(owners))], verified, history)
		}

		seenKeys := map[string]string{}
		seenOwners := map[string]string{}
		for _, rec := range store.All() {
			for _, key := range rec.Keys() {
				if prev, ok := seenKeys[key]; ok {
					t.Fatalf("round %d: key %q held by %s and %s", round, key, prev, rec.ID)
				}
				seenKeys[key] = rec.ID
			}
			if rec.OwnerID != "" {
				if prev, ok := seenOwners[rec.OwnerID]; ok {
					t.Fatalf("round %d: owner %q has records %s and %s", round, rec.OwnerID, prev, rec.ID)
				}
				seenOwners[rec.OwnerID] = rec.ID
			}
		}
	}
}

func TestReconcileConcurrentSameOwner(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reconcile(ctx, "u1", "Racer", nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	require.Len(t, store.All(), 1)
	assert.Equal(t, "racer", store.All()[0].Primary.Key)
}

// flakyStore fails the first n updates with a version conflict.
type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (s *flakyStore) Update(ctx context.Context, rec Record) (Record, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return Record{}, ErrVersionConflict
	}
	return s.MemoryStore.Update(ctx, rec)
}

func TestReconcileRetriesOnVersionConflict(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	svc := NewService(logger.Discard(), store, 3)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, "u1", "OldName", nil)
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, "u1", "NewName", []string{"NewName", "OldName"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePrimaryRenamed, res.Outcome)
	assert.Equal(t, 3, store.calls)

	store.failures = maxWriteRetries
	_, err = svc.Reconcile(ctx, "u1", "Newer", []string{"Newer", "NewName"})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestReconcileRejectsEmptyInput(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Reconcile(context.Background(), "", "Name", nil)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = svc.Reconcile(context.Background(), "u1", "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestAlternateEdits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.AddAlternate(ctx, "u1", "Main")
	require.NoError(t, err)
	assert.Equal(t, "main", rec.Primary.Key, "first account becomes primary")

	rec, err = svc.AddAlternate(ctx, "u1", "Alt")
	require.NoError(t, err)
	assert.Equal(t, []Name{NewName("Alt")}, rec.Alternates)

	again, err := svc.AddAlternate(ctx, "u1", "alt")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, again.Version)

	_, err = svc.AddAlternate(ctx, "u2", "Alt")
	assert.ErrorIs(t, err, ErrConflict)

	rec, err = svc.PromoteAlternate(ctx, "u1", "ALT")
	require.NoError(t, err)
	assert.Equal(t, "alt", rec.Primary.Key)
	assert.Equal(t, []Name{NewName("Main")}, rec.Alternates)

	_, err = svc.PromoteAlternate(ctx, "u1", "nobody")
	assert.ErrorIs(t, err, ErrNameNotLinked)

	rec, err = svc.UnlinkAlternate(ctx, "u1", "main")
	require.NoError(t, err)
	assert.Empty(t, rec.Alternates)

	_, err = svc.UnlinkAlternate(ctx, "u3", "main")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAddAlternateLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddAlternate(ctx, "u1", "Main")
	require.NoError(t, err)
	for i := range 3 {
		_, err := svc.AddAlternate(ctx, "u1", fmt.Sprintf("Alt%c", 'a'+i))
		require.NoError(t, err)
	}
	_, err = svc.AddAlternate(ctx, "u1", "Altz")
	assert.ErrorIs(t, err, ErrAlternateLimit)
}

func TestIncrementActivity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.IncrementActivity(ctx, "u1", "g1", ActivityPopped, 1)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = svc.Reconcile(ctx, "u1", "Runner", nil)
	require.NoError(t, err)

	c, err := svc.IncrementActivity(ctx, "u1", "g1", ActivityPopped, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Popped)
	c, err = svc.IncrementActivity(ctx, "u1", "g1", ActivityRunsLed, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Popped)
	assert.Equal(t, 1, c.RunsLed)
	_, err = svc.IncrementActivity(ctx, "u1", "g2", ActivityStored, 5)
	require.NoError(t, err)

	rec, err := svc.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, rec.Communities())
	assert.Equal(t, 5, rec.ActivityFor("g2").Stored)
}

func TestUnlink(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	_, err := svc.Reconcile(ctx, "u1", "Gone", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Unlink(ctx, "u1"))
	assert.Empty(t, store.All())
	assert.ErrorIs(t, svc.Unlink(ctx, "u1"), ErrRecordNotFound)
}

func TestParseActivityKind(t *testing.T) {
	k, ok := ParseActivityKind(" Runs_Led ")
	assert.True(t, ok)
	assert.Equal(t, ActivityRunsLed, k)
	_, ok = ParseActivityKind("keys")
	assert.False(t, ok)
}
