package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultMaxAlternates = 5
	maxWriteRetries      = 5
)

// Service implements lookup, reconciliation and user-directed edits over a Store.
// Every write is an optimistic read-modify-write that restarts from a fresh read
// when a concurrent writer wins.
type Service struct {
	store         Store
	maxAlternates int
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates an identity service.
func NewService(log *slog.Logger, store Store, maxAlternates int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if maxAlternates <= 0 {
		maxAlternates = defaultMaxAlternates
	}
	return &Service{
		store:         store,
		maxAlternates: maxAlternates,
		logger:        log.With(slog.String("service", "identity")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// FindByOwner returns the record owned by a chat account.
func (s *Service) FindByOwner(ctx context.Context, ownerID string) (Record, error) {
	return s.store.GetByOwner(ctx, strings.TrimSpace(ownerID))
}

// FindByNameKey returns the record holding an external name as primary or alternate.
func (s *Service) FindByNameKey(ctx context.Context, nameKey string) (Record, error) {
	return s.store.GetByNameKey(ctx, NormalizeName(nameKey))
}

// Reconcile folds a successful verification of verifiedName by ownerID into the
// store. history is the account's rename history, newest first, entry 0 being
// the current name. When two different records claim the identity the result
// has OutcomeConflict and the error is ErrConflict; nothing is written.
func (s *Service) Reconcile(ctx context.Context, ownerID, verifiedName string, history []string) (Result, error) {
	ownerID = strings.TrimSpace(ownerID)
	name := NewName(verifiedName)
	if ownerID == "" || name.Key == "" {
		return Result{}, ErrInvalidName
	}
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		res, err := s.reconcileOnce(ctx, ownerID, name, history)
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNameTaken) || errors.Is(err, ErrOwnerTaken) {
			s.logger.Debug("reconcile retry", slog.String("owner_id", ownerID), slog.String("name", name.Key), slog.Int("attempt", attempt+1), slog.Any("error", err))
			continue
		}
		if err == nil {
			s.logger.Info("reconciled identity",
				slog.String("owner_id", ownerID),
				slog.String("name", name.Display),
				slog.String("outcome", string(res.Outcome)),
				slog.String("record_id", res.Record.ID),
			)
		}
		return res, err
	}
	return Result{}, fmt.Errorf("reconcile %s: %w after %d attempts", name.Key, ErrVersionConflict, maxWriteRetries)
}

func (s *Service) reconcileOnce(ctx context.Context, ownerID string, name Name, history []string) (Result, error) {
	byOwner, ownerFound, err := s.lookup(s.store.GetByOwner(ctx, ownerID))
	if err != nil {
		return Result{}, fmt.Errorf("lookup owner: %w", err)
	}
	byName, nameFound, err := s.lookup(s.store.GetByNameKey(ctx, name.Key))
	if err != nil {
		return Result{}, fmt.Errorf("lookup name: %w", err)
	}

	switch {
	case !ownerFound && !nameFound:
		rec, err := s.store.Insert(ctx, Record{
			OwnerID:      ownerID,
			Primary:      name,
			LastModified: s.now(),
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeCreated, Record: rec}, nil

	case ownerFound && !nameFound:
		return s.relinkOwner(ctx, byOwner, name, history)

	case !ownerFound && nameFound:
		if byName.OwnerID != "" {
			return Result{Outcome: OutcomeConflict, Record: byName, ConflictingIDs: []string{byName.ID}}, ErrConflict
		}
		rec := byName.Clone()
		rec.OwnerID = ownerID
		rec.LastModified = s.now()
		rec, err := s.store.Update(ctx, rec)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeClaimed, Record: rec}, nil

	case byOwner.ID == byName.ID:
		return Result{Outcome: OutcomeUnchanged, Record: byOwner}, nil

	default:
		return Result{
			Outcome:        OutcomeConflict,
			Record:         byOwner,
			ConflictingIDs: []string{byOwner.ID, byName.ID},
		}, ErrConflict
	}
}

// relinkOwner handles a verified name the owner's record does not hold yet: either
// one of its names was renamed in game, or this is a new account that becomes primary.
func (s *Service) relinkOwner(ctx context.Context, current Record, name Name, history []string) (Result, error) {
	rec := current.Clone()
	previous := history
	if len(previous) > 0 {
		previous = previous[1:]
	}

	res := Result{}
	for _, old := range previous {
		key := NormalizeName(old)
		if key == "" {
			continue
		}
		if key == rec.Primary.Key {
			res.Outcome = OutcomePrimaryRenamed
			res.Rename = &Rename{From: rec.Primary.Display, To: name.Display}
			rec.Primary = name
			break
		}
		if i := rec.AlternateIndex(key); i >= 0 {
			res.Outcome = OutcomeAlternateRenamed
			res.Rename = &Rename{From: rec.Alternates[i].Display, To: name.Display}
			rec.Alternates[i] = name
			break
		}
	}

	if res.Outcome == "" {
		if rec.Primary.Key != "" {
			if len(rec.Alternates) >= s.maxAlternates {
				return Result{Outcome: OutcomeUnchanged, Record: current}, ErrAlternateLimit
			}
			rec.Alternates = append(rec.Alternates, rec.Primary)
		}
		rec.Primary = name
		res.Outcome = OutcomeAlternateAdded
	}

	rec.LastModified = s.now()
	updated, err := s.store.Update(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	res.Record = updated
	return res, nil
}

// AddAlternate links a newly verified account as an alternate of the owner's record,
// creating the record with the name as primary if the owner has none.
func (s *Service) AddAlternate(ctx context.Context, ownerID, displayName string) (Record, error) {
	name := NewName(displayName)
	if name.Key == "" {
		return Record{}, ErrInvalidName
	}
	return s.mutate(ctx, ownerID, func(rec *Record, found bool) error {
		holder, held, err := s.lookup(s.store.GetByNameKey(ctx, name.Key))
		if err != nil {
			return err
		}
		if held && (!found || holder.ID != rec.ID) {
			return ErrConflict
		}
		if !found {
			rec.Primary = name
			return nil
		}
		if rec.HasKey(name.Key) {
			return errUnchanged
		}
		if len(rec.Alternates) >= s.maxAlternates {
			return ErrAlternateLimit
		}
		rec.Alternates = append(rec.Alternates, name)
		return nil
	})
}

// UnlinkAlternate removes an alternate from the owner's record.
func (s *Service) UnlinkAlternate(ctx context.Context, ownerID, nameKey string) (Record, error) {
	key := NormalizeName(nameKey)
	return s.mutate(ctx, ownerID, func(rec *Record, found bool) error {
		if !found {
			return ErrRecordNotFound
		}
		i := rec.AlternateIndex(key)
		if i < 0 {
			return ErrNameNotLinked
		}
		rec.Alternates = append(rec.Alternates[:i], rec.Alternates[i+1:]...)
		return nil
	})
}

// PromoteAlternate swaps an alternate with the primary name.
func (s *Service) PromoteAlternate(ctx context.Context, ownerID, nameKey string) (Record, error) {
	key := NormalizeName(nameKey)
	return s.mutate(ctx, ownerID, func(rec *Record, found bool) error {
		if !found {
			return ErrRecordNotFound
		}
		i := rec.AlternateIndex(key)
		if i < 0 {
			return ErrNameNotLinked
		}
		rec.Primary, rec.Alternates[i] = rec.Alternates[i], rec.Primary
		return nil
	})
}

// IncrementActivity adds amount to one counter of the owner's record in a community.
// Counters for a community are appended on first use and updated in place afterwards.
func (s *Service) IncrementActivity(ctx context.Context, ownerID, communityID string, kind ActivityKind, amount int) (ActivityCounters, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return ActivityCounters{}, errors.New("community id is required")
	}
	rec, err := s.mutate(ctx, ownerID, func(rec *Record, found bool) error {
		if !found {
			return ErrRecordNotFound
		}
		for i := range rec.Activity {
			if rec.Activity[i].CommunityID == communityID {
				rec.Activity[i].add(kind, amount)
				return nil
			}
		}
		counters := ActivityCounters{CommunityID: communityID}
		counters.add(kind, amount)
		rec.Activity = append(rec.Activity, counters)
		return nil
	})
	if err != nil {
		return ActivityCounters{}, err
	}
	return rec.ActivityFor(communityID), nil
}

// Unlink hard-deletes the owner's record. This is the admin escape hatch.
func (s *Service) Unlink(ctx context.Context, ownerID string) error {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		rec, err := s.store.GetByOwner(ctx, strings.TrimSpace(ownerID))
		if err != nil {
			return err
		}
		err = s.store.Delete(ctx, rec.ID, rec.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err == nil {
			s.logger.Info("unlinked identity", slog.String("owner_id", ownerID), slog.String("record_id", rec.ID))
		}
		return err
	}
	return ErrVersionConflict
}

var errUnchanged = errors.New("unchanged")

// mutate runs fn against the owner's current record (or an empty one when absent)
// and writes the result, retrying on concurrent modification.
func (s *Service) mutate(ctx context.Context, ownerID string, fn func(rec *Record, found bool) error) (Record, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Record{}, ErrRecordNotFound
	}
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		current, found, err := s.lookup(s.store.GetByOwner(ctx, ownerID))
		if err != nil {
			return Record{}, err
		}
		rec := current.Clone()
		if !found {
			rec = Record{OwnerID: ownerID}
		}
		if err := fn(&rec, found); err != nil {
			if errors.Is(err, errUnchanged) {
				return current, nil
			}
			return Record{}, err
		}
		rec.LastModified = s.now()
		var written Record
		if found {
			written, err = s.store.Update(ctx, rec)
		} else {
			written, err = s.store.Insert(ctx, rec)
		}
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNameTaken) || errors.Is(err, ErrOwnerTaken) {
			continue
		}
		return written, err
	}
	return Record{}, ErrVersionConflict
}

func (s *Service) lookup(rec Record, err error) (Record, bool, error) {
	if errors.Is(err, ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}
