package blacklist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Service answers blacklist lookups and applies moderation edits.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "blacklist")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IsBlacklisted checks names against the community list, then the network list.
// Within a list the earliest name in names wins, so callers pass the current
// name first followed by its history.
func (s *Service) IsBlacklisted(ctx context.Context, communityID string, names []string) (Match, bool, error) {
	keys := normalizeKeys(names)
	if len(keys) == 0 {
		return Match{}, false, nil
	}
	local, err := s.store.FindCommunity(ctx, communityID, keys)
	if err != nil {
		return Match{}, false, fmt.Errorf("community blacklist: %w", err)
	}
	if m, ok := firstMatch(ScopeCommunity, keys, local); ok {
		return m, true, nil
	}
	network, err := s.store.FindNetwork(ctx, keys)
	if err != nil {
		return Match{}, false, fmt.Errorf("network blacklist: %w", err)
	}
	m, ok := firstMatch(ScopeNetwork, keys, network)
	return m, ok, nil
}

func firstMatch(scope Scope, keys []string, entries []Entry) (Match, bool) {
	if len(entries) == 0 {
		return Match{}, false
	}
	byKey := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byKey[e.NameKey] = e
	}
	for _, k := range keys {
		if e, ok := byKey[k]; ok {
			return Match{Scope: scope, NameKey: k, Entry: e}, true
		}
	}
	return Match{}, false
}

// Add blacklists name in communityID.
func (s *Service) Add(ctx context.Context, communityID, name, reason, moderator string) (Entry, error) {
	e, err := s.entry(name, reason, moderator)
	if err != nil {
		return Entry{}, err
	}
	if err := s.store.PutCommunity(ctx, communityID, e); err != nil {
		return Entry{}, err
	}
	s.logger.Info("blacklisted name", slog.String("community_id", communityID), slog.String("name", e.NameKey), slog.String("moderator", moderator))
	return e, nil
}

func (s *Service) Remove(ctx context.Context, communityID, name string) error {
	return s.store.DeleteCommunity(ctx, communityID, normalizeKey(name))
}

func (s *Service) List(ctx context.Context, communityID string) ([]Entry, error) {
	return s.store.ListCommunity(ctx, communityID)
}

// AddNetwork blacklists name across every community, recording the origin.
func (s *Service) AddNetwork(ctx context.Context, originCommunity, name, reason, moderator string) (Entry, error) {
	e, err := s.entry(name, reason, moderator)
	if err != nil {
		return Entry{}, err
	}
	e.OriginCommunity = originCommunity
	if err := s.store.PutNetwork(ctx, e); err != nil {
		return Entry{}, err
	}
	s.logger.Info("network blacklisted name", slog.String("origin_community", originCommunity), slog.String("name", e.NameKey), slog.String("moderator", moderator))
	return e, nil
}

func (s *Service) RemoveNetwork(ctx context.Context, name string) error {
	return s.store.DeleteNetwork(ctx, normalizeKey(name))
}

func (s *Service) ListNetwork(ctx context.Context) ([]Entry, error) {
	return s.store.ListNetwork(ctx)
}

func (s *Service) entry(name, reason, moderator string) (Entry, error) {
	key := normalizeKey(name)
	if key == "" {
		return Entry{}, ErrInvalidEntry
	}
	return Entry{
		NameKey:   key,
		Reason:    strings.TrimSpace(reason),
		Moderator: strings.TrimSpace(moderator),
		CreatedAt: s.now(),
	}, nil
}
