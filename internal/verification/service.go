package verification

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guildgate/guildgate/internal/blacklist"
	"github.com/guildgate/guildgate/internal/channel"
	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/identity"
	"github.com/guildgate/guildgate/internal/logger"
	"github.com/guildgate/guildgate/internal/metrics"
	"github.com/guildgate/guildgate/internal/profile"
	"github.com/guildgate/guildgate/internal/review"
	"github.com/guildgate/guildgate/internal/sections"
)

const (
	finalMessageTimeout = 10 * time.Second
	workTimeout         = time.Minute
	propagateTimeout    = 2 * time.Minute
	propagateWorkers    = 4
)

// IdentityStore is the part of identity.Service a session uses.
type IdentityStore interface {
	FindByOwner(ctx context.Context, ownerID string) (identity.Record, error)
	Reconcile(ctx context.Context, ownerID, verifiedName string, history []string) (identity.Result, error)
	AddAlternate(ctx context.Context, ownerID, displayName string) (identity.Record, error)
}

// Blacklist is satisfied by *blacklist.Service.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, communityID string, names []string) (blacklist.Match, bool, error)
}

// ReviewQueue is satisfied by *review.Queue.
type ReviewQueue interface {
	Enqueue(ctx context.Context, communityID, sectionID, userID string, snap review.Snapshot) (string, error)
}

// Deps are the collaborators of every session.
type Deps struct {
	Gateway   channel.Gateway
	Profiles  profile.Fetcher
	Identity  IdentityStore
	Blacklist Blacklist
	Reviews   ReviewQueue
	Sections  sections.Store
	Metrics   *metrics.Metrics
}

// Service starts sessions and keeps the registry of sessions in progress,
// keyed by member and section.
type Service struct {
	gateway         channel.Gateway
	profiles        profile.Fetcher
	identity        IdentityStore
	blacklist       Blacklist
	reviews         ReviewQueue
	sections        sections.Store
	metrics         *metrics.Metrics
	timeouts        config.Timeouts
	challengeLength int
	newCode         func(n int) string
	logger          *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	background sync.WaitGroup
}

func NewService(log *slog.Logger, deps Deps, cfg config.VerificationConfig) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	timeouts, err := cfg.ParseTimeouts()
	if err != nil {
		return nil, fmt.Errorf("verification config: %w", err)
	}
	length := cfg.ChallengeLength
	if length <= 0 {
		length = config.DefaultChallengeLength
	}
	return &Service{
		gateway:         deps.Gateway,
		profiles:        deps.Profiles,
		identity:        deps.Identity,
		blacklist:       deps.Blacklist,
		reviews:         deps.Reviews,
		sections:        deps.Sections,
		metrics:         deps.Metrics,
		timeouts:        timeouts,
		challengeLength: length,
		newCode:         NewChallengeCode,
		logger:          log.With(slog.String("service", "verification")),
		sessions:        map[string]*session{},
	}, nil
}

func registryKey(guildID, userID, sectionID string) string {
	return guildID + "/" + userID + "/" + strings.ToLower(strings.TrimSpace(sectionID))
}

// Start runs a session to its end and returns how it finished. It returns
// ErrSessionActive without side effects when the member already has a session
// in progress for the section.
func (s *Service) Start(ctx context.Context, req Request) (Outcome, error) {
	sec, err := s.sections.Get(req.GuildID, req.SectionID)
	if err != nil {
		return Outcome{}, err
	}
	if req.Mode == "" {
		req.Mode = ModeVerify
	}
	req.SectionID = sec.ID

	log := s.logger.With(
		slog.String("user_id", req.UserID),
		slog.String("guild_id", req.GuildID),
		slog.String("section", sec.ID),
		slog.String("mode", string(req.Mode)),
	)
	sessCtx, cancel := context.WithCancelCause(ctx)
	sess := &session{
		svc:     s,
		req:     req,
		section: sec,
		logger:  log,
		dm:      channel.Target{UserID: req.UserID},
		started: time.Now(),
		ctx:     logger.WithContext(sessCtx, log),
		cancel:  cancel,
	}

	key := registryKey(req.GuildID, req.UserID, sec.ID)
	s.mu.Lock()
	if _, busy := s.sessions[key]; busy {
		s.mu.Unlock()
		cancel(nil)
		return Outcome{}, ErrSessionActive
	}
	s.sessions[key] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, key)
		s.mu.Unlock()
	}()

	s.metrics.SessionStarted()
	log.Info("verification started")
	return sess.run(), nil
}

// Cancel requests cancellation of a member's session. It reports false when no
// session is active or when the session is in a state that ignores input.
func (s *Service) Cancel(guildID, userID, sectionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[registryKey(guildID, userID, sectionID)]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return sess.requestCancel()
}

// CancelAll cancels every session of userID in guildID, for example when they
// leave it.
func (s *Service) CancelAll(guildID, userID string) int {
	s.mu.Lock()
	var targets []*session
	for _, sess := range s.sessions {
		if sess.req.GuildID == guildID && sess.req.UserID == userID {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()
	n := 0
	for _, sess := range targets {
		if sess.requestCancel() {
			n++
		}
	}
	return n
}

// Active returns the state of a member's session, if any.
func (s *Service) Active(guildID, userID, sectionID string) (State, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[registryKey(guildID, userID, sectionID)]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return sess.State(), true
}

// Wait blocks until background rename propagation has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// propagateRename rewrites the display label of userID in every known community
// where it still carries the old name. It runs detached from the session and
// ignores per-community failures.
func (s *Service) propagateRename(userID string, rec identity.Record, rename identity.Rename) {
	guilds := s.sections.Guilds()
	for _, c := range rec.Communities() {
		if !slices.Contains(guilds, c) {
			guilds = append(guilds, c)
		}
	}
	pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(rename.From) + `\b`)
	if err != nil || len(guilds) == 0 {
		return
	}
	log := s.logger.With(slog.String("user_id", userID), slog.String("from", rename.From), slog.String("to", rename.To))

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), propagateTimeout)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(propagateWorkers)
		for _, guildID := range guilds {
			g.Go(func() error {
				label, err := s.gateway.DisplayLabel(ctx, guildID, userID)
				if err != nil || !pattern.MatchString(label) {
					return nil
				}
				next := pattern.ReplaceAllLiteralString(label, rename.To)
				if err := s.gateway.SetDisplayLabel(ctx, guildID, userID, next); err != nil {
					log.Debug("rename label", slog.String("guild_id", guildID), slog.Any("error", err))
				}
				return nil
			})
		}
		_ = g.Wait()
		log.Info("rename propagated", slog.Int("communities", len(guilds)))
	}()
}
