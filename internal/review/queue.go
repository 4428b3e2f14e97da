package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guildgate/guildgate/internal/channel"
	"github.com/guildgate/guildgate/internal/identity"
	"github.com/guildgate/guildgate/internal/metrics"
	"github.com/guildgate/guildgate/internal/sections"
)

// Reconciler links a verified name to its owner.
type Reconciler interface {
	Reconcile(ctx context.Context, ownerID, verifiedName string, history []string) (identity.Result, error)
}

// Queue posts review prompts, stores pending requests and applies resolutions.
type Queue struct {
	store      Store
	gateway    channel.Gateway
	sections   sections.Store
	reconciler Reconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewQueue(log *slog.Logger, store Store, gateway channel.Gateway, secs sections.Store, reconciler Reconciler, m *metrics.Metrics) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store:      store,
		gateway:    gateway,
		sections:   secs,
		reconciler: reconciler,
		metrics:    m,
		logger:     log.With(slog.String("service", "review")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores a request and posts its prompt to the section's review channel.
// A request already pending for the same member and section is replaced.
func (q *Queue) Enqueue(ctx context.Context, communityID, sectionID, userID string, snap Snapshot) (string, error) {
	sec, err := q.sections.Get(communityID, sectionID)
	if err != nil {
		return "", err
	}
	if !sec.HasManualReview() {
		return "", ErrNoReviewChannel
	}

	if prev, err := q.store.GetByMember(ctx, communityID, sec.ID, userID); err == nil {
		q.discard(ctx, prev)
	} else if !errors.Is(err, ErrRequestNotFound) {
		return "", err
	}

	req := Request{
		ID:          uuid.NewString(),
		CommunityID: communityID,
		SectionID:   sec.ID,
		UserID:      userID,
		Snapshot:    snap,
		CreatedAt:   q.now(),
	}
	if err := q.store.Insert(ctx, req); err != nil {
		return "", fmt.Errorf("store review: %w", err)
	}

	ref, err := q.gateway.SendPrompt(ctx, channel.Target{ChannelID: sec.ManualReviewChannel}, reviewPrompt(req, sec))
	if err != nil {
		_ = q.store.Delete(ctx, req.ID)
		return "", fmt.Errorf("post review prompt: %w", err)
	}
	if err := q.store.SetPrompt(ctx, req.ID, ref); err != nil {
		_ = q.store.Delete(ctx, req.ID)
		if delErr := q.gateway.DeleteMessage(ctx, ref); delErr != nil {
			q.logger.Warn("delete orphaned review prompt", slog.String("request_id", req.ID), slog.Any("error", delErr))
		}
		return "", fmt.Errorf("store review prompt: %w", err)
	}
	q.logger.Info("review enqueued",
		slog.String("request_id", req.ID),
		slog.String("guild_id", communityID),
		slog.String("section", sec.ID),
		slog.String("user_id", userID),
		slog.String("name", snap.ClaimedName),
	)
	return req.ID, nil
}

// Resolve applies a moderator decision. Accept and Deny remove the request;
// Ignore leaves it queued.
func (q *Queue) Resolve(ctx context.Context, requestID string, outcome Outcome, resolver string) (Request, error) {
	req, err := q.store.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	log := q.logger.With(slog.String("request_id", req.ID), slog.String("user_id", req.UserID), slog.String("resolver", resolver))

	switch outcome {
	case OutcomeIgnore:
		log.Info("review ignored")
		q.metrics.ReviewResolved(string(outcome))
		return req, nil
	case OutcomeAccept, OutcomeDeny:
	default:
		return Request{}, ErrInvalidOutcome
	}

	// Delete claims the request; a concurrent resolver gets ErrRequestNotFound.
	if err := q.store.Delete(ctx, req.ID); err != nil {
		return Request{}, err
	}

	if outcome == OutcomeAccept {
		if err := q.accept(ctx, log, req); err != nil {
			if rerr := q.store.Insert(ctx, req); rerr != nil {
				log.Error("restore review after failed accept", slog.Any("error", rerr))
			}
			return Request{}, err
		}
	} else {
		q.deny(ctx, log, req)
	}

	q.metrics.ReviewResolved(string(outcome))
	q.markResolved(ctx, req, outcome, resolver)
	log.Info("review resolved", slog.String("outcome", string(outcome)))
	return req, nil
}

func (q *Queue) accept(ctx context.Context, log *slog.Logger, req Request) error {
	sec, err := q.sections.Get(req.CommunityID, req.SectionID)
	if err != nil {
		return err
	}
	if sec.VerifiedRole != "" {
		if err := q.gateway.GrantRole(ctx, req.CommunityID, req.UserID, sec.VerifiedRole); err != nil {
			return fmt.Errorf("grant role: %w", err)
		}
	}
	res, err := q.reconciler.Reconcile(ctx, req.UserID, req.Snapshot.ClaimedName, req.Snapshot.NameHistory)
	switch {
	case errors.Is(err, identity.ErrConflict):
		log.Warn("accepted review left identity unlinked", slog.Any("record_ids", res.ConflictingIDs))
		q.metrics.Reconciled(string(identity.OutcomeConflict))
	case err != nil:
		log.Warn("accepted review reconcile failed", slog.Any("error", err))
	default:
		q.metrics.Reconciled(string(res.Outcome))
	}
	q.notify(ctx, log, req.UserID, channel.Prompt{
		Title: "Verification approved",
		Body:  fmt.Sprintf("A moderator approved your verification as %s in %s.", req.Snapshot.ClaimedName, sectionLabel(sec)),
	})
	return nil
}

func (q *Queue) deny(ctx context.Context, log *slog.Logger, req Request) {
	reason := req.Snapshot.FailDetail
	if reason == "" {
		reason = req.Snapshot.FailReason
	}
	q.notify(ctx, log, req.UserID, channel.Prompt{
		Title:  "Verification denied",
		Body:   fmt.Sprintf("A moderator reviewed your request as %s and denied it.", req.Snapshot.ClaimedName),
		Fields: []channel.Field{{Name: "Reason", Value: reason}},
	})
}

func (q *Queue) notify(ctx context.Context, log *slog.Logger, userID string, p channel.Prompt) {
	if _, err := q.gateway.SendPrompt(ctx, channel.Target{UserID: userID}, p); err != nil {
		log.Warn("notify user", slog.Any("error", err))
	}
}

func (q *Queue) markResolved(ctx context.Context, req Request, outcome Outcome, resolver string) {
	if req.Prompt.IsZero() {
		return
	}
	p := channel.Prompt{
		Title: "Manual review closed: " + req.Snapshot.ClaimedName,
		Body:  fmt.Sprintf("<@%s> was %s by <@%s>.", req.UserID, pastTense(outcome), resolver),
	}
	if err := q.gateway.EditPrompt(ctx, req.Prompt, p); err != nil {
		q.logger.Debug("edit resolved prompt", slog.String("request_id", req.ID), slog.Any("error", err))
	}
}

// PurgeForDeparture removes every pending request of userID in communityID and
// deletes their prompts where possible.
func (q *Queue) PurgeForDeparture(ctx context.Context, communityID, userID string) (int, error) {
	pending, err := q.store.ListByMember(ctx, communityID, userID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, req := range pending {
		if q.discard(ctx, req) {
			removed++
		}
	}
	if removed > 0 {
		q.logger.Info("purged reviews for departed member", slog.String("guild_id", communityID), slog.String("user_id", userID), slog.Int("count", removed))
	}
	return removed, nil
}

// SweepDeparted purges requests whose requester is no longer a member of the community.
func (q *Queue) SweepDeparted(ctx context.Context) (int, error) {
	pending, err := q.store.List(ctx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, req := range pending {
		member, err := q.gateway.IsMember(ctx, req.CommunityID, req.UserID)
		if err != nil {
			q.logger.Debug("membership check", slog.String("user_id", req.UserID), slog.Any("error", err))
			continue
		}
		if !member && q.discard(ctx, req) {
			removed++
		}
	}
	return removed, nil
}

func (q *Queue) discard(ctx context.Context, req Request) bool {
	if err := q.store.Delete(ctx, req.ID); err != nil {
		return false
	}
	if !req.Prompt.IsZero() {
		if err := q.gateway.DeleteMessage(ctx, req.Prompt); err != nil {
			q.logger.Debug("delete review prompt", slog.String("request_id", req.ID), slog.Any("error", err))
		}
	}
	return true
}

// FindByPrompt returns the request whose prompt is ref.
func (q *Queue) FindByPrompt(ctx context.Context, ref channel.MessageRef) (Request, error) {
	return q.store.GetByPrompt(ctx, ref)
}

func (q *Queue) Get(ctx context.Context, id string) (Request, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) List(ctx context.Context, communityID string) ([]Request, error) {
	return q.store.List(ctx, communityID)
}

func reviewPrompt(req Request, sec sections.Section) channel.Prompt {
	history := "hidden or empty"
	if len(req.Snapshot.NameHistory) > 0 {
		history = strings.Join(req.Snapshot.NameHistory, ", ")
	}
	return channel.Prompt{
		Title: "Manual review: " + req.Snapshot.ClaimedName,
		Body:  fmt.Sprintf("<@%s> failed verification for %s and asked for a review.", req.UserID, sectionLabel(sec)),
		Fields: []channel.Field{
			{Name: "Rank", Value: strconv.Itoa(req.Snapshot.Rank)},
			{Name: "Alive fame", Value: strconv.Itoa(req.Snapshot.Fame)},
			{Name: "Name history", Value: history},
			{Name: "Failed check", Value: req.Snapshot.FailDetail},
		},
		Footer:    channel.EmojiYes + " accept   " + channel.EmojiNo + " deny   " + channel.EmojiIgnore + " ignore",
		Reactions: []string{channel.EmojiYes, channel.EmojiNo, channel.EmojiIgnore},
	}
}

func sectionLabel(sec sections.Section) string {
	if sec.Name != "" {
		return sec.Name
	}
	return sec.ID
}

func pastTense(o Outcome) string {
	switch o {
	case OutcomeAccept:
		return "accepted"
	case OutcomeDeny:
		return "denied"
	default:
		return "ignored"
	}
}
