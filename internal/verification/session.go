package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guildgate/guildgate/internal/channel"
	"github.com/guildgate/guildgate/internal/eligibility"
	"github.com/guildgate/guildgate/internal/identity"
	"github.com/guildgate/guildgate/internal/profile"
	"github.com/guildgate/guildgate/internal/review"
	"github.com/guildgate/guildgate/internal/sections"
)

// session is one member's run through the flow. All fields except state and
// busy are owned by the goroutine executing run.
type session struct {
	svc     *Service
	req     Request
	section sections.Section
	logger  *slog.Logger
	dm      channel.Target
	started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	state    atomic.Value
	busy     atomic.Bool
	once     sync.Once
	outcome  Outcome

	name          string
	skipChallenge bool
	challenge     string
	snapshot      profile.Snapshot
	history       []string
}

func (s *session) setState(st State) {
	s.state.Store(st)
	s.logger.Debug("session state", slog.String("state", string(st)))
}

func (s *session) State() State {
	st, _ := s.state.Load().(State)
	return st
}

// requestCancel is the manual cancellation path. It is ignored from the confirm
// reaction until the session is waiting for input again, and after it finished.
func (s *session) requestCancel() bool {
	if s.busy.Load() || s.State().Terminal() {
		return false
	}
	s.cancel(ErrCanceled)
	return true
}

func (s *session) run() Outcome {
	defer s.cancel(nil)

	if !s.pickName() {
		return s.outcome
	}
	s.challengeLoop()
	return s.outcome
}

// pickName fills s.name, either reusing the linked primary name or asking for one.
func (s *session) pickName() bool {
	if s.req.Mode == ModeVerify {
		rec, err := s.svc.identity.FindByOwner(s.ctx, s.req.UserID)
		if err != nil && !errors.Is(err, identity.ErrRecordNotFound) {
			s.logger.Warn("identity lookup failed", slog.Any("error", err))
		}
		if err == nil && rec.Primary.Display != "" {
			reuse, ok := s.askReuse(rec.Primary.Display)
			if !ok {
				return false
			}
			if reuse {
				s.name = rec.Primary.Display
				s.skipChallenge = true
				return true
			}
		}
	}
	return s.askName()
}

func (s *session) askReuse(linked string) (bool, bool) {
	s.setState(StateAwaitingName)
	ctx, stop := context.WithTimeoutCause(s.ctx, s.svc.timeouts.Name, ErrTimedOut)
	defer stop()

	ref, err := s.send(ctx, channel.Prompt{
		Title:     "Verify as " + linked + "?",
		Body:      fmt.Sprintf("You are already linked to %s. React %s to verify with it, or %s to use a different account.", linked, channel.EmojiYes, channel.EmojiNo),
		Reactions: []string{channel.EmojiYes, channel.EmojiNo},
	})
	if err != nil {
		s.fail(err)
		return false, false
	}
	emoji, err := s.svc.gateway.AwaitReaction(ctx, ref, s.req.UserID, []string{channel.EmojiYes, channel.EmojiNo})
	if err != nil {
		s.stopped(err)
		return false, false
	}
	return emoji == channel.EmojiYes, true
}

// askName collects a valid name. Invalid replies re-prompt within the same deadline.
func (s *session) askName() bool {
	s.setState(StateAwaitingName)
	ctx, stop := context.WithTimeoutCause(s.ctx, s.svc.timeouts.Name, ErrTimedOut)
	defer stop()

	ref, err := s.send(ctx, channel.Prompt{
		Title:  "What is your in-game name?",
		Body:   "Reply with the exact name of the account you want to verify. Type cancel to stop.",
		Footer: fmt.Sprintf("You have %s to reply.", s.svc.timeouts.Name),
	})
	if err != nil {
		s.fail(err)
		return false
	}
	for {
		text, err := s.svc.gateway.AwaitTextMessage(ctx, ref.ChannelID, s.req.UserID)
		if err != nil {
			s.stopped(err)
			return false
		}
		if isCancelText(text) {
			s.cancel(ErrCanceled)
			s.stopped(ErrCanceled)
			return false
		}
		if ValidName(text) {
			s.name = strings.TrimSpace(text)
			return true
		}
		if _, err := s.send(ctx, channel.Prompt{Body: "That is not a valid name. Names are 1 to 10 letters with no spaces or digits."}); err != nil {
			s.fail(err)
			return false
		}
	}
}

func (s *session) challengeLoop() {
	s.setState(StateAwaitingChallengeConfirm)
	if !s.skipChallenge {
		s.challenge = s.svc.newCode(s.svc.challengeLength)
	}
	ctx, stop := context.WithTimeoutCause(s.ctx, s.svc.timeouts.Challenge, ErrTimedOut)
	defer stop()

	ref, err := s.send(ctx, s.challengePrompt())
	if err != nil {
		s.fail(err)
		return
	}
	for {
		emoji, err := s.svc.gateway.AwaitReaction(ctx, ref, s.req.UserID, []string{channel.EmojiYes, channel.EmojiNo})
		if err != nil {
			s.stopped(err)
			return
		}
		if emoji == channel.EmojiNo {
			s.cancel(ErrCanceled)
			s.stopped(ErrCanceled)
			return
		}

		retry, done := s.check()
		if done {
			return
		}
		s.setState(StateAwaitingChallengeConfirm)
		_, err = s.send(ctx, channel.Prompt{
			Title: "Not verified yet",
			Body:  retry + fmt.Sprintf("\nReact %s on the instructions again once fixed.", channel.EmojiYes),
		})
		if ctx.Err() != nil {
			s.stopped(context.Cause(ctx))
			return
		}
		if err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *session) challengePrompt() channel.Prompt {
	steps := []channel.Field{
		{Name: "Last seen", Value: "Set your last known location to hidden."},
		{Name: "Name history", Value: "Make your name history public."},
	}
	if !s.skipChallenge {
		steps = append([]channel.Field{{Name: "Code", Value: fmt.Sprintf("Add `%s` to any line of your profile description.", s.challenge)}}, steps...)
	}
	return channel.Prompt{
		Title:     "Verify " + s.name,
		Body:      fmt.Sprintf("Update your profile, then react %s. React %s to cancel.", channel.EmojiYes, channel.EmojiNo),
		Fields:    steps,
		Footer:    fmt.Sprintf("This request expires in %s.", s.svc.timeouts.Challenge),
		Reactions: []string{channel.EmojiYes, channel.EmojiNo},
	}
}

// detached returns a context for work that must run to completion once
// started. It keeps the session's values but not its cancellation or deadline.
func (s *session) detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.ctx), workTimeout)
}

// check runs the fetch and everything up to the session's end. It returns a
// corrective message when the user can fix the problem, or done when the session
// reached a terminal state. Cancellation is refused until check returns a retry.
func (s *session) check() (retry string, done bool) {
	if !s.busy.CompareAndSwap(false, true) {
		return "A check is already running.", false
	}
	ctx, stop := s.detached()
	defer stop()
	retry, done = s.evaluate(ctx)
	if !done {
		s.busy.Store(false)
	}
	return retry, done
}

func (s *session) evaluate(ctx context.Context) (string, bool) {
	s.setState(StateFetching)
	snap, history, retry, err := s.fetch(ctx)
	if err != nil {
		s.fail(err)
		return "", true
	}
	if retry != "" {
		return retry, false
	}
	s.snapshot = snap
	s.history = history

	if s.req.Mode == ModeAlternate {
		if s.blacklisted(ctx) {
			return "", true
		}
		s.linkAlternate(ctx)
		return "", true
	}

	s.setState(StateEvaluatingEligibility)
	res := eligibility.Evaluate(s.section.Rules, snap)
	s.outcome.Eligibility = &res
	if res.Retryable() {
		return "Your characters are hidden. Make them public so the requirements can be checked.", false
	}
	if s.blacklisted(ctx) {
		return "", true
	}
	if res.Passed {
		s.succeed(ctx)
		return "", true
	}
	s.ineligible(res)
	return "", true
}

func (s *session) fetch(ctx context.Context) (profile.Snapshot, []string, string, error) {
	snap, err := s.svc.profiles.FetchProfile(ctx, s.name)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return profile.Snapshot{}, nil, fmt.Sprintf("No public profile was found for %s. Check the spelling and that your profile is not private.", s.name), nil
	case err != nil:
		s.svc.metrics.ProfileFetchError("profile")
		return profile.Snapshot{}, nil, "", fmt.Errorf("fetch profile: %w", err)
	}
	if strings.EqualFold(snap.Name, s.name) {
		s.name = snap.Name
	}
	if !snap.LastSeenHidden() {
		return snap, nil, "Your last known location is visible. Hide it and try again.", nil
	}
	if !s.skipChallenge && !snap.HasDescriptionLine(s.challenge) {
		return snap, nil, fmt.Sprintf("The code `%s` was not found in your description.", s.challenge), nil
	}

	entries, err := s.svc.profiles.FetchNameHistory(ctx, s.name)
	switch {
	case errors.Is(err, profile.ErrHistoryHidden):
		return snap, nil, "Your name history is hidden. Make it public and try again.", nil
	case err != nil:
		s.svc.metrics.ProfileFetchError("history")
		return snap, nil, "", fmt.Errorf("fetch name history: %w", err)
	}
	return snap, profile.Names(entries), "", nil
}

// blacklisted consults both blacklists with the claimed name and every
// historical name. A hit, or a failed lookup, finishes the session as denied.
func (s *session) blacklisted(ctx context.Context) bool {
	names := append([]string{s.name}, s.history...)
	match, hit, err := s.svc.blacklist.IsBlacklisted(ctx, s.req.GuildID, names)
	if err != nil {
		s.fail(fmt.Errorf("blacklist lookup: %w", err))
		return true
	}
	if !hit {
		return false
	}
	s.outcome.Blacklisted = &match
	s.logger.Warn("blacklisted name on account",
		slog.String("name", s.name),
		slog.String("matched", match.NameKey),
		slog.String("scope", string(match.Scope)),
		slog.String("reason", match.Entry.Reason),
	)
	body := fmt.Sprintf("The account %s cannot be verified here.", s.name)
	if match.NameKey != identity.NormalizeName(s.name) {
		body = fmt.Sprintf("The account %s was previously named %s, which is blacklisted.", s.name, match.NameKey)
	}
	s.finish(StateDenied, channel.Prompt{
		Title:  "Verification denied",
		Body:   body,
		Fields: []channel.Field{{Name: "Reason", Value: nonEmpty(match.Entry.Reason, "No reason recorded.")}},
	})
	return true
}

func (s *session) succeed(ctx context.Context) {
	if s.section.VerifiedRole != "" {
		if err := s.svc.gateway.GrantRole(ctx, s.req.GuildID, s.req.UserID, s.section.VerifiedRole); err != nil {
			s.fail(fmt.Errorf("grant role: %w", err))
			return
		}
	}

	res, err := s.svc.identity.Reconcile(ctx, s.req.UserID, s.name, s.history)
	s.outcome.LinkErr = err
	switch {
	case errors.Is(err, identity.ErrConflict):
		s.logger.Warn("identity conflict left for admin", slog.String("name", s.name), slog.Any("record_ids", res.ConflictingIDs))
		s.svc.metrics.Reconciled(string(identity.OutcomeConflict))
	case errors.Is(err, identity.ErrAlternateLimit):
		s.logger.Warn("alternate limit reached", slog.String("name", s.name))
		s.svc.metrics.Reconciled("alternate_limit")
	case err != nil:
		s.logger.Error("reconcile failed", slog.String("name", s.name), slog.Any("error", err))
		s.svc.metrics.Reconciled("error")
	default:
		s.outcome.Reconciled = &res
		s.svc.metrics.Reconciled(string(res.Outcome))
		if res.Rename != nil {
			s.svc.propagateRename(s.req.UserID, res.Record, *res.Rename)
		}
	}

	s.updateLabel(ctx)
	s.finish(StateSuccess, channel.Prompt{
		Title: "Verified",
		Body:  fmt.Sprintf("You are verified as %s in %s.", s.name, s.section.Name),
	})
}

func (s *session) linkAlternate(ctx context.Context) {
	rec, err := s.svc.identity.AddAlternate(ctx, s.req.UserID, s.name)
	switch {
	case errors.Is(err, identity.ErrConflict):
		s.finish(StateDenied, channel.Prompt{
			Title: "Account already linked",
			Body:  fmt.Sprintf("%s is linked to another member. Ask a moderator to review it.", s.name),
		})
	case errors.Is(err, identity.ErrAlternateLimit):
		s.finish(StateDenied, channel.Prompt{
			Title: "Too many alternates",
			Body:  "Unlink an alternate account before adding another.",
		})
	case err != nil:
		s.fail(fmt.Errorf("add alternate: %w", err))
	default:
		s.logger.Info("alternate linked", slog.String("name", s.name), slog.String("record_id", rec.ID))
		s.finish(StateSuccess, channel.Prompt{
			Title: "Alternate linked",
			Body:  fmt.Sprintf("%s is now linked to your account.", s.name),
		})
	}
}

// updateLabel sets the nickname to the verified name unless it already mentions it.
func (s *session) updateLabel(ctx context.Context) {
	label, err := s.svc.gateway.DisplayLabel(ctx, s.req.GuildID, s.req.UserID)
	if err != nil {
		s.logger.Debug("read display label", slog.Any("error", err))
		return
	}
	if strings.Contains(strings.ToLower(label), strings.ToLower(s.name)) {
		return
	}
	if err := s.svc.gateway.SetDisplayLabel(ctx, s.req.GuildID, s.req.UserID, s.name); err != nil {
		s.logger.Debug("set display label", slog.Any("error", err))
	}
}

func (s *session) ineligible(res eligibility.Result) {
	fields := make([]channel.Field, 0, len(res.Failures))
	for _, f := range res.Failures {
		fields = append(fields, channel.Field{Name: f.Label, Value: fmt.Sprintf("%d required, %d found", f.Required, f.Actual)})
	}
	if !s.section.HasManualReview() {
		s.finish(StateDenied, channel.Prompt{
			Title:  "Requirements not met",
			Body:   fmt.Sprintf("%s does not meet the requirements of %s.", s.name, s.section.Name),
			Fields: fields,
		})
		return
	}

	s.setState(StateAwaitingManualReviewConsent)
	consentCtx, stop := context.WithTimeoutCause(s.ctx, s.svc.timeouts.Consent, ErrTimedOut)
	defer stop()
	ref, err := s.send(consentCtx, channel.Prompt{
		Title:     "Manual review available",
		Body:      fmt.Sprintf("%s does not meet the requirements of %s. React %s to ask a moderator to review your account, or %s to stop.", s.name, s.section.Name, channel.EmojiYes, channel.EmojiNo),
		Fields:    fields,
		Reactions: []string{channel.EmojiYes, channel.EmojiNo},
	})
	if err != nil {
		s.fail(err)
		return
	}
	s.busy.Store(false)
	emoji, err := s.svc.gateway.AwaitReaction(consentCtx, ref, s.req.UserID, []string{channel.EmojiYes, channel.EmojiNo})
	if err != nil {
		s.stopped(err)
		return
	}
	s.busy.Store(true)
	if s.ctx.Err() != nil {
		s.stopped(context.Cause(s.ctx))
		return
	}
	if emoji != channel.EmojiYes {
		s.finish(StateDenied, channel.Prompt{Title: "Verification closed", Body: "No review was requested."})
		return
	}

	details := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		details = append(details, f.String())
	}
	ctx, cancel := s.detached()
	defer cancel()
	id, err := s.svc.reviews.Enqueue(ctx, s.req.GuildID, s.section.ID, s.req.UserID, review.Snapshot{
		ClaimedName: s.name,
		Rank:        res.Rank,
		Fame:        res.Fame,
		NameHistory: s.history,
		FailReason:  string(res.Reason),
		FailDetail:  strings.Join(details, "; "),
	})
	if err != nil {
		s.fail(fmt.Errorf("enqueue review: %w", err))
		return
	}
	s.outcome.ReviewID = id
	s.finish(StateManualReviewPending, channel.Prompt{
		Title: "Review requested",
		Body:  "A moderator will look at your account. You will get a message once it is decided.",
	})
}

func (s *session) send(ctx context.Context, p channel.Prompt) (channel.MessageRef, error) {
	return s.svc.gateway.SendPrompt(ctx, s.dm, p)
}

// stopped finishes the session after a wait returned err.
func (s *session) stopped(err error) {
	switch {
	case errors.Is(err, ErrTimedOut):
		s.outcome.Err = err
		s.finish(StateTimedOut, channel.Prompt{
			Title: "Time's up",
			Body:  "The verification timed out. Start again when you are ready.",
		})
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		s.outcome.Err = err
		s.finish(StateCanceled, channel.Prompt{Title: "Verification canceled"})
	default:
		s.fail(err)
	}
}

// fail finishes the session as denied because of an external failure.
func (s *session) fail(err error) {
	s.logger.Error("verification failed", slog.String("state", string(s.State())), slog.Any("error", err))
	s.outcome.Err = err
	s.finish(StateDenied, channel.Prompt{
		Title:  "Verification failed",
		Body:   "Something went wrong while checking your account. Try again later.",
		Fields: []channel.Field{{Name: "Error", Value: err.Error()}},
	})
}

// finish moves to a terminal state and sends the only final message. Later calls are no-ops.
func (s *session) finish(st State, final channel.Prompt) {
	s.once.Do(func() {
		s.outcome.State = st
		s.outcome.Name = s.name
		s.setState(st)
		// The final message must go out even if the session context is already done.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), finalMessageTimeout)
		defer cancel()
		if _, err := s.svc.gateway.SendPrompt(ctx, s.dm, final); err != nil {
			s.logger.Warn("send final message", slog.Any("error", err))
		}
		s.svc.metrics.SessionFinished(string(st), s.started)
		s.logger.Info("verification finished", slog.String("state", string(st)), slog.String("name", s.name))
	})
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
