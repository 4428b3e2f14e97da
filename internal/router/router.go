// Package router turns chat events that no pending wait consumed into
// verification, cancellation and review actions.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/guildgate/guildgate/internal/channel"
	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/review"
	"github.com/guildgate/guildgate/internal/sections"
	"github.com/guildgate/guildgate/internal/verification"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 4
	cancelKeyword    = "cancel"
	alternateSuffix  = "alt"
)

// ErrQueueFull is returned when an event is dropped because the dispatch queue is saturated.
var ErrQueueFull = errors.New("inbound queue full")

// Verifier is satisfied by *verification.Service.
type Verifier interface {
	Start(ctx context.Context, req verification.Request) (verification.Outcome, error)
	Cancel(guildID, userID, sectionID string) bool
	CancelAll(guildID, userID string) int
}

// Reviews is satisfied by *review.Queue.
type Reviews interface {
	FindByPrompt(ctx context.Context, ref channel.MessageRef) (review.Request, error)
	Resolve(ctx context.Context, requestID string, outcome review.Outcome, resolver string) (review.Request, error)
	PurgeForDeparture(ctx context.Context, communityID, userID string) (int, error)
}

// Router implements channel.InboundHandler. Events are queued and handled by a
// fixed pool of workers; verification sessions run on their own goroutines.
type Router struct {
	verifier Verifier
	reviews  Reviews
	sections sections.Store
	keyword  string
	logger   *slog.Logger

	queue   chan task
	workers int

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	pool      sync.WaitGroup
	sessions  sync.WaitGroup
}

type task struct {
	ctx context.Context
	run func(ctx context.Context)
}

var _ channel.InboundHandler = (*Router)(nil)

// New creates a router. The verify keyword comes from the Discord config.
func New(log *slog.Logger, verifier Verifier, reviews Reviews, secs sections.Store, cfg config.DiscordConfig) *Router {
	if log == nil {
		log = slog.Default()
	}
	keyword := strings.ToLower(strings.TrimSpace(cfg.VerifyKeyword))
	if keyword == "" {
		keyword = config.DefaultVerifyKeyword
	}
	return &Router{
		verifier: verifier,
		reviews:  reviews,
		sections: secs,
		keyword:  keyword,
		logger:   log.With(slog.String("component", "router")),
		queue:    make(chan task, defaultQueueSize),
		workers:  defaultWorkers,
	}
}

// Start launches the workers. Sessions started by the router are canceled when ctx ends.
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		r.ctx, r.cancel = context.WithCancel(ctx)
		for i := 0; i < r.workers; i++ {
			r.pool.Add(1)
			go r.runWorker()
		}
	})
}

// Stop cancels in-flight sessions and waits for workers and sessions to return.
func (r *Router) Stop() {
	r.Start(context.Background())
	r.cancel()
	r.pool.Wait()
	r.sessions.Wait()
}

func (r *Router) runWorker() {
	defer r.pool.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case t := <-r.queue:
			t.run(t.ctx)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, kind string, run func(ctx context.Context)) error {
	r.Start(context.Background())
	if r.ctx.Err() != nil {
		return fmt.Errorf("router stopped")
	}
	select {
	case r.queue <- task{ctx: context.WithoutCancel(ctx), run: run}:
		return nil
	default:
		r.logger.Warn("dropping inbound event", slog.String("kind", kind))
		return ErrQueueFull
	}
}

// HandleMessage routes verify and cancel commands posted in a verification channel.
func (r *Router) HandleMessage(ctx context.Context, ev channel.MessageEvent) {
	if ev.Direct() {
		return
	}
	_ = r.enqueue(ctx, "message", func(ctx context.Context) { r.onMessage(ctx, ev) })
}

// HandleReaction routes moderator reactions on review prompts.
func (r *Router) HandleReaction(ctx context.Context, ev channel.ReactionEvent) {
	if ev.GuildID == "" {
		return
	}
	_ = r.enqueue(ctx, "reaction", func(ctx context.Context) { r.onReaction(ctx, ev) })
}

// HandleMemberRemove purges the departed member's pending reviews and ends their sessions.
func (r *Router) HandleMemberRemove(ctx context.Context, ev channel.MemberEvent) {
	_ = r.enqueue(ctx, "member_remove", func(ctx context.Context) { r.onMemberRemove(ctx, ev) })
}

// Command is a parsed verification channel message.
type Command int

const (
	CommandNone Command = iota
	CommandVerify
	CommandVerifyAlternate
	CommandCancel
)

// ParseCommand recognizes "<keyword>", "<keyword> alt" and "cancel", ignoring case and spacing.
func ParseCommand(keyword, content string) Command {
	fields := strings.Fields(strings.ToLower(content))
	switch {
	case len(fields) == 1 && fields[0] == keyword:
		return CommandVerify
	case len(fields) == 2 && fields[0] == keyword && fields[1] == alternateSuffix:
		return CommandVerifyAlternate
	case len(fields) == 1 && fields[0] == cancelKeyword:
		return CommandCancel
	default:
		return CommandNone
	}
}

func (r *Router) onMessage(ctx context.Context, ev channel.MessageEvent) {
	sec, ok := r.sections.ByVerificationChannel(ev.GuildID, ev.ChannelID)
	if !ok {
		return
	}
	log := r.logger.With(slog.String("guild_id", ev.GuildID), slog.String("section", sec.ID), slog.String("user_id", ev.UserID))

	switch ParseCommand(r.keyword, ev.Content) {
	case CommandVerify:
		r.startSession(log, verification.Request{GuildID: ev.GuildID, SectionID: sec.ID, UserID: ev.UserID, Mode: verification.ModeVerify})
	case CommandVerifyAlternate:
		r.startSession(log, verification.Request{GuildID: ev.GuildID, SectionID: sec.ID, UserID: ev.UserID, Mode: verification.ModeAlternate})
	case CommandCancel:
		if r.verifier.Cancel(ev.GuildID, ev.UserID, sec.ID) {
			log.Info("verification cancel requested")
		}
	}
}

func (r *Router) startSession(log *slog.Logger, req verification.Request) {
	r.sessions.Add(1)
	go func() {
		defer r.sessions.Done()
		out, err := r.verifier.Start(r.ctx, req)
		if errors.Is(err, verification.ErrSessionActive) {
			log.Debug("verification already in progress")
			return
		}
		if err != nil {
			log.Error("start verification", slog.Any("error", err))
			return
		}
		log.Debug("verification ended", slog.String("state", string(out.State)))
	}()
}

func (r *Router) onReaction(ctx context.Context, ev channel.ReactionEvent) {
	if len(r.sections.ByReviewChannel(ev.GuildID, ev.ChannelID)) == 0 {
		return
	}
	outcome, err := review.ParseOutcome(ev.Emoji)
	if err != nil {
		return
	}
	req, err := r.reviews.FindByPrompt(ctx, ev.Ref())
	if errors.Is(err, review.ErrRequestNotFound) {
		return
	}
	log := r.logger.With(slog.String("guild_id", ev.GuildID), slog.String("resolver", ev.UserID))
	if err != nil {
		log.Error("find review by prompt", slog.Any("error", err))
		return
	}
	if req.UserID == ev.UserID {
		log.Warn("member reacted to their own review", slog.String("request_id", req.ID))
		return
	}
	if _, err := r.reviews.Resolve(ctx, req.ID, outcome, ev.UserID); err != nil && !errors.Is(err, review.ErrRequestNotFound) {
		log.Error("resolve review", slog.String("request_id", req.ID), slog.Any("error", err))
	}
}

func (r *Router) onMemberRemove(ctx context.Context, ev channel.MemberEvent) {
	log := r.logger.With(slog.String("guild_id", ev.GuildID), slog.String("user_id", ev.UserID))
	n, err := r.reviews.PurgeForDeparture(ctx, ev.GuildID, ev.UserID)
	if err != nil {
		log.Error("purge reviews of departed member", slog.Any("error", err))
	}
	canceled := r.verifier.CancelAll(ev.GuildID, ev.UserID)
	if n > 0 || canceled > 0 {
		log.Info("member departed", slog.Int("reviews_purged", n), slog.Int("sessions_canceled", canceled))
	}
}
