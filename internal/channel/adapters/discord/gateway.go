package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/guildgate/guildgate/internal/channel"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent

// Gateway sends prompts through the Discord REST API and resolves waits from
// gateway events.
type Gateway struct {
	conn    *discordgo.Session
	api     api
	waiters *channel.Waiters
	logger  *slog.Logger

	mu     sync.Mutex
	dms    map[string]string
	selfID string
}

var _ channel.Gateway = (*Gateway)(nil)

// New creates a gateway for a bot token. Call Open to start receiving events.
func New(log *slog.Logger, token string) (*Gateway, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord bot token is required")
	}
	conn, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	conn.Identify.Intents = intents
	g := newGateway(log, conn)
	g.conn = conn
	return g, nil
}

func newGateway(log *slog.Logger, a api) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		api:     a,
		waiters: channel.NewWaiters(),
		logger:  log.With(slog.String("adapter", "discord")),
		dms:     map[string]string{},
	}
}

// Open registers event handlers and connects. Events a pending wait does not
// consume are passed to handler with ctx.
func (g *Gateway) Open(ctx context.Context, handler channel.InboundHandler) error {
	if g.conn == nil {
		return errors.New("discord session not configured")
	}
	g.conn.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		g.setSelf(r.User)
		g.logger.Info("connected", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))
	})
	g.conn.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		g.onMessageCreate(ctx, handler, m)
	})
	g.conn.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		g.onReactionAdd(ctx, handler, r)
	})
	g.conn.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
		g.onMemberRemove(ctx, handler, m)
	})
	if err := g.conn.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

func (g *Gateway) setSelf(u *discordgo.User) {
	if u == nil {
		return
	}
	g.mu.Lock()
	g.selfID = u.ID
	g.mu.Unlock()
}

func (g *Gateway) isSelf(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selfID != "" && g.selfID == userID
}

func (g *Gateway) SendPrompt(_ context.Context, target channel.Target, prompt channel.Prompt) (channel.MessageRef, error) {
	channelID := target.ChannelID
	if channelID == "" {
		dm, err := g.directChannel(target.UserID)
		if err != nil {
			return channel.MessageRef{}, err
		}
		channelID = dm
	}
	msg, err := g.api.ChannelMessageSendEmbed(channelID, toEmbed(prompt))
	if err != nil {
		return channel.MessageRef{}, fmt.Errorf("send prompt: %w", err)
	}
	ref := channel.MessageRef{ChannelID: channelID, MessageID: msg.ID}
	for _, emoji := range prompt.Reactions {
		if err := g.api.MessageReactionAdd(channelID, msg.ID, emoji); err != nil {
			g.logger.Warn("add reaction", slog.String("channel_id", channelID), slog.String("emoji", emoji), slog.Any("error", err))
		}
	}
	return ref, nil
}

func (g *Gateway) directChannel(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("prompt target is empty")
	}
	g.mu.Lock()
	id, ok := g.dms[userID]
	g.mu.Unlock()
	if ok {
		return id, nil
	}
	ch, err := g.api.UserChannelCreate(userID)
	if err != nil {
		return "", fmt.Errorf("open direct channel: %w", err)
	}
	g.mu.Lock()
	g.dms[userID] = ch.ID
	g.mu.Unlock()
	return ch.ID, nil
}

func (g *Gateway) EditPrompt(_ context.Context, ref channel.MessageRef, prompt channel.Prompt) error {
	_, err := g.api.ChannelMessageEditEmbed(ref.ChannelID, ref.MessageID, toEmbed(prompt))
	return err
}

func (g *Gateway) DeleteMessage(_ context.Context, ref channel.MessageRef) error {
	return g.api.ChannelMessageDelete(ref.ChannelID, ref.MessageID)
}

func (g *Gateway) AwaitReaction(ctx context.Context, ref channel.MessageRef, userID string, allowed []string) (string, error) {
	return g.waiters.AwaitReaction(ctx, ref.MessageID, userID, allowed)
}

func (g *Gateway) AwaitTextMessage(ctx context.Context, channelID, userID string) (string, error) {
	return g.waiters.AwaitText(ctx, channelID, userID)
}

func (g *Gateway) GrantRole(_ context.Context, guildID, userID, roleID string) error {
	return g.api.GuildMemberRoleAdd(guildID, userID, roleID)
}

// DisplayLabel returns the member's nickname, or their username when none is set.
func (g *Gateway) DisplayLabel(_ context.Context, guildID, userID string) (string, error) {
	m, err := g.api.GuildMember(guildID, userID)
	if err != nil {
		return "", err
	}
	if m.Nick != "" {
		return m.Nick, nil
	}
	if m.User != nil {
		return m.User.Username, nil
	}
	return "", nil
}

func (g *Gateway) SetDisplayLabel(_ context.Context, guildID, userID, label string) error {
	return g.api.GuildMemberNickname(guildID, userID, label)
}

func (g *Gateway) IsMember(_ context.Context, guildID, userID string) (bool, error) {
	_, err := g.api.GuildMember(guildID, userID)
	if err == nil {
		return true, nil
	}
	if isUnknownMember(err) {
		return false, nil
	}
	return false, err
}

func isUnknownMember(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownMember {
		return true
	}
	return rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}
