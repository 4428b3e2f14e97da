package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/guildgate/guildgate/internal/channel"
)

func (g *Gateway) onMessageCreate(ctx context.Context, handler channel.InboundHandler, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot || g.isSelf(m.Author.ID) {
		return
	}
	ev := channel.Event{
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		Content:   m.Content,
	}
	if g.waiters.Dispatch(channel.TextKey(m.ChannelID), ev) {
		return
	}
	if handler == nil {
		return
	}
	handler.HandleMessage(ctx, channel.MessageEvent{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		Content:   m.Content,
	})
}

func (g *Gateway) onReactionAdd(ctx context.Context, handler channel.InboundHandler, r *discordgo.MessageReactionAdd) {
	if r == nil || r.MessageReaction == nil || g.isSelf(r.UserID) {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	ev := channel.Event{
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.Name,
	}
	if g.waiters.Dispatch(channel.ReactionKey(r.MessageID), ev) {
		return
	}
	if handler == nil {
		return
	}
	handler.HandleReaction(ctx, channel.ReactionEvent{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.Name,
	})
}

func (g *Gateway) onMemberRemove(ctx context.Context, handler channel.InboundHandler, m *discordgo.GuildMemberRemove) {
	if m == nil || m.Member == nil || m.User == nil || handler == nil {
		return
	}
	g.logger.Debug("member left", slog.String("guild_id", m.GuildID), slog.String("user_id", m.User.ID))
	handler.HandleMemberRemove(ctx, channel.MemberEvent{GuildID: m.GuildID, UserID: m.User.ID})
}
