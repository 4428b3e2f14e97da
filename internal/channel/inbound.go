package channel

import "context"

// MessageEvent is a text message that no pending wait consumed.
type MessageEvent struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Content   string
}

// Direct reports whether the message was sent in a direct conversation.
func (e MessageEvent) Direct() bool { return e.GuildID == "" }

// ReactionEvent is a reaction that no pending wait consumed.
type ReactionEvent struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
}

// Ref returns the reacted message.
func (e ReactionEvent) Ref() MessageRef {
	return MessageRef{ChannelID: e.ChannelID, MessageID: e.MessageID}
}

// MemberEvent reports a member leaving a guild.
type MemberEvent struct {
	GuildID string
	UserID  string
}

// InboundHandler receives platform events after pending waits had their chance.
type InboundHandler interface {
	HandleMessage(ctx context.Context, ev MessageEvent)
	HandleReaction(ctx context.Context, ev ReactionEvent)
	HandleMemberRemove(ctx context.Context, ev MemberEvent)
}
