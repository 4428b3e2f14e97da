// Package channel defines the chat platform contract used by verification and review.
package channel

import (
	"context"
	"strings"
)

// Reaction emoji used on prompts.
const (
	EmojiYes    = "✅"
	EmojiNo     = "❌"
	EmojiIgnore = "💤"
)

// Target addresses a prompt: a channel, or a user's direct messages when ChannelID is empty.
type Target struct {
	ChannelID string
	UserID    string
}

// MessageRef points at a message that was sent by the gateway.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether the reference is unset.
func (r MessageRef) IsZero() bool {
	return r.ChannelID == "" && r.MessageID == ""
}

// Field is a titled block inside a prompt.
type Field struct {
	Name  string
	Value string
}

// Prompt is platform-neutral message content. Reactions are added after sending.
type Prompt struct {
	Title     string
	Body      string
	Fields    []Field
	Footer    string
	Reactions []string
}

// PlainText renders the prompt without platform formatting.
func (p Prompt) PlainText() string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString(p.Title)
		b.WriteString("\n")
	}
	if p.Body != "" {
		b.WriteString(p.Body)
		b.WriteString("\n")
	}
	for _, f := range p.Fields {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	if p.Footer != "" {
		b.WriteString(p.Footer)
	}
	return strings.TrimSpace(b.String())
}

// Gateway is the set of platform operations the core consumes. Await calls block
// until a matching event arrives or ctx is done, in which case they return
// context.Cause(ctx).
type Gateway interface {
	SendPrompt(ctx context.Context, target Target, prompt Prompt) (MessageRef, error)
	EditPrompt(ctx context.Context, ref MessageRef, prompt Prompt) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AwaitReaction(ctx context.Context, ref MessageRef, userID string, allowed []string) (string, error)
	AwaitTextMessage(ctx context.Context, channelID, userID string) (string, error)
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	DisplayLabel(ctx context.Context, guildID, userID string) (string, error)
	SetDisplayLabel(ctx context.Context, guildID, userID, label string) error
	IsMember(ctx context.Context, guildID, userID string) (bool, error)
}
