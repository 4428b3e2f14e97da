// Package channeltest provides a scripted channel.Gateway for tests.
package channeltest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/guildgate/guildgate/internal/channel"
)

// Sent is one prompt delivered through the fake.
type Sent struct {
	Target channel.Target
	Prompt channel.Prompt
	Ref    channel.MessageRef
}

// Grant is one role assignment.
type Grant struct {
	GuildID string
	UserID  string
	RoleID  string
}

// Step is one scripted reply to an Await call.
type Step struct {
	Value string
	Err   error
}

// Gateway replays scripted reactions and texts in order. When a script runs out
// the Await call blocks until its context ends and reports the kind on Blocked.
type Gateway struct {
	mu        sync.Mutex
	sent      []Sent
	edited    []Sent
	deleted   []channel.MessageRef
	grants    []Grant
	labels    map[string]string
	absent    map[string]bool
	reactions []Step
	texts     []Step
	nextID    int

	SendErr  error
	GrantErr error

	Blocked chan string
}

var _ channel.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		labels:  map[string]string{},
		absent:  map[string]bool{},
		Blocked: make(chan string, 16),
	}
}

func memberKey(guildID, userID string) string { return guildID + "/" + userID }

// ScriptReactions appends replies for AwaitReaction.
func (g *Gateway) ScriptReactions(values ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range values {
		g.reactions = append(g.reactions, Step{Value: v})
	}
}

// ScriptTexts appends replies for AwaitTextMessage.
func (g *Gateway) ScriptTexts(values ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range values {
		g.texts = append(g.texts, Step{Value: v})
	}
}

// ScriptTextError makes the next AwaitTextMessage fail with err.
func (g *Gateway) ScriptTextError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.texts = append(g.texts, Step{Err: err})
}

func (g *Gateway) SetLabel(guildID, userID, label string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.labels[memberKey(guildID, userID)] = label
}

// SetAbsent marks a user as no longer a member of guildID.
func (g *Gateway) SetAbsent(guildID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.absent[memberKey(guildID, userID)] = true
}

func (g *Gateway) SendPrompt(_ context.Context, target channel.Target, prompt channel.Prompt) (channel.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SendErr != nil {
		return channel.MessageRef{}, g.SendErr
	}
	g.nextID++
	chID := target.ChannelID
	if chID == "" {
		chID = "dm-" + target.UserID
	}
	ref := channel.MessageRef{ChannelID: chID, MessageID: fmt.Sprintf("m%d", g.nextID)}
	g.sent = append(g.sent, Sent{Target: target, Prompt: prompt, Ref: ref})
	return ref, nil
}

func (g *Gateway) EditPrompt(_ context.Context, ref channel.MessageRef, prompt channel.Prompt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edited = append(g.edited, Sent{Prompt: prompt, Ref: ref})
	return nil
}

func (g *Gateway) DeleteMessage(_ context.Context, ref channel.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, ref)
	return nil
}

func (g *Gateway) AwaitReaction(ctx context.Context, _ channel.MessageRef, _ string, allowed []string) (string, error) {
	step, ok := g.pop(&g.reactions)
	if !ok {
		return "", g.block(ctx, "reaction")
	}
	if step.Err == nil && !slices.Contains(allowed, step.Value) {
		return "", fmt.Errorf("scripted reaction %q not in %v", step.Value, allowed)
	}
	return step.Value, step.Err
}

func (g *Gateway) AwaitTextMessage(ctx context.Context, _, _ string) (string, error) {
	step, ok := g.pop(&g.texts)
	if !ok {
		return "", g.block(ctx, "text")
	}
	return step.Value, step.Err
}

func (g *Gateway) pop(script *[]Step) (Step, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(*script) == 0 {
		return Step{}, false
	}
	step := (*script)[0]
	*script = (*script)[1:]
	return step, true
}

func (g *Gateway) block(ctx context.Context, kind string) error {
	select {
	case g.Blocked <- kind:
	default:
	}
	<-ctx.Done()
	return context.Cause(ctx)
}

func (g *Gateway) GrantRole(_ context.Context, guildID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.GrantErr != nil {
		return g.GrantErr
	}
	g.grants = append(g.grants, Grant{GuildID: guildID, UserID: userID, RoleID: roleID})
	return nil
}

func (g *Gateway) DisplayLabel(_ context.Context, guildID, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.absent[memberKey(guildID, userID)] {
		return "", fmt.Errorf("user %s not in guild %s", userID, guildID)
	}
	return g.labels[memberKey(guildID, userID)], nil
}

func (g *Gateway) SetDisplayLabel(_ context.Context, guildID, userID, label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.labels[memberKey(guildID, userID)] = label
	return nil
}

func (g *Gateway) IsMember(_ context.Context, guildID, userID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.absent[memberKey(guildID, userID)], nil
}

// Sent returns every prompt sent so far.
func (g *Gateway) Sent() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.sent)
}

// SentTo returns prompts sent to a user's direct messages.
func (g *Gateway) SentTo(userID string) []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Sent
	for _, s := range g.sent {
		if s.Target.ChannelID == "" && s.Target.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

// SentIn returns prompts posted to channelID.
func (g *Gateway) SentIn(channelID string) []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Sent
	for _, s := range g.sent {
		if s.Target.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

func (g *Gateway) Edited() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.edited)
}

func (g *Gateway) Deleted() []channel.MessageRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.deleted)
}

func (g *Gateway) Grants() []Grant {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.grants)
}

func (g *Gateway) Label(guildID, userID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.labels[memberKey(guildID, userID)]
}
