package channel

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Event is an inbound platform event that may satisfy a pending wait.
type Event struct {
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
	Content   string
}

// ReactionKey keys reaction waits by message.
func ReactionKey(messageID string) string { return "reaction:" + messageID }

// TextKey keys text waits by channel.
func TextKey(channelID string) string { return "text:" + channelID }

type waiter struct {
	match func(Event) bool
	ch    chan Event
}

// Waiters is a one-shot dispatcher: each registered wait receives at most one
// matching event, after which it is removed. Events that match nothing are dropped.
type Waiters struct {
	mu      sync.Mutex
	pending map[string]map[string]*waiter
}

// NewWaiters creates an empty registry.
func NewWaiters() *Waiters {
	return &Waiters{pending: map[string]map[string]*waiter{}}
}

// Register adds a wait under key. The returned cancel is idempotent.
func (w *Waiters) Register(key string, match func(Event) bool) (<-chan Event, func()) {
	id := uuid.NewString()
	wt := &waiter{match: match, ch: make(chan Event, 1)}

	w.mu.Lock()
	group, ok := w.pending[key]
	if !ok {
		group = map[string]*waiter{}
		w.pending[key] = group
	}
	group[id] = wt
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			w.removeLocked(key, id)
			w.mu.Unlock()
		})
	}
	return wt.ch, cancel
}

// Dispatch delivers ev to the first matching wait under key and reports whether one matched.
func (w *Waiters) Dispatch(key string, ev Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, wt := range w.pending[key] {
		if wt.match != nil && !wt.match(ev) {
			continue
		}
		w.removeLocked(key, id)
		wt.ch <- ev
		return true
	}
	return false
}

// Pending returns the number of outstanding waits under key.
func (w *Waiters) Pending(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending[key])
}

func (w *Waiters) removeLocked(key, id string) {
	group := w.pending[key]
	if group == nil {
		return
	}
	delete(group, id)
	if len(group) == 0 {
		delete(w.pending, key)
	}
}

// Await registers a wait and blocks until it is satisfied or ctx is done.
func (w *Waiters) Await(ctx context.Context, key string, match func(Event) bool) (Event, error) {
	ch, cancel := w.Register(key, match)
	defer cancel()
	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, context.Cause(ctx)
	}
}

// AwaitReaction waits for userID to add one of allowed to messageID.
func (w *Waiters) AwaitReaction(ctx context.Context, messageID, userID string, allowed []string) (string, error) {
	ev, err := w.Await(ctx, ReactionKey(messageID), func(ev Event) bool {
		return ev.UserID == userID && slices.Contains(allowed, ev.Emoji)
	})
	if err != nil {
		return "", err
	}
	return ev.Emoji, nil
}

// AwaitText waits for userID to post a message in channelID.
func (w *Waiters) AwaitText(ctx context.Context, channelID, userID string) (string, error) {
	ev, err := w.Await(ctx, TextKey(channelID), func(ev Event) bool {
		return ev.UserID == userID
	})
	if err != nil {
		return "", err
	}
	return ev.Content, nil
}
