// Package review is the durable queue of verification appeals awaiting a moderator.
package review

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/guildgate/guildgate/internal/channel"
)

var (
	ErrRequestNotFound = errors.New("review request not found")
	ErrAlreadyPending  = errors.New("review request already pending for this member")
	ErrNoReviewChannel = errors.New("section has no manual review channel")
	ErrInvalidOutcome  = errors.New("invalid review outcome")
)

// Outcome is a moderator's decision.
type Outcome string

const (
	OutcomeAccept Outcome = "accept"
	OutcomeDeny   Outcome = "deny"
	OutcomeIgnore Outcome = "ignore"
)

// ParseOutcome accepts outcome names and the review prompt emoji.
func ParseOutcome(raw string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(OutcomeAccept), channel.EmojiYes:
		return OutcomeAccept, nil
	case string(OutcomeDeny), channel.EmojiNo:
		return OutcomeDeny, nil
	case string(OutcomeIgnore), channel.EmojiIgnore:
		return OutcomeIgnore, nil
	default:
		return "", ErrInvalidOutcome
	}
}

// Snapshot is what the session knew when it escalated. It is never re-fetched.
type Snapshot struct {
	ClaimedName string   `json:"claimed_name"`
	Rank        int      `json:"rank"`
	Fame        int      `json:"fame"`
	NameHistory []string `json:"name_history"`
	FailReason  string   `json:"fail_reason"`
	FailDetail  string   `json:"fail_detail"`
}

// Request is one pending appeal, unique per (community, section, user).
type Request struct {
	ID          string             `json:"id"`
	CommunityID string             `json:"community_id"`
	SectionID   string             `json:"section_id"`
	UserID      string             `json:"user_id"`
	Snapshot    Snapshot           `json:"snapshot"`
	Prompt      channel.MessageRef `json:"prompt"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (r Request) clone() Request {
	r.Snapshot.NameHistory = slices.Clone(r.Snapshot.NameHistory)
	return r
}

func sameMember(r Request, communityID, sectionID, userID string) bool {
	return r.CommunityID == communityID && strings.EqualFold(r.SectionID, sectionID) && r.UserID == userID
}
