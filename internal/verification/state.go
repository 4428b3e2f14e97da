// Package verification runs the interactive flow that proves a member controls a
// game account and gates section roles on the account's standing.
package verification

import (
	"errors"

	"github.com/guildgate/guildgate/internal/blacklist"
	"github.com/guildgate/guildgate/internal/eligibility"
	"github.com/guildgate/guildgate/internal/identity"
)

var (
	ErrSessionActive = errors.New("verification already in progress for this member and section")
	ErrCanceled      = errors.New("verification canceled")
	ErrTimedOut      = errors.New("verification timed out")
)

// State is a node of the session state machine.
type State string

const (
	StateAwaitingName                State = "awaiting_name"
	StateAwaitingChallengeConfirm    State = "awaiting_challenge_confirm"
	StateFetching                    State = "fetching"
	StateEvaluatingEligibility       State = "evaluating_eligibility"
	StateAwaitingManualReviewConsent State = "awaiting_manual_review_consent"
	StateSuccess                     State = "success"
	StateDenied                      State = "denied"
	StateManualReviewPending         State = "manual_review_pending"
	StateCanceled                    State = "canceled"
	StateTimedOut                    State = "timed_out"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateDenied, StateManualReviewPending, StateCanceled, StateTimedOut:
		return true
	default:
		return false
	}
}

// Mode selects what a successful session does with the verified account.
type Mode string

const (
	// ModeVerify grants the section role and reconciles the primary identity.
	ModeVerify Mode = "verify"
	// ModeAlternate links the account as an alternate. The challenge is always required.
	ModeAlternate Mode = "alternate"
)

// Request starts a session.
type Request struct {
	GuildID   string
	SectionID string
	UserID    string
	Mode      Mode
}

// Outcome describes how a session ended.
type Outcome struct {
	State State
	// Name is the verified or last claimed account name.
	Name string
	// Eligibility is set once the profile was evaluated.
	Eligibility *eligibility.Result
	// Blacklisted is set when a name on the account's history matched a blacklist.
	Blacklisted *blacklist.Match
	// Reconciled is set on success in ModeVerify. Conflicts and limit errors are
	// reported through LinkErr and do not change State.
	Reconciled *identity.Result
	LinkErr    error
	// ReviewID is set when the session handed off to manual review.
	ReviewID string
	// Err carries the external failure behind a Denied state, or the cancel cause.
	Err error
}
