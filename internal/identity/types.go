// Package identity keeps the cross-community record of which chat account owns
// which external game accounts, and reconciles it after each verification.
package identity

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Errors returned by identity operations.
var (
	ErrRecordNotFound  = errors.New("identity record not found")
	ErrNameNotLinked   = errors.New("name is not linked to this record")
	ErrConflict        = errors.New("multiple records claim this identity")
	ErrAlternateLimit  = errors.New("alternate account limit reached")
	ErrNameTaken       = errors.New("name key already belongs to another record")
	ErrOwnerTaken      = errors.New("owner already has a record")
	ErrVersionConflict = errors.New("record was modified concurrently")
	ErrInvalidName     = errors.New("invalid name")
)

// NormalizeName returns the lookup key of an external account name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Name is an external account name with its lookup key.
type Name struct {
	Display string `json:"display"`
	Key     string `json:"key"`
}

// NewName builds a Name from its display form.
func NewName(display string) Name {
	display = strings.TrimSpace(display)
	return Name{Display: display, Key: NormalizeName(display)}
}

// ActivityKind is one of the per-community activity counters.
type ActivityKind string

const (
	ActivityPopped        ActivityKind = "popped"
	ActivityStored        ActivityKind = "stored"
	ActivityRunsCompleted ActivityKind = "runs_completed"
	ActivityRunsLed       ActivityKind = "runs_led"
)

// ParseActivityKind validates a counter name.
func ParseActivityKind(raw string) (ActivityKind, bool) {
	switch k := ActivityKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case ActivityPopped, ActivityStored, ActivityRunsCompleted, ActivityRunsLed:
		return k, true
	default:
		return "", false
	}
}

// ActivityCounters holds one community's counters for a player.
type ActivityCounters struct {
	CommunityID   string `json:"community_id"`
	Popped        int    `json:"popped"`
	Stored        int    `json:"stored"`
	RunsCompleted int    `json:"runs_completed"`
	RunsLed       int    `json:"runs_led"`
}

func (c *ActivityCounters) add(kind ActivityKind, amount int) {
	switch kind {
	case ActivityPopped:
		c.Popped += amount
	case ActivityStored:
		c.Stored += amount
	case ActivityRunsCompleted:
		c.RunsCompleted += amount
	case ActivityRunsLed:
		c.RunsLed += amount
	}
}

// Record is one real player: a chat account plus its external names.
type Record struct {
	ID           string             `json:"id"`
	OwnerID      string             `json:"owner_id,omitempty"`
	Primary      Name               `json:"primary"`
	Alternates   []Name             `json:"alternates"`
	Activity     []ActivityCounters `json:"activity"`
	Version      int64              `json:"version"`
	LastModified time.Time          `json:"last_modified"`
}

// Keys returns every name key held by the record, primary first.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Alternates)+1)
	if r.Primary.Key != "" {
		keys = append(keys, r.Primary.Key)
	}
	for _, alt := range r.Alternates {
		keys = append(keys, alt.Key)
	}
	return keys
}

// HasKey reports whether key is the primary or an alternate of the record.
func (r Record) HasKey(key string) bool {
	return r.Primary.Key == key || r.AlternateIndex(key) >= 0
}

// AlternateIndex returns the position of key in the alternates, or -1.
func (r Record) AlternateIndex(key string) int {
	return slices.IndexFunc(r.Alternates, func(n Name) bool { return n.Key == key })
}

// ActivityFor returns the counters of a community, or zero counters.
func (r Record) ActivityFor(communityID string) ActivityCounters {
	for _, c := range r.Activity {
		if c.CommunityID == communityID {
			return c
		}
	}
	return ActivityCounters{CommunityID: communityID}
}

// Communities lists the communities the record has activity in.
func (r Record) Communities() []string {
	out := make([]string, 0, len(r.Activity))
	for _, c := range r.Activity {
		out = append(out, c.CommunityID)
	}
	return out
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Alternates = slices.Clone(r.Alternates)
	out.Activity = slices.Clone(r.Activity)
	return out
}

// Outcome classifies what Reconcile did.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeClaimed          Outcome = "claimed"
	OutcomePrimaryRenamed   Outcome = "primary_renamed"
	OutcomeAlternateRenamed Outcome = "alternate_renamed"
	OutcomeAlternateAdded   Outcome = "alternate_added"
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeConflict         Outcome = "conflict"
)

// Rename maps an old display name to its replacement.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Result is the outcome of Reconcile.
type Result struct {
	Outcome Outcome
	Record  Record
	// Rename is set when an existing name was overwritten in place.
	Rename *Rename
	// ConflictingIDs lists the records involved in an OutcomeConflict.
	ConflictingIDs []string
}
