// Package profile fetches public game profiles and their rename history.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxTier is the highest maxed-stat tier a character can reach.
const MaxTier = 8

// Errors returned by the profile client.
var (
	ErrNotFound      = errors.New("profile not found")
	ErrHistoryHidden = errors.New("name history is hidden")
)

// ServiceError is a transport or upstream failure while talking to the profile service.
type ServiceError struct {
	Op     string
	Status int
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("profile service %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("profile service %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsServiceError reports whether err is (or wraps) a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// Character is one character on a profile.
type Character struct {
	Class      string `json:"class"`
	MaxedStats int    `json:"stats_maxed"`
}

// Snapshot is the read-only view of a profile at fetch time.
type Snapshot struct {
	Name              string      `json:"name"`
	Rank              int         `json:"rank"`
	AliveFame         int         `json:"fame"`
	LastSeen          string      `json:"last_seen"`
	Description       []string    `json:"description"`
	Characters        []Character `json:"characters"`
	CharactersVisible bool        `json:"characters_visible"`
}

// LastSeenHidden reports whether the profile hides the player's last seen location.
func (s Snapshot) LastSeenHidden() bool {
	v := strings.ToLower(strings.TrimSpace(s.LastSeen))
	return v == "" || v == "hidden" || v == "-"
}

// HasDescriptionLine reports whether any description line contains token verbatim.
func (s Snapshot) HasDescriptionLine(token string) bool {
	if token == "" {
		return false
	}
	for _, line := range s.Description {
		if strings.Contains(line, token) {
			return true
		}
	}
	return false
}

// TierHistogram counts characters per maxed-stat tier. Out of range tiers are clamped.
func (s Snapshot) TierHistogram() [MaxTier + 1]int {
	var hist [MaxTier + 1]int
	for _, c := range s.Characters {
		tier := min(max(c.MaxedStats, 0), MaxTier)
		hist[tier]++
	}
	return hist
}

// NameHistoryEntry is one name an account has held. Lists are ordered newest first,
// entry 0 being the current name.
type NameHistoryEntry struct {
	Name string    `json:"name"`
	From time.Time `json:"from"`
	To   time.Time `json:"to,omitzero"`
}

// Names returns the names of a history list in order.
func Names(history []NameHistoryEntry) []string {
	out := make([]string, 0, len(history))
	for _, h := range history {
		out = append(out, h.Name)
	}
	return out
}
