// Package blacklist holds the community and network-wide name blacklists and the
// read-only filter consulted before a verification is finalized.
package blacklist

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEntryNotFound = errors.New("blacklist entry not found")
	ErrInvalidEntry  = errors.New("blacklist entry requires a name")
)

// Scope tells which list an entry belongs to.
type Scope string

const (
	ScopeCommunity Scope = "community"
	ScopeNetwork   Scope = "network"
)

// Entry is one blacklisted external name. OriginCommunity is only set on
// network entries and names the community that raised the ban.
type Entry struct {
	NameKey         string    `json:"name_key"`
	Reason          string    `json:"reason"`
	Moderator       string    `json:"moderator"`
	CreatedAt       time.Time `json:"created_at"`
	OriginCommunity string    `json:"origin_community,omitempty"`
}

// Match is the first entry that hit during a lookup.
type Match struct {
	Scope   Scope  `json:"scope"`
	NameKey string `json:"name_key"`
	Entry   Entry  `json:"entry"`
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// normalizeKeys lowercases keys, dropping blanks and repeats while keeping order.
func normalizeKeys(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		k := normalizeKey(n)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
