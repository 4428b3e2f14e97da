// Package sections exposes read-only verification section rules per community.
package sections

import (
	"errors"
	"strings"

	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/eligibility"
)

// ErrSectionNotFound is returned when a (guild, section) pair is not configured.
var ErrSectionNotFound = errors.New("section not found")

// Section is one verification scope inside a community.
type Section struct {
	GuildID             string
	ID                  string
	Name                string
	VerificationChannel string
	VerifiedRole        string
	ManualReviewChannel string
	Rules               eligibility.Rules
}

// HasManualReview reports whether failed verifications may be escalated.
func (s Section) HasManualReview() bool {
	return strings.TrimSpace(s.ManualReviewChannel) != ""
}

// Store is a read-only lookup of configured sections.
type Store interface {
	Get(guildID, sectionID string) (Section, error)
	ByVerificationChannel(guildID, channelID string) (Section, bool)
	ByReviewChannel(guildID, channelID string) []Section
	Guilds() []string
}

// StaticStore serves sections loaded from configuration.
type StaticStore struct {
	sections map[string]Section
	order    []string
	guilds   []string
}

var _ Store = (*StaticStore)(nil)

// NewStaticStore indexes the guild sections of cfg.
func NewStaticStore(cfg config.Config) *StaticStore {
	s := &StaticStore{sections: map[string]Section{}}
	for _, g := range cfg.Guilds {
		guildID := strings.TrimSpace(g.ID)
		s.guilds = append(s.guilds, guildID)
		for _, sc := range g.Sections {
			sec := Section{
				GuildID:             guildID,
				ID:                  strings.TrimSpace(sc.ID),
				Name:                strings.TrimSpace(sc.Name),
				VerificationChannel: strings.TrimSpace(sc.VerificationChannel),
				VerifiedRole:        strings.TrimSpace(sc.VerifiedRole),
				ManualReviewChannel: strings.TrimSpace(sc.ManualReviewChannel),
				Rules:               eligibility.RulesFromSlice(sc.MinRank, sc.MinFame, sc.TierRequirements),
			}
			if sec.Name == "" {
				sec.Name = sec.ID
			}
			key := sectionKey(guildID, sec.ID)
			s.sections[key] = sec
			s.order = append(s.order, key)
		}
	}
	return s
}

// Get returns the section with the given id in a guild.
func (s *StaticStore) Get(guildID, sectionID string) (Section, error) {
	sec, ok := s.sections[sectionKey(guildID, sectionID)]
	if !ok {
		return Section{}, ErrSectionNotFound
	}
	return sec, nil
}

// ByVerificationChannel returns the section whose trigger channel is channelID.
func (s *StaticStore) ByVerificationChannel(guildID, channelID string) (Section, bool) {
	for _, key := range s.order {
		sec := s.sections[key]
		if sec.GuildID == guildID && sec.VerificationChannel != "" && sec.VerificationChannel == channelID {
			return sec, true
		}
	}
	return Section{}, false
}

// ByReviewChannel returns sections that post manual reviews into channelID.
func (s *StaticStore) ByReviewChannel(guildID, channelID string) []Section {
	var out []Section
	for _, key := range s.order {
		sec := s.sections[key]
		if sec.GuildID == guildID && sec.ManualReviewChannel == channelID {
			out = append(out, sec)
		}
	}
	return out
}

// Guilds lists configured guild ids in config order.
func (s *StaticStore) Guilds() []string {
	out := make([]string, len(s.guilds))
	copy(out, s.guilds)
	return out
}

func sectionKey(guildID, sectionID string) string {
	return strings.TrimSpace(guildID) + "/" + strings.ToLower(strings.TrimSpace(sectionID))
}
