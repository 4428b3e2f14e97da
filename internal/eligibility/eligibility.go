// Package eligibility scores a profile snapshot against a section's rules.
package eligibility

import (
	"fmt"

	"github.com/guildgate/guildgate/internal/profile"
)

// TierCount is the number of maxed-stat tiers (0 through 8).
const TierCount = profile.MaxTier + 1

// Reason identifies the first rule a profile failed.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonRank             Reason = "rank"
	ReasonFame             Reason = "fame"
	ReasonTiers            Reason = "tiers"
	ReasonCharactersHidden Reason = "characters_hidden"
)

// Rules are the eligibility thresholds of a section.
type Rules struct {
	MinRank int
	MinFame int
	// Tiers[t] is the minimum number of characters maxed in t or more stats,
	// where surplus at higher tiers satisfies lower-tier requirements.
	Tiers [TierCount]int
}

// RulesFromSlice builds Rules from a possibly short requirement slice.
func RulesFromSlice(minRank, minFame int, tiers []int) Rules {
	r := Rules{MinRank: minRank, MinFame: minFame}
	copy(r.Tiers[:], tiers)
	return r
}

// RequiresCharacters reports whether any tier requirement is set.
func (r Rules) RequiresCharacters() bool {
	for _, n := range r.Tiers {
		if n > 0 {
			return true
		}
	}
	return false
}

// Requirement is one displayable requirement/actual pair.
type Requirement struct {
	Label    string `json:"label"`
	Required int    `json:"required"`
	Actual   int    `json:"actual"`
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s: %d required, %d found", r.Label, r.Required, r.Actual)
}

// Result is the outcome of Evaluate.
type Result struct {
	Passed    bool
	Reason    Reason
	Rank      int
	Fame      int
	Histogram [TierCount]int
	Failures  []Requirement
}

// Retryable reports whether the user can fix the failure by changing profile
// visibility rather than by progressing in game.
func (r Result) Retryable() bool {
	return r.Reason == ReasonCharactersHidden
}

// Evaluate applies rules to snap. The first failing rule wins; cheap scalar checks
// run before the character sweep.
func Evaluate(rules Rules, snap profile.Snapshot) Result {
	res := Result{
		Rank: snap.Rank,
		Fame: snap.AliveFame,
	}
	if snap.Rank < rules.MinRank {
		res.Reason = ReasonRank
		res.Failures = []Requirement{{Label: "Rank", Required: rules.MinRank, Actual: snap.Rank}}
		return res
	}
	if snap.AliveFame < rules.MinFame {
		res.Reason = ReasonFame
		res.Failures = []Requirement{{Label: "Alive fame", Required: rules.MinFame, Actual: snap.AliveFame}}
		return res
	}
	if rules.RequiresCharacters() {
		if !snap.CharactersVisible {
			res.Reason = ReasonCharactersHidden
			return res
		}
		res.Histogram = snap.TierHistogram()
		if ok, tier := SweepTiers(rules.Tiers, res.Histogram); !ok {
			res.Reason = ReasonTiers
			res.Failures = tierFailures(rules.Tiers, res.Histogram, tier)
			return res
		}
	} else if snap.CharactersVisible {
		res.Histogram = snap.TierHistogram()
	}
	res.Passed = true
	return res
}

// SweepTiers walks tiers from highest to lowest accumulating actual minus required.
// A negative running total is a failure at that tier. Tiers with a zero requirement
// still bank their characters as surplus for lower tiers.
func SweepTiers(required, actual [TierCount]int) (bool, int) {
	surplus := 0
	for tier := TierCount - 1; tier >= 0; tier-- {
		surplus += actual[tier] - required[tier]
		if surplus < 0 {
			return false, tier
		}
	}
	return true, -1
}

func tierFailures(required, actual [TierCount]int, failedTier int) []Requirement {
	var out []Requirement
	needed, have := 0, 0
	for tier := TierCount - 1; tier >= failedTier; tier-- {
		needed += required[tier]
		have += actual[tier]
		if required[tier] == 0 {
			continue
		}
		out = append(out, Requirement{
			Label:    fmt.Sprintf("Characters %d/%d or better", tier, profile.MaxTier),
			Required: needed,
			Actual:   have,
		})
	}
	return out
}
