package verification

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Testing", true},
		{"a", true},
		{"Abcdefghij", true},
		{" Padded ", true},
		{"Abcdefghijk", false},
		{"", false},
		{"Two Words", false},
		{"Name1", false},
		{"Näme", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidName(tt.in))
		})
	}
}

func TestNewChallengeCode(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		code := NewChallengeCode(8)
		assert.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(challengeAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
	assert.Len(t, NewChallengeCode(0), 8)
}

func TestStateTerminal(t *testing.T) {
	for _, st := range []State{StateSuccess, StateDenied, StateManualReviewPending, StateCanceled, StateTimedOut} {
		assert.True(t, st.Terminal(), st)
	}
	for _, st := range []State{StateAwaitingName, StateAwaitingChallengeConfirm, StateFetching, StateEvaluatingEligibility, StateAwaitingManualReviewConsent} {
		assert.False(t, st.Terminal(), st)
	}
}
