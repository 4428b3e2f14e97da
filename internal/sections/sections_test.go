package sections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgate/guildgate/internal/config"
)

func testConfig() config.Config {
	return config.Config{Guilds: []config.GuildConfig{
		{ID: "g1", Sections: []config.SectionConfig{
			{ID: "main", VerificationChannel: "c-verify", VerifiedRole: "r1", MinRank: 10, TierRequirements: []int{0, 0, 0, 0, 0, 0, 0, 1}},
			{ID: "Veterans", Name: "Vets", VerificationChannel: "c-vets", ManualReviewChannel: "c-review"},
		}},
		{ID: "g2"},
	}}
}

func TestStaticStoreGet(t *testing.T) {
	store := NewStaticStore(testConfig())

	sec, err := store.Get("g1", "main")
	require.NoError(t, err)
	assert.Equal(t, "main", sec.Name)
	assert.Equal(t, 10, sec.Rules.MinRank)
	assert.Equal(t, 1, sec.Rules.Tiers[7])
	assert.False(t, sec.HasManualReview())

	vets, err := store.Get("g1", "veterans")
	require.NoError(t, err)
	assert.Equal(t, "Vets", vets.Name)
	assert.True(t, vets.HasManualReview())

	_, err = store.Get("g2", "main")
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestStaticStoreChannelLookups(t *testing.T) {
	store := NewStaticStore(testConfig())

	sec, ok := store.ByVerificationChannel("g1", "c-vets")
	require.True(t, ok)
	assert.Equal(t, "Veterans", sec.ID)

	_, ok = store.ByVerificationChannel("g2", "c-vets")
	assert.False(t, ok)

	assert.Len(t, store.ByReviewChannel("g1", "c-review"), 1)
	assert.Empty(t, store.ByReviewChannel("g1", "c-verify"))
	assert.Equal(t, []string{"g1", "g2"}, store.Guilds())
}
