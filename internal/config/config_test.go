package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultMaxAlternates, cfg.Verification.MaxAlternates)
	assert.Equal(t, DefaultVerifyKeyword, cfg.Discord.VerifyKeyword)

	timeouts, err := cfg.Verification.ParseTimeouts()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, timeouts.Name)
	assert.Equal(t, 15*time.Minute, timeouts.Challenge)
	assert.Equal(t, 2*time.Minute, timeouts.Consent)
}

func TestLoadGuildSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[discord]
bot_token = "abc"

[[guilds]]
id = "100"
name = "Pub Halls"

[[guilds.sections]]
id = "main"
verified_role = "200"
min_rank = 20
min_fame = 500
tier_requirements = [0, 0, 0, 0, 0, 0, 0, 1, 0]
manual_review_channel = "300"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Guilds, 1)
	require.Len(t, cfg.Guilds[0].Sections, 1)
	section := cfg.Guilds[0].Sections[0]
	assert.Equal(t, 20, section.MinRank)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 0, 1, 0}, section.TierRequirements)
	assert.Equal(t, "300", section.ManualReviewChannel)
	assert.Equal(t, "abc", cfg.Discord.BotToken)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("HTTP_ADDR", ":9999")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Discord.BotToken)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		guilds  []GuildConfig
		wantErr bool
	}{
		{"empty", nil, false},
		{"missing guild id", []GuildConfig{{}}, true},
		{"missing section id", []GuildConfig{{ID: "1", Sections: []SectionConfig{{}}}}, true},
		{"duplicate section", []GuildConfig{{ID: "1", Sections: []SectionConfig{{ID: "a"}, {ID: "a"}}}}, true},
		{"too many tiers", []GuildConfig{{ID: "1", Sections: []SectionConfig{{ID: "a", TierRequirements: make([]int, 10)}}}}, true},
		{"negative tier", []GuildConfig{{ID: "1", Sections: []SectionConfig{{ID: "a", TierRequirements: []int{-1}}}}}, true},
		{"valid", []GuildConfig{{ID: "1", Sections: []SectionConfig{{ID: "a", TierRequirements: []int{1, 2}}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Guilds: tt.guilds}.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTimeoutsRejectsInvalid(t *testing.T) {
	_, err := VerificationConfig{NameTimeout: "soon"}.ParseTimeouts()
	assert.Error(t, err)
	_, err = VerificationConfig{ConsentTimeout: "-1s"}.ParseTimeouts()
	assert.Error(t, err)
}
