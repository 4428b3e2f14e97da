// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultJWTExpiresIn     = "24h"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "guildgate"
	DefaultPGSSLMode        = "disable"
	DefaultProfileBaseURL   = "http://127.0.0.1:5000/api"
	DefaultProfileTimeout   = "10s"
	DefaultProfileRPS       = 2.0
	DefaultProfileBurst     = 4
	DefaultNameTimeout      = "2m"
	DefaultChallengeTimeout = "15m"
	DefaultConsentTimeout   = "2m"
	DefaultMaxAlternates    = 5
	DefaultChallengeLength  = 8
	DefaultSweepSchedule    = "@every 1h"
	DefaultVerifyKeyword    = "verify"
	TierCount               = 9
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Auth         AuthConfig         `toml:"auth"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Discord      DiscordConfig      `toml:"discord"`
	Profile      ProfileConfig      `toml:"profile"`
	Verification VerificationConfig `toml:"verification"`
	Review       ReviewConfig       `toml:"review"`
	Guilds       []GuildConfig      `toml:"guilds"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the admin HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds the admin API JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DiscordConfig holds the bot token and trigger keyword.
type DiscordConfig struct {
	BotToken      string `toml:"bot_token"`
	VerifyKeyword string `toml:"verify_keyword"`
}

// ProfileConfig configures the external profile service client.
type ProfileConfig struct {
	BaseURL           string  `toml:"base_url"`
	Timeout           string  `toml:"timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	UserAgent         string  `toml:"user_agent"`
}

// VerificationConfig holds per-stage timeouts and identity limits.
type VerificationConfig struct {
	NameTimeout      string `toml:"name_timeout"`
	ChallengeTimeout string `toml:"challenge_timeout"`
	ConsentTimeout   string `toml:"consent_timeout"`
	MaxAlternates    int    `toml:"max_alternates"`
	ChallengeLength  int    `toml:"challenge_length"`
}

// ReviewConfig holds the manual review sweep schedule.
type ReviewConfig struct {
	SweepSchedule string `toml:"sweep_schedule"`
}

// GuildConfig is one community and its verification sections.
type GuildConfig struct {
	ID       string          `toml:"id"`
	Name     string          `toml:"name"`
	Sections []SectionConfig `toml:"sections"`
}

// SectionConfig holds the eligibility rules of one section.
type SectionConfig struct {
	ID                  string `toml:"id"`
	Name                string `toml:"name"`
	VerificationChannel string `toml:"verification_channel"`
	VerifiedRole        string `toml:"verified_role"`
	MinRank             int    `toml:"min_rank"`
	MinFame             int    `toml:"min_fame"`
	TierRequirements    []int  `toml:"tier_requirements"`
	ManualReviewChannel string `toml:"manual_review_channel"`
}

// Timeouts is the parsed form of VerificationConfig durations.
type Timeouts struct {
	Name      time.Duration
	Challenge time.Duration
	Consent   time.Duration
}

// ParseTimeouts parses the stage timeouts, falling back to defaults for empty values.
func (c VerificationConfig) ParseTimeouts() (Timeouts, error) {
	name, err := parseDuration(c.NameTimeout, DefaultNameTimeout)
	if err != nil {
		return Timeouts{}, fmt.Errorf("name_timeout: %w", err)
	}
	challenge, err := parseDuration(c.ChallengeTimeout, DefaultChallengeTimeout)
	if err != nil {
		return Timeouts{}, fmt.Errorf("challenge_timeout: %w", err)
	}
	consent, err := parseDuration(c.ConsentTimeout, DefaultConsentTimeout)
	if err != nil {
		return Timeouts{}, fmt.Errorf("consent_timeout: %w", err)
	}
	return Timeouts{Name: name, Challenge: challenge, Consent: consent}, nil
}

// ParsedTimeout returns the profile request timeout.
func (c ProfileConfig) ParsedTimeout() (time.Duration, error) {
	return parseDuration(c.Timeout, DefaultProfileTimeout)
}

func parseDuration(raw, fallback string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", raw)
	}
	return d, nil
}

// Validate checks guild and section definitions for missing identifiers and
// malformed tier requirement vectors.
func (c Config) Validate() error {
	seen := map[string]struct{}{}
	for _, g := range c.Guilds {
		if strings.TrimSpace(g.ID) == "" {
			return fmt.Errorf("guild id is required")
		}
		for _, s := range g.Sections {
			if strings.TrimSpace(s.ID) == "" {
				return fmt.Errorf("guild %s: section id is required", g.ID)
			}
			key := g.ID + "/" + s.ID
			if _, ok := seen[key]; ok {
				return fmt.Errorf("guild %s: duplicate section %s", g.ID, s.ID)
			}
			seen[key] = struct{}{}
			if len(s.TierRequirements) > TierCount {
				return fmt.Errorf("guild %s section %s: tier_requirements has %d entries, max %d", g.ID, s.ID, len(s.TierRequirements), TierCount)
			}
			for _, n := range s.TierRequirements {
				if n < 0 {
					return fmt.Errorf("guild %s section %s: negative tier requirement", g.ID, s.ID)
				}
			}
		}
	}
	return nil
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Discord: DiscordConfig{
			VerifyKeyword: DefaultVerifyKeyword,
		},
		Profile: ProfileConfig{
			BaseURL:           DefaultProfileBaseURL,
			Timeout:           DefaultProfileTimeout,
			RequestsPerSecond: DefaultProfileRPS,
			Burst:             DefaultProfileBurst,
			UserAgent:         "guildgate",
		},
		Verification: VerificationConfig{
			NameTimeout:      DefaultNameTimeout,
			ChallengeTimeout: DefaultChallengeTimeout,
			ConsentTimeout:   DefaultConsentTimeout,
			MaxAlternates:    DefaultMaxAlternates,
			ChallengeLength:  DefaultChallengeLength,
		},
		Review: ReviewConfig{
			SweepSchedule: DefaultSweepSchedule,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if value := os.Getenv("HTTP_ADDR"); value != "" {
		cfg.Server.Addr = value
	}
	if value := os.Getenv("DISCORD_TOKEN"); value != "" {
		cfg.Discord.BotToken = value
	}
	if value := os.Getenv("JWT_SECRET"); value != "" {
		cfg.Auth.JWTSecret = value
	}
}
