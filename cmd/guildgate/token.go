package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/guildgate/guildgate/internal/auth"
	"github.com/guildgate/guildgate/internal/config"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl, err = parseExpiry(cfg.Auth)
				if err != nil {
					return err
				}
			}
			token, expires, err := auth.GenerateToken(subject, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator name recorded on moderation actions")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.jwt_expires_in)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func parseExpiry(cfg config.AuthConfig) (time.Duration, error) {
	raw := strings.TrimSpace(cfg.JWTExpiresIn)
	if raw == "" {
		raw = config.DefaultJWTExpiresIn
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("auth.jwt_expires_in: %w", err)
	}
	return d, nil
}
