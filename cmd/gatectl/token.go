package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"votegate/internal/platform/admintoken"
)

func (c *cli) tokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the color list admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Admin.JWTSigningKey == "" {
				return errors.New("ADMIN_JWT_KEY is required")
			}
			if ttl <= 0 {
				ttl = c.cfg.Admin.TokenTTL
			}
			token, err := admintoken.New(c.cfg.Admin.JWTSigningKey, c.cfg.Admin.Issuer).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", operator(), "operator recorded as the actor of admin changes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ADMIN_TOKEN_TTL)")
	return cmd
}
