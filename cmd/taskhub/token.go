// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package main

import (
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskhub/taskhub/internal/auth"
	"github.com/taskhub/taskhub/internal/config"
)

// tokenConfig holds flags for the token command.
type tokenConfig struct {
	userID string
	email  string
	ttl    time.Duration
}

// Validate checks that the configuration is valid.
func (cfg *tokenConfig) Validate() error {
	if cfg.userID == "" {
		return oops.Code(config.CodeInvalid).With("field", "user-id").Errorf("user-id is required")
	}
	if cfg.ttl < 0 {
		return oops.Code(config.CodeInvalid).With("field", "ttl").Errorf("ttl must not be negative")
	}
	return nil
}

// NewTokenCmd creates the token subcommand.
func NewTokenCmd() *cobra.Command {
	cfg := &tokenConfig{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token for the socket handshake",
		Long: `Sign a token with the configured jwt_secret so a client can
connect to the socket endpoint without the REST login flow.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			appCfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			return runToken(cmd, appCfg.JWT(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.userID, "user-id", "", "user id to embed in the token")
	cmd.Flags().StringVar(&cfg.email, "email", "", "email to embed in the token")
	cmd.Flags().DurationVar(&cfg.ttl, "ttl", time.Hour, "token lifetime (0 = no expiry)")

	return cmd
}

func runToken(cmd *cobra.Command, jwtCfg auth.JWTConfig, cfg *tokenConfig) error {
	issuer, err := auth.NewJWTIssuer(jwtCfg)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(auth.Identity{ID: cfg.userID, Email: cfg.email}, cfg.ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
