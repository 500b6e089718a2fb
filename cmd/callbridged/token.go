package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/callbridge/callbridge/internal/auth"
	"github.com/callbridge/callbridge/internal/config"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bridge access tokens",
	}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	var (
		subject    string
		role       string
		ttl        time.Duration
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bridge token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.UsingDevKey {
				fmt.Fprintln(os.Stderr, "warning: BRIDGE_JWT_SECRET is not set, signing with the development key")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			tokens, err := auth.NewTokenService(auth.DefaultTokenConfig(cfg.Auth.SigningKey))
			if err != nil {
				return err
			}
			token, expiresAt, err := tokens.Issue(subject, auth.Role(role), ttl)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(map[string]string{
					"token":     token,
					"role":      role,
					"subject":   subject,
					"expiresAt": expiresAt.UTC().Format(time.RFC3339),
				})
			}
			_, err = fmt.Fprintln(out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "shell", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleShell), "token role (shell or operator)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default BRIDGE_TOKEN_TTL)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
