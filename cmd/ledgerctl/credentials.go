package main

import (
	"fmt"
	"time"

	"paysa/internal/config"
	"paysa/internal/models"
	"paysa/internal/utils"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		role        string
		permissions []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Issue a bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv()
			cfg := config.Load()
			tok, err := utils.IssueToken(models.UserClaims{
				UserID:      args[0],
				Role:        role,
				Permissions: permissions,
			}, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "Role claim")
	cmd.Flags().StringSliceVarP(&permissions, "permission", "p", nil, "Permissions; defaults to the standard user set")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func partnerKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partner-key",
		Short: "Generate a settlement callback key and the hash to configure",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := utils.GenerateSecureCode()
			if err != nil {
				return err
			}
			hash, err := utils.HashSecret(key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:  %s\n", key)
			fmt.Fprintf(out, "hash: %s\n", hash)
			fmt.Fprintln(out, "Give the key to the partner and append the hash to PARTNER_KEY_HASHES.")
			return nil
		},
	}
}
