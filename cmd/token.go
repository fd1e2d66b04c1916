package cmd

import (
	"errors"
	"fmt"
	"time"

	"RadioRoyal/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenHash    string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a relay token, or hash the admin password with --hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if tokenHash != "" {
			hash, err := auth.HashPassword(tokenHash)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ADMIN_PASSWORD_HASH=%s\n", hash)
			return nil
		}
		signer := auth.NewSigner(cfg.RelayJWTSecret, tokenTTL)
		if !signer.Enabled() {
			return errors.New("RELAY_JWT_SECRET is not set")
		}
		token, err := signer.Issue(tokenSubject, auth.RoleBroadcaster)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "RELAY_TOKEN=%s\n", token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenHash, "hash", "", "print the bcrypt hash of this password")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "studio", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
}
