package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chachabrian/mooveit-rides/internal/config"
	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/pkg/utils"
)

// newTokenCmd mints a signed token for local testing against the API.
func newTokenCmd() *cobra.Command {
	var (
		userID uint
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a user id and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			r := models.UserRole(role)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q", role)
			}
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}

			token, err := utils.GenerateToken(cfg.JWTSecret, models.Principal{UserID: userID, Role: r}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().UintVar(&userID, "user", 0, "user id to embed in the token")
	cmd.Flags().StringVar(&role, "role", string(models.UserRolePassenger), "user role (passenger or driver)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
