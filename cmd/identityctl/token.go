package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
)

func newMintTokenCmd() *cobra.Command {
	var (
		role    string
		email   string
		subject string
	)
	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Mint a service-realm token for automation calling the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			r := domain.Role(role)
			if !auth.IsIssuerRole(r) {
				return fmt.Errorf("role %q cannot issue credentials", role)
			}

			sub := uuid.New()
			if subject != "" {
				if sub, err = uuid.Parse(subject); err != nil {
					return fmt.Errorf("parse subject: %w", err)
				}
			}

			jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTSessionExpiry, cfg.JWTServiceExpiry)
			token, err := jwtMgr.GenerateToken(auth.TokenParams{
				Realm:     auth.RealmService,
				SubjectID: sub,
				Email:     email,
				Role:      r,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleHRManager), "Issuer role carried by the token")
	cmd.Flags().StringVar(&email, "email", "", "Operator email recorded as the issuer")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject UUID (random when empty)")
	return cmd
}
