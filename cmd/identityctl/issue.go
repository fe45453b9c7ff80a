package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/attaboy/identity/internal/app"
	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/repository"
	"github.com/attaboy/identity/internal/service"
)

func newIssueCmd() *cobra.Command {
	var (
		role   string
		issuer string
	)
	cmd := &cobra.Command{
		Use:   "issue EMAIL",
		Short: "Issue a temporary credential directly against the database",
		Long: `issue infers a role for EMAIL (or uses --role), stores a single-use temporary
credential valid for 24 hours, and prints the plaintext password once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rules, err := loadRuleSet()
			if err != nil {
				return err
			}
			hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher)
			if err != nil {
				return err
			}

			pool, err := infra.NewPostgresPool(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			logger := stderrLogger()
			gw := app.NewGateway(app.Components{
				Directory:      repository.NewPgDirectoryStore(pool),
				Credentials:    repository.NewPgCredentialStore(pool),
				Tx:             repository.NewPgTransactor(pool),
				Limiter:        guard.NewMemoryLimiter(guard.DefaultLimiterConfig()),
				Audit:          audit.NewOutboxSink(pool, repository.NewOutboxRepository(), logger),
				Rules:          rules,
				Hasher:         hasher,
				Logger:         logger,
				PasswordLength: cfg.TemporaryPasswordSize,
			})

			result, err := gw.Onboard(ctx, service.OnboardRequest{
				Email:  args[0],
				Role:   domain.Role(role),
				Issuer: issuer,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role to grant instead of the inferred one")
	cmd.Flags().StringVar(&issuer, "issuer", "identityctl", "Recorded as the credential's issuer")
	return cmd
}
