package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/policy"
)

var rulesFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "identityctl",
		Short: "Operator tooling for the identity service",
		Long: `identityctl infers roles, inspects the role rule catalog, issues temporary
credentials directly against the database, and mints service tokens for automation.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rulesFile, "rules", os.Getenv("ROLE_RULES_FILE"), "Role rule catalog YAML (defaults to the built-in catalog)")

	root.AddCommand(newInferRoleCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newIssueCmd())
	root.AddCommand(newMintTokenCmd())
	root.AddCommand(newAuditCmd())
	return root
}

func loadRuleSet() (*policy.RuleSet, error) {
	if rulesFile == "" {
		return policy.DefaultRuleSet()
	}
	return policy.LoadRuleSetFile(rulesFile)
}

func loadConfig() (*infra.Config, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stderrLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
