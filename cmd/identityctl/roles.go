package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/attaboy/identity/internal/domain"
)

func newInferRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infer-role EMAIL [EMAIL...]",
		Short: "Suggest a role for one or more email addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRuleSet()
			if err != nil {
				return err
			}

			results := make(map[string]domain.RoleInferenceResult, len(args))
			for _, email := range args {
				result, err := rules.InferRole(email)
				if err != nil {
					return err
				}
				results[email] = result
			}
			if len(args) == 1 {
				return printJSON(cmd.OutOrStdout(), results[args[0]])
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
}

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the role rule catalog in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules, err := loadRuleSet()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRIORITY\tROLE\tAPPROVAL\tPATTERN\tDESCRIPTION")
			for _, r := range rules.Rules() {
				fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", r.Priority, r.Role, r.RequiresApproval, r.Pattern, r.Description)
			}
			return tw.Flush()
		},
	}
}
