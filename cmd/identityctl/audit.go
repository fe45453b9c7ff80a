package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/attaboy/identity/internal/infra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect relayed audit events",
	}
	cmd.AddCommand(newAuditTailCmd())
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var (
		group         string
		limit         int
		fromBeginning bool
	)
	cmd := &cobra.Command{
		Use:   "tail TOPIC",
		Short: "Print audit events from a Kafka topic, e.g. identity.login.failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if !cfg.KafkaEnabled {
				return errors.New("KAFKA_ENABLED is false")
			}

			logger := stderrLogger()
			consumer, err := infra.NewKafkaConsumer(cfg.KafkaBrokers, args[0], group, fromBeginning, logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			out := cmd.OutOrStdout()
			for n := 0; limit <= 0 || n < limit; {
				msg, env, err := consumer.ReadEnvelope(cmd.Context())
				switch {
				case errors.Is(err, context.Canceled):
					return nil
				case errors.Is(err, infra.ErrBadEnvelope):
					logger.Warn("skipping undecodable message", "offset", msg.Offset, "error", err)
					continue
				case err != nil:
					return err
				}
				fmt.Fprintln(out, formatEnvelope(env))
				n++
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "identityctl", "Kafka consumer group")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many events (0 = follow)")
	cmd.Flags().BoolVar(&fromBeginning, "from-beginning", false, "Start a new group at the oldest retained event")
	return cmd
}

func formatEnvelope(env infra.AuditEnvelope) string {
	return fmt.Sprintf("%s\t%s\t%s\t%s",
		env.OccurredAt.UTC().Format(time.RFC3339), env.EventType, env.AggregateID, env.Payload)
}
