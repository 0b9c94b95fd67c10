package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/events"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/kafka"
)

func (a *app) newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow batch progress events published by embed",
	}
	var fromStart bool
	var runID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print batch events as they arrive until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.Kafka.Enabled {
				return apperrors.New(apperrors.ErrInvalidConfig, "kafka is not enabled")
			}
			out := cmd.OutOrStdout()
			consumer := kafka.NewConsumer(a.cfg.Kafka, fromStart, func(_ context.Context, _, value []byte) error {
				ev, err := kafka.DecodeJSON[events.BatchEvent](value)
				if err != nil {
					return err
				}
				if runID != "" && ev.RunID != runID {
					return nil
				}
				fmt.Fprintln(out, formatEvent(ev))
				return nil
			})
			return consumer.Start(cmd.Context())
		},
	}
	tail.Flags().BoolVar(&fromStart, "from-start", false, "replay retained events instead of only new ones")
	tail.Flags().StringVar(&runID, "run", "", "only show events of this run ID")
	cmd.AddCommand(tail)
	return cmd
}

func formatEvent(ev events.BatchEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s batch %d/%d %-12s embedded=%d tokens=%d",
		ev.Timestamp.Local().Format("15:04:05"), shortID(ev.RunID), ev.Batch, ev.Batches, ev.Status, ev.Embedded, ev.Tokens)
	if ev.Detail != "" {
		fmt.Fprintf(&b, " detail=%q", ev.Detail)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
