package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/runstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/postgres"
)

func (a *app) newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the history of embedding runs",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.Postgres.Enabled {
				return apperrors.New(apperrors.ErrInvalidConfig, "postgres is not enabled")
			}
			pg, err := postgres.New(a.cfg.Postgres)
			if err != nil {
				return err
			}
			defer pg.Close()
			rs := runstore.NewStore(pg)
			if err := rs.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			runs, err := rs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tFINISHED\tPROVIDER\tMODEL\tEMBEDDED\tTOKENS\tCOST")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.4f %s\n",
					r.RunID, r.FinishedAt.Local().Format(time.DateTime), r.Provider, r.Model,
					r.WordsEmbedded, r.TotalTokens, r.Cost(), r.Currency)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.AddCommand(list)
	return cmd
}
