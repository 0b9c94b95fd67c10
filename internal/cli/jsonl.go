package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/store"
)

func (a *app) newJSONLCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jsonl",
		Short: "Maintain JSON-lines files",
	}
	normalize := &cobra.Command{
		Use:   "normalize <in> [out]",
		Short: "Rewrite a JSON array or mixed JSON file as compact JSON lines",
		Long: `Rewrite a JSON array, or a file of pretty-printed and compact JSON
objects, as one compact object per line. Without [out] the result is written
next to the input with a .jsonl extension.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			out := strings.TrimSuffix(in, ".json") + ".jsonl"
			if len(args) == 2 {
				out = args[1]
			}
			if out == in {
				out = in + ".normalized"
			}
			stats, err := store.Normalize(in, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d objects to %s (%d skipped)\n", stats.Objects, out, stats.Skipped)
			return nil
		},
	}
	cmd.AddCommand(normalize)
	return cmd
}
