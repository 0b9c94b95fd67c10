package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

func (a *app) newMergeCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "merge [files...]",
		Short: "Merge word lists into one deduplicated corpus",
		Long: `Merge word-list files into one corpus. The first occurrence of a word
fixes its spelling; later files only add translations and phrases that are
not already present. Without arguments the corpus.sources files are merged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 {
				sources = a.cfg.Corpus.Sources
			}
			if len(sources) == 0 {
				return apperrors.New(apperrors.ErrInvalidConfig, "no source files given and corpus.sources is empty")
			}
			if output == "" {
				output = a.cfg.Corpus.Output
			}

			records, stats, err := corpus.MergeFiles(sources)
			if err != nil {
				return err
			}
			if err := vocab.WriteFile(output, records); err != nil {
				return fmt.Errorf("writing corpus: %w", err)
			}
			slog.Info("corpus merged", "output", output, "sources", stats.Sources, "input", stats.Input, "unique", stats.Unique)
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d records from %d files into %d unique words -> %s\n",
				stats.Input, stats.Sources, stats.Unique, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "corpus output path (default corpus.output)")
	return cmd
}
