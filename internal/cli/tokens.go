package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

func (a *app) newTokensCommand() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Count tokens without calling any API",
	}
	cmd.PersistentFlags().StringVar(&input, "input", "", "corpus path (default embedding.input)")
	corpusPath := func() string {
		if input != "" {
			return input
		}
		return a.cfg.Embedding.Input
	}

	var top int
	var asJSON bool
	estimate := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate total tokens and cost for the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := vocab.ReadFile(corpusPath())
			if err != nil {
				return err
			}
			est, err := tokenizer.New(a.cfg.Tokenizer.Encoding)
			if err != nil {
				return apperrors.Newf(apperrors.ErrInvalidConfig, "%v", err)
			}
			rep := est.Estimate(records, a.cfg.Tokenizer.PricePerMillion)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			if err := rep.Print(out); err != nil {
				return err
			}
			if top > 0 {
				fmt.Fprintf(out, "\nLargest %d:\n", top)
				for _, wc := range rep.Top(top) {
					fmt.Fprintf(out, "  %-24s %d\n", wc.Word, wc.Tokens)
				}
			}
			return nil
		},
	}
	estimate.Flags().IntVar(&top, "top", 0, "also list the n words with the most tokens")
	estimate.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	inspect := &cobra.Command{
		Use:   "inspect <word|index>",
		Short: "Show the rendered text and tokens of one word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := vocab.ReadFile(corpusPath())
			if err != nil {
				return err
			}
			rec, ok := findRecord(records, args[0])
			if !ok {
				return fmt.Errorf("%q is neither a word nor an index of the corpus", args[0])
			}
			est, err := tokenizer.New(a.cfg.Tokenizer.Encoding)
			if err != nil {
				return apperrors.Newf(apperrors.ErrInvalidConfig, "%v", err)
			}
			in := est.Inspect(rec)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "word: %s\ntokens: %d\n---\n%s\n---\n", in.Word, len(in.Tokens), in.Text)
			for _, p := range in.Tokens {
				fmt.Fprintf(out, "%8d  %q\n", p.ID, p.Text)
			}
			return nil
		},
	}

	cmd.AddCommand(estimate, inspect)
	return cmd
}

// findRecord matches arg as a word first, then as a zero-based index.
func findRecord(records []vocab.WordRecord, arg string) (vocab.WordRecord, bool) {
	key := vocab.Key(arg)
	for _, r := range records {
		if r.Key() == key {
			return r, true
		}
	}
	if i, err := strconv.Atoi(arg); err == nil && i >= 0 && i < len(records) {
		return records[i], true
	}
	return vocab.WordRecord{}, false
}
