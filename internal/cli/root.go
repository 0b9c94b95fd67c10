// Package cli wires the pipeline stages into the vocabctl command tree.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/logger"
)

// app carries state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg         *config.Config
	newProvider providerFactory
}

// NewRootCommand builds the vocabctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{newProvider: newProvider})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "vocabctl",
		Short: "Prepare a vocabulary dataset and its embeddings",
		Long: `vocabctl merges word lists into one corpus, estimates token usage,
embeds every word in resumable batches and builds a top-K similarity index.

Examples:
  vocabctl merge words_a.json words_b.json -o data/all_words_merged.json
  vocabctl tokens estimate
  vocabctl embed --dry-run
  vocabctl embed
  vocabctl similar build --top-k 20
  vocabctl similar lookup run --within book.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		a.newMergeCommand(),
		a.newTokensCommand(),
		a.newEmbedCommand(),
		a.newSimilarCommand(),
		a.newJSONLCommand(),
		a.newSmokeCommand(),
		a.newDoctorCommand(),
		a.newRunsCommand(),
		a.newEventsCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	logger.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	a.cfg = cfg
	return nil
}

// Execute runs vocabctl with os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "class", apperrors.Class(err), "error", err)
		return 1
	}
	return 0
}
