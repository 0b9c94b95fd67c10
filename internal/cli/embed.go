package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/driver"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/runstore"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/resilience"
)

type embedOptions struct {
	input            string
	provider         string
	batchSize        int
	retryDeadLetters bool
	dryRun           bool
}

func (a *app) newEmbedCommand() *cobra.Command {
	var opts embedOptions
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed every word of the corpus not yet checkpointed",
		Long: `Embed the corpus in fixed-size batches. Words already in the checkpoint
are skipped, so an interrupted or partly failed run is finished by running
the command again. Failed batches are logged and left for the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.applyEmbedOptions(opts); err != nil {
				return err
			}
			if opts.dryRun {
				return a.planEmbed(cmd.OutOrStdout(), opts)
			}
			return a.runEmbed(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.input, "input", "", "corpus path (default embedding.input)")
	f.StringVar(&opts.provider, "provider", "", "embedding provider: openai or dashscope")
	f.IntVar(&opts.batchSize, "batch-size", 0, "words per request (default embedding.batchSize)")
	f.BoolVar(&opts.retryDeadLetters, "retry-dead-letters", false, "include dead-lettered words again")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the plan and estimated cost without calling the API")
	return cmd
}

func (a *app) applyEmbedOptions(opts embedOptions) error {
	if opts.provider != "" {
		if err := a.cfg.UseProvider(opts.provider); err != nil {
			return err
		}
	}
	if opts.batchSize != 0 {
		a.cfg.Embedding.BatchSize = opts.batchSize
		if err := a.cfg.Validate(); err != nil {
			return err
		}
	}
	if opts.input != "" {
		a.cfg.Embedding.Input = opts.input
	}
	return nil
}

// embedFiles holds the durable run state; all three files are append-only.
type embedFiles struct {
	checkpoint  *checkpoint.Log
	deadLetters *checkpoint.Log
	writer      *store.Writer
}

func openEmbedFiles(e config.EmbeddingConfig) (*embedFiles, error) {
	cp, err := checkpoint.Open(e.Checkpoint)
	if err != nil {
		return nil, err
	}
	dl, err := checkpoint.Open(e.DeadLetter)
	if err != nil {
		cp.Close()
		return nil, err
	}
	w, err := store.OpenWriter(e.Output)
	if err != nil {
		cp.Close()
		dl.Close()
		return nil, err
	}
	slog.Debug("run files opened", "checkpoint", cp.Path(), "dead_letter", dl.Path(), "store", w.Path())
	return &embedFiles{checkpoint: cp, deadLetters: dl, writer: w}, nil
}

func (f *embedFiles) Close() {
	closers := []struct {
		name string
		c    io.Closer
	}{
		{"store", f.writer},
		{"checkpoint", f.checkpoint},
		{"dead_letter", f.deadLetters},
	}
	for _, cl := range closers {
		if err := cl.c.Close(); err != nil {
			slog.Error("closing run file failed", "file", cl.name, "error", err)
		}
	}
}

func (a *app) driverConfig(retryDeadLetters bool) driver.Config {
	e := a.cfg.Embedding
	return driver.Config{
		BatchSize:        e.BatchSize,
		BatchDelay:       e.BatchDelay,
		TransportBackoff: e.TransportBackoff,
		APIErrorBackoff:  e.APIErrorBackoff,
		PricePer1KTokens: e.PricePer1K,
		Currency:         e.Currency,
		FreeQuota:        e.FreeQuota,
		ExchangeRate:     e.ExchangeRate,
		RetryDeadLetters: retryDeadLetters,
	}
}

// planEmbed prints what a run would send without calling the provider.
func (a *app) planEmbed(out io.Writer, opts embedOptions) error {
	e := a.cfg.Embedding
	corpus, err := vocab.ReadFile(e.Input)
	if err != nil {
		return err
	}
	provider, err := a.newProvider(a.cfg, false)
	if err != nil {
		return err
	}
	files, err := openEmbedFiles(e)
	if err != nil {
		return err
	}
	defer files.Close()

	d := driver.New(a.driverConfig(opts.retryDeadLetters), provider, files.checkpoint, files.deadLetters, files.writer)
	storeWords, err := store.Words(e.Output)
	if err != nil {
		return err
	}
	pending := 0
	for key := range storeWords {
		if !files.checkpoint.Contains(key) {
			pending++
		}
	}
	remaining := d.Plan(corpus)

	est, err := tokenizer.New(a.cfg.Tokenizer.Encoding)
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "%v", err)
	}
	rep := est.Estimate(remaining, 0)
	plan := driver.Summary{
		Provider:         provider.Name(),
		Model:            provider.Model(),
		Dimension:        provider.Dimension(),
		TotalTokens:      rep.TotalTokens,
		PricePer1KTokens: e.PricePer1K,
		Currency:         e.Currency,
		FreeQuota:        e.FreeQuota,
		ExchangeRate:     e.ExchangeRate,
	}
	batchSize := d.BatchSize()
	batches := (len(remaining) + batchSize - 1) / batchSize

	fmt.Fprintf(out, "provider:          %s / %s (dim %d)\n", plan.Provider, plan.Model, plan.Dimension)
	fmt.Fprintf(out, "corpus words:      %d\n", len(corpus))
	fmt.Fprintf(out, "checkpointed:      %d\n", files.checkpoint.Len())
	if pending > 0 {
		fmt.Fprintf(out, "to reconcile:      %d\n", pending)
	}
	fmt.Fprintf(out, "to embed:          %d in %d batches of %d\n", len(remaining), batches, batchSize)
	if rep.EmptyTexts > 0 {
		fmt.Fprintf(out, "empty text:        %d (will be skipped)\n", rep.EmptyTexts)
	}
	fmt.Fprintf(out, "estimated tokens:  %d (%s)\n", rep.TotalTokens, rep.Encoding)
	fmt.Fprintf(out, "estimated cost:    %.4f %s (%.4f USD)\n", plan.Cost(), plan.Currency, plan.CostUSD())
	if plan.FreeQuota > 0 {
		fmt.Fprintf(out, "free quota:        %.2f%% of %d\n", plan.FreeQuotaUsed()*100, plan.FreeQuota)
	}
	return nil
}

func (a *app) runEmbed(ctx context.Context, out io.Writer, opts embedOptions) error {
	e := a.cfg.Embedding
	corpus, err := vocab.ReadFile(e.Input)
	if err != nil {
		return err
	}
	provider, err := a.newProvider(a.cfg, true)
	if err != nil {
		return err
	}
	storeWords, err := store.Words(e.Output)
	if err != nil {
		return err
	}
	files, err := openEmbedFiles(e)
	if err != nil {
		return err
	}
	defer files.Close()

	m := processMetrics()
	driverOpts := []driver.Option{driver.WithMetrics(m)}
	if e.BreakerThreshold > 0 {
		driverOpts = append(driverOpts, driver.WithBreaker(resilience.NewCircuitBreaker(
			"embedding-"+provider.Name(),
			resilience.CircuitBreakerConfig{
				FailureThreshold:    e.BreakerThreshold,
				ResetTimeout:        e.BreakerReset,
				HalfOpenMaxRequests: 1,
				OnStateChange: func(name string, to resilience.State) {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				},
			},
		)))
	}

	if a.cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(a.cfg.Metrics.Port)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	if a.cfg.Kafka.Enabled {
		producer := kafka.NewProducer(a.cfg.Kafka)
		collector := events.NewBatchCollector(producer, a.cfg.Kafka.FlushSize, a.cfg.Kafka.FlushInterval)
		collector.Start(ctx)
		defer func() {
			collector.Close()
			if err := producer.Close(); err != nil {
				slog.Error("closing kafka producer failed", "error", err)
			}
		}()
		driverOpts = append(driverOpts, driver.WithSink(collector))
	}

	d := driver.New(a.driverConfig(opts.retryDeadLetters), provider, files.checkpoint, files.deadLetters, files.writer, driverOpts...)
	if _, err := d.Reconcile(storeWords); err != nil {
		return err
	}
	sum, runErr := d.Run(ctx, corpus)

	if err := sum.Print(out); err != nil {
		return err
	}
	if err := runstore.WriteSummaryFile(e.Summary, sum); err != nil {
		slog.Error("writing summary file failed", "path", e.Summary, "error", err)
	}
	if a.cfg.Postgres.Enabled {
		a.saveRun(ctx, sum)
	}
	return runErr
}

// saveRun records sum in PostgreSQL. History is optional, so failures are
// logged and never fail the run.
func (a *app) saveRun(ctx context.Context, sum driver.Summary) {
	ctx = context.WithoutCancel(ctx)
	pg, err := postgres.New(a.cfg.Postgres)
	if err != nil {
		slog.Warn("run history unavailable", "error", err)
		return
	}
	defer pg.Close()

	rs := runstore.NewStore(pg)
	err = resilience.Retry(ctx, "runstore-save", resilience.RetryConfig{MaxAttempts: 3}, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, 5*time.Second, "runstore-save", func(ctx context.Context) error {
			if err := rs.EnsureSchema(ctx); err != nil {
				return err
			}
			return rs.Save(ctx, sum)
		})
	})
	if err != nil {
		slog.Warn("saving run history failed", "run_id", sum.RunID, "error", err)
		return
	}
	slog.Info("run history saved", "run_id", sum.RunID)
}
