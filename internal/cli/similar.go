package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/similarity"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/similarity/cache"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/tracing"
)

func (a *app) newSimilarCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar",
		Short: "Build and query the top-K similarity index",
	}
	cmd.AddCommand(a.newSimilarBuildCommand(), a.newSimilarLookupCommand(), a.newSimilarPublishCommand())
	return cmd
}

func (a *app) newSimilarBuildCommand() *cobra.Command {
	var topK, blockSize int
	var input, output string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compute every word's nearest neighbours from the embedding store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := &a.cfg.Similarity
			if cmd.Flags().Changed("top-k") {
				s.TopK = topK
			}
			if cmd.Flags().Changed("block-size") {
				s.BlockSize = blockSize
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if input == "" {
				input = a.cfg.Embedding.Output
			}
			if output == "" {
				output = s.Output
			}

			ctx, trace := tracing.Start(cmd.Context(), "similar-build", uuid.NewString())
			defer func() {
				trace.End()
				trace.Log(slog.Default())
			}()

			_, span := tracing.Start(ctx, "load-store", "")
			records, stats, err := store.Load(input)
			span.SetAttr("records", stats.Records)
			span.End()
			if err != nil {
				return err
			}
			if stats.Malformed > 0 || stats.Duplicates > 0 {
				slog.Warn("embedding store has skipped lines", "path", input, "malformed", stats.Malformed, "duplicates", stats.Duplicates)
			}

			_, span = tracing.Start(ctx, "build-index", "")
			ix, err := similarity.Build(records, similarity.WithMetrics(processMetrics()))
			span.End()
			if err != nil {
				return err
			}

			_, span = tracing.Start(ctx, "top-k", "")
			result, err := ix.TopK(ctx, s.TopK, s.BlockSize)
			span.SetAttr("k", s.TopK)
			span.End()
			if err != nil {
				return err
			}

			_, span = tracing.Start(ctx, "write-result", "")
			err = similarity.WriteJSON(output, result)
			span.End()
			if err != nil {
				return err
			}
			trace.SetAttr("words", result.Len())
			slog.Info("similarity index written", "path", output, "words", result.Len(), "top_k", s.TopK, "dimension", ix.Dimension())
			fmt.Fprintf(cmd.OutOrStdout(), "wrote top-%d neighbours of %d words -> %s\n", s.TopK, result.Len(), output)

			if a.cfg.Redis.Enabled {
				return a.publish(ctx, cmd.OutOrStdout(), result)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&topK, "top-k", 0, "neighbours kept per word (default similarity.topK)")
	f.IntVar(&blockSize, "block-size", 0, "similarity matrix rows computed at once (default similarity.blockSize)")
	f.StringVar(&input, "input", "", "embedding store path (default embedding.output)")
	f.StringVarP(&output, "output", "o", "", "result path (default similarity.output)")
	return cmd
}

func (a *app) newSimilarLookupCommand() *cobra.Command {
	var within string
	var limit int
	cmd := &cobra.Command{
		Use:   "lookup <word>",
		Short: "Print the neighbours of one word",
		Long: `Print the neighbours of one word from the similarity index. With
--within only neighbours that appear in the given word book are shown.
When Redis is enabled, lookups are served from the published index first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, closeCache, err := a.neighborCache()
			if err != nil {
				return err
			}
			defer closeCache()

			ns, found, err := c.Lookup(ctx, args[0], a.resultLoader())
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%q is not in the similarity index", args[0])
			}
			if within != "" {
				book, err := vocab.ReadFile(within)
				if err != nil {
					return err
				}
				keys := make(map[string]struct{}, len(book))
				for _, r := range book {
					keys[r.Key()] = struct{}{}
				}
				ns = ns.Within(keys)
			}
			if limit > 0 && len(ns) > limit {
				ns = ns[:limit]
			}
			printNeighbors(cmd.OutOrStdout(), ns)
			return nil
		},
	}
	cmd.Flags().StringVar(&within, "within", "", "word book (JSON word list) to filter neighbours by")
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most n neighbours")
	return cmd
}

func (a *app) newSimilarPublishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Replace the neighbour lists in Redis with the current index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.Redis.Enabled {
				return apperrors.New(apperrors.ErrInvalidConfig, "redis is not enabled")
			}
			result, err := similarity.ReadJSON(a.cfg.Similarity.Output)
			if err != nil {
				return err
			}
			return a.publish(cmd.Context(), cmd.OutOrStdout(), result)
		},
	}
}

func (a *app) publish(ctx context.Context, out io.Writer, result *similarity.Result) error {
	c, closeCache, err := a.neighborCache()
	if err != nil {
		return err
	}
	defer closeCache()
	n, err := c.Publish(ctx, result)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published neighbours of %d words to redis\n", n)
	return nil
}

// neighborCache returns a cache backed by Redis when enabled. The returned
// func releases the Redis connection.
func (a *app) neighborCache() (*cache.Cache, func(), error) {
	s := a.cfg.Similarity
	if !a.cfg.Redis.Enabled {
		c, err := cache.New(s.CacheSize, nil, s.CacheTTL, processMetrics())
		return c, func() {}, err
	}
	rc, err := pkgredis.NewClient(a.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	c, err := cache.New(s.CacheSize, rc, s.CacheTTL, processMetrics())
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	return c, func() { rc.Close() }, nil
}

// resultLoader reads the similarity file at most once per invocation.
func (a *app) resultLoader() cache.Loader {
	load := sync.OnceValues(func() (*similarity.Result, error) {
		return similarity.ReadJSON(a.cfg.Similarity.Output)
	})
	return func(_ context.Context, word string) (similarity.Neighbors, bool, error) {
		result, err := load()
		if err != nil {
			return nil, false, err
		}
		ns, ok := result.Lookup(word)
		return ns, ok, nil
	}
}

func printNeighbors(w io.Writer, ns similarity.Neighbors) {
	for i, n := range ns {
		fmt.Fprintf(w, "%3d. %-24s %.4f\n", i+1, n.Word, n.Similarity)
	}
}
