package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/redis"
)

func (a *app) newDoctorCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check credentials, inputs and the optional services",
		Long: `Check that an embedding run can start: the provider credential is set,
the corpus is readable and the tokenizer encoding loads. Enabled optional
services (Redis, PostgreSQL, Kafka) are pinged; an unreachable one is
reported as degraded. Exits non-zero when any check is down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := a.checker().Run(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if err := report.Print(out); err != nil {
				return err
			}
			if report.Status == health.StatusDown {
				return fmt.Errorf("doctor: %s", report.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (a *app) checker() *health.Checker {
	cfg := a.cfg
	c := health.NewChecker()

	key, _ := cfg.APIKey()
	c.Register("credential", health.EnvCheck(cfg.APIKeyEnv(), key))
	c.Register("corpus", health.FileCheck(cfg.Embedding.Input))
	c.Register("tokenizer", func(context.Context) health.ComponentHealth {
		if _, err := tokenizer.New(cfg.Tokenizer.Encoding); err != nil {
			return health.Down(err.Error())
		}
		return health.Up(cfg.Tokenizer.Encoding)
	})

	if cfg.Redis.Enabled {
		c.Register("redis", health.PingCheck(func(ctx context.Context) error {
			rc, err := pkgredis.NewClient(cfg.Redis)
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Ping(ctx)
		}, true))
	}
	if cfg.Postgres.Enabled {
		c.Register("postgres", health.PingCheck(func(ctx context.Context) error {
			pg, err := postgres.New(cfg.Postgres)
			if err != nil {
				return err
			}
			defer pg.Close()
			return pg.Ping(ctx)
		}, true))
	}
	if cfg.Kafka.Enabled {
		c.Register("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka.Brokers)
		}, true))
	}
	return c
}
