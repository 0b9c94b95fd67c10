package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/driver"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS embedding_runs (
    id          UUID PRIMARY KEY,
    provider    TEXT NOT NULL,
    model       TEXT NOT NULL,
    words       INTEGER NOT NULL,
    tokens      BIGINT NOT NULL,
    data        JSONB NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS embedding_runs_finished_at_idx ON embedding_runs (finished_at DESC);
`

// Store persists run summaries in the embedding_runs table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a Store on db.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "run-store"),
	}
}

// EnsureSchema creates the table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating embedding_runs: %w", err)
	}
	return nil
}

// Save inserts sum. Saving the same run twice updates the row.
func (s *Store) Save(ctx context.Context, sum driver.Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_runs (id, provider, model, words, tokens, data, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				words = EXCLUDED.words,
				tokens = EXCLUDED.tokens,
				data = EXCLUDED.data,
				finished_at = EXCLUDED.finished_at`,
			sum.RunID, sum.Provider, sum.Model, sum.WordsEmbedded, sum.TotalTokens,
			data, sum.StartedAt.UTC(), sum.FinishedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", sum.RunID, err)
	}
	s.logger.Info("run summary saved", "run_id", sum.RunID, "words", sum.WordsEmbedded, "tokens", sum.TotalTokens)
	return nil
}

// Latest returns the most recently finished run, or nil when there is none.
func (s *Store) Latest(ctx context.Context) (*driver.Summary, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM embedding_runs ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	var sum driver.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("decoding run summary: %w", err)
	}
	return &sum, nil
}

// List returns up to limit runs, newest first. Rows that no longer decode
// are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]driver.Summary, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data FROM embedding_runs ORDER BY finished_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []driver.Summary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		var sum driver.Summary
		if err := json.Unmarshal(data, &sum); err != nil {
			s.logger.Warn("skipping undecodable run", "error", err)
			continue
		}
		runs = append(runs, sum)
	}
	return runs, rows.Err()
}
