// Package runstore keeps the history of embedding runs: a plain-text summary
// next to the outputs and, when enabled, one row per run in PostgreSQL.
package runstore

import (
	"fmt"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/atomicfile"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/driver"
)

// WriteSummaryFile replaces path with the usage summary of s.
func WriteSummaryFile(path string, s driver.Summary) error {
	err := atomicfile.Write(path, func(w io.Writer) error {
		return writeSummary(w, s)
	})
	if err != nil {
		return fmt.Errorf("writing run summary: %w", err)
	}
	return nil
}

func writeSummary(w io.Writer, s driver.Summary) error {
	lines := []string{
		fmt.Sprintf("run: %s", s.RunID),
		fmt.Sprintf("model: %s/%s (dimension %d)", s.Provider, s.Model, s.Dimension),
		fmt.Sprintf("finished: %s", s.FinishedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("words: %d", s.WordsEmbedded),
		fmt.Sprintf("tokens: %d", s.TotalTokens),
		fmt.Sprintf("avg tokens/word: %.2f", s.AvgTokensPerWord()),
		fmt.Sprintf("cost (%s): %.4f", s.Currency, s.Cost()),
		fmt.Sprintf("cost (USD): %.4f", s.CostUSD()),
	}
	if s.FreeQuota > 0 {
		lines = append(lines, fmt.Sprintf("free quota: %d/%d", min(s.TotalTokens, s.FreeQuota), s.FreeQuota))
	}
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}
