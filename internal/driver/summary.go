package driver

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Summary accounts for one Run. Every distinct word of the corpus is counted
// in exactly one of AlreadyDone, DeadLettered, WordsEmbedded, WordsEmptyText,
// WordsMissingVector, WordsRejected, or Unprocessed.
type Summary struct {
	RunID     string `json:"run_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`

	CorpusWords  int `json:"corpus_words"`
	AlreadyDone  int `json:"already_done"`
	DeadLettered int `json:"dead_lettered"`
	Reconciled   int `json:"reconciled"`
	Remaining    int `json:"remaining"`

	Batches        int `json:"batches"`
	BatchesOK      int `json:"batches_ok"`
	BatchesFailed  int `json:"batches_failed"`
	BatchesSkipped int `json:"batches_skipped"`

	WordsEmbedded      int `json:"words_embedded"`
	WordsEmptyText     int `json:"words_empty_text"`
	WordsMissingVector int `json:"words_missing_vector"`
	WordsRejected      int `json:"words_rejected"`
	TotalTokens        int `json:"total_tokens"`

	Interrupted bool      `json:"interrupted"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	PricePer1KTokens float64 `json:"price_per_1k_tokens"`
	Currency         string  `json:"currency"`
	FreeQuota        int     `json:"free_quota"`
	ExchangeRate     float64 `json:"exchange_rate"`
}

// AvgTokensPerWord is TotalTokens over WordsEmbedded.
func (s Summary) AvgTokensPerWord() float64 {
	if s.WordsEmbedded == 0 {
		return 0
	}
	return float64(s.TotalTokens) / float64(s.WordsEmbedded)
}

// Cost is the list price of TotalTokens in Currency, ignoring the free quota.
func (s Summary) Cost() float64 {
	return float64(s.TotalTokens) / 1000 * s.PricePer1KTokens
}

// CostUSD converts Cost with ExchangeRate (currency units per dollar).
func (s Summary) CostUSD() float64 {
	if s.ExchangeRate <= 0 {
		return s.Cost()
	}
	return s.Cost() / s.ExchangeRate
}

// FreeQuotaUsed is the share of the free token quota this run consumed, in
// [0, 1]. Zero when the provider has no free quota.
func (s Summary) FreeQuotaUsed() float64 {
	if s.FreeQuota <= 0 {
		return 0
	}
	used := min(s.TotalTokens, s.FreeQuota)
	return float64(used) / float64(s.FreeQuota)
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Unprocessed counts planned words left for the next run by a failed,
// skipped or interrupted batch.
func (s Summary) Unprocessed() int {
	return s.Remaining - s.WordsEmbedded - s.WordsEmptyText - s.WordsMissingVector - s.WordsRejected
}

// Print writes a human-readable report.
func (s Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	type row struct {
		label string
		value any
	}
	rows := []row{
		{"run", s.RunID},
		{"provider", fmt.Sprintf("%s / %s (dim %d)", s.Provider, s.Model, s.Dimension)},
		{"corpus words", s.CorpusWords},
		{"already embedded", s.AlreadyDone},
		{"dead-lettered", s.DeadLettered},
		{"reconciled", s.Reconciled},
		{"planned", s.Remaining},
		{"batches ok/failed/skipped", fmt.Sprintf("%d/%d/%d of %d", s.BatchesOK, s.BatchesFailed, s.BatchesSkipped, s.Batches)},
		{"words embedded", s.WordsEmbedded},
		{"empty text", s.WordsEmptyText},
		{"missing vector", s.WordsMissingVector},
		{"rejected", s.WordsRejected},
		{"left for next run", s.Unprocessed()},
		{"total tokens", s.TotalTokens},
		{"avg tokens/word", fmt.Sprintf("%.2f", s.AvgTokensPerWord())},
		{"estimated cost", fmt.Sprintf("%.4f %s (%.4f USD)", s.Cost(), s.Currency, s.CostUSD())},
	}
	if s.FreeQuota > 0 {
		rows = append(rows, row{"free quota used", fmt.Sprintf("%.2f%% of %d", s.FreeQuotaUsed()*100, s.FreeQuota)})
	}
	if s.Interrupted {
		rows = append(rows, row{"interrupted", "yes"})
	}
	rows = append(rows, row{"duration", s.Duration().Round(time.Millisecond)})
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%v\n", r.label, r.value)
	}
	return tw.Flush()
}
