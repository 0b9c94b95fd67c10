package tokenizer

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/render"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
)

// WordCount is the token count of one rendered record.
type WordCount struct {
	Word   string `json:"word"`
	Tokens int    `json:"tokens"`
}

// Report is the result of a dry run over the corpus.
type Report struct {
	Encoding        string      `json:"encoding"`
	Words           int         `json:"words"`
	EmptyTexts      int         `json:"empty_texts"`
	TotalTokens     int         `json:"total_tokens"`
	PricePerMillion float64     `json:"price_per_million"`
	Distribution    map[int]int `json:"distribution"`
	PerWord         []WordCount `json:"-"`
}

// AvgTokens is the mean token count per word, or 0 for an empty corpus.
func (r Report) AvgTokens() float64 {
	if r.Words == 0 {
		return 0
	}
	return float64(r.TotalTokens) / float64(r.Words)
}

// Cost is the estimated embedding cost at PricePerMillion.
func (r Report) Cost() float64 {
	return float64(r.TotalTokens) / 1_000_000 * r.PricePerMillion
}

// Estimate counts tokens for every record using the same rendering the
// batch driver sends. Records that render to blank text are counted
// separately because the driver never sends them.
func (e *Estimator) Estimate(records []vocab.WordRecord, pricePerMillion float64) Report {
	rep := Report{
		Encoding:        e.encoding,
		PricePerMillion: pricePerMillion,
		Distribution:    make(map[int]int),
		PerWord:         make([]WordCount, 0, len(records)),
	}
	for _, rec := range records {
		text := render.Text(rec)
		if render.IsBlank(text) {
			rep.EmptyTexts++
			continue
		}
		n := e.Count(text)
		rep.Words++
		rep.TotalTokens += n
		rep.Distribution[n]++
		rep.PerWord = append(rep.PerWord, WordCount{Word: rec.Word, Tokens: n})
	}
	return rep
}

// Top returns the n records with the most tokens, largest first.
func (r Report) Top(n int) []WordCount {
	sorted := make([]WordCount, len(r.PerWord))
	copy(sorted, r.PerWord)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Tokens > sorted[j].Tokens
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Print writes the human-readable summary and the token distribution in
// ascending token order.
func (r Report) Print(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "====== Embedding token estimate (%s) ======\n", r.Encoding)
	fmt.Fprintf(&b, "Words:              %d\n", r.Words)
	if r.EmptyTexts > 0 {
		fmt.Fprintf(&b, "Skipped (empty):    %d\n", r.EmptyTexts)
	}
	fmt.Fprintf(&b, "Total tokens:       %d\n", r.TotalTokens)
	fmt.Fprintf(&b, "Avg tokens / word:  %.2f\n", r.AvgTokens())
	fmt.Fprintf(&b, "Estimated cost:     $%.4f\n", r.Cost())
	b.WriteString("\nToken distribution:\n")
	keys := make([]int, 0, len(r.Distribution))
	for k := range r.Distribution {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %d tokens: %d words\n", k, r.Distribution[k])
	}
	_, err := io.WriteString(w, b.String())
	return err
}
