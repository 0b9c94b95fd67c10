// Package corpus merges raw word-list files into one deduplicated corpus.
//
// Records are keyed by vocab.Key. The first occurrence of a key fixes its
// position and display spelling; later occurrences only contribute
// translations and phrases that are not already present (structural
// equality). Merging is deterministic, so the same inputs in the same order
// always produce byte-identical output.
package corpus

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
)

// Stats summarises a merge.
type Stats struct {
	Sources      int `json:"sources"`
	Input        int `json:"input"`
	Unique       int `json:"unique"`
	SkippedBlank int `json:"skipped_blank"`
}

// Merger accumulates records in first-seen key order.
type Merger struct {
	order   []string
	records map[string]*vocab.WordRecord
	stats   Stats
	logger  *slog.Logger
}

// NewMerger creates an empty Merger.
func NewMerger() *Merger {
	return &Merger{
		records: make(map[string]*vocab.WordRecord),
		logger:  slog.Default().With("component", "corpus-merger"),
	}
}

// Add folds one source's records into the merge. source is only used in log
// lines.
func (m *Merger) Add(source string, records []vocab.WordRecord) {
	m.stats.Sources++
	for i, rec := range records {
		m.stats.Input++
		key := rec.Key()
		if key == "" {
			m.stats.SkippedBlank++
			m.logger.Warn("skipping record with blank word", "source", source, "index", i)
			continue
		}
		if err := vocab.Validate(rec); err != nil {
			m.logger.Warn("record has empty entries", "source", source, "word", rec.Word, "error", err)
		}
		merged, ok := m.records[key]
		if !ok {
			merged = &vocab.WordRecord{
				Word:         rec.Word,
				Translations: []vocab.Translation{},
				Phrases:      []vocab.Phrase{},
			}
			m.records[key] = merged
			m.order = append(m.order, key)
		}
		for _, t := range rec.Translations {
			if !containsTranslation(merged.Translations, t) {
				merged.Translations = append(merged.Translations, t)
			}
		}
		for _, p := range rec.Phrases {
			if !containsPhrase(merged.Phrases, p) {
				merged.Phrases = append(merged.Phrases, p)
			}
		}
	}
}

// Records returns the merged records in first-seen order.
func (m *Merger) Records() []vocab.WordRecord {
	out := make([]vocab.WordRecord, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, *m.records[key])
	}
	return out
}

// Stats returns counters for the merge so far.
func (m *Merger) Stats() Stats {
	s := m.stats
	s.Unique = len(m.order)
	return s
}

// MergeFiles reads every path in order and merges them. It stops at the first
// file that cannot be read or parsed.
func MergeFiles(paths []string) ([]vocab.WordRecord, Stats, error) {
	if len(paths) == 0 {
		return nil, Stats{}, fmt.Errorf("no source files given")
	}
	m := NewMerger()
	for _, path := range paths {
		records, err := vocab.ReadFile(path)
		if err != nil {
			return nil, Stats{}, err
		}
		m.logger.Info("source loaded", "path", path, "records", len(records))
		m.Add(path, records)
	}
	return m.Records(), m.Stats(), nil
}

func containsTranslation(list []vocab.Translation, t vocab.Translation) bool {
	for _, existing := range list {
		if existing == t {
			return true
		}
	}
	return false
}

func containsPhrase(list []vocab.Phrase, p vocab.Phrase) bool {
	for _, existing := range list {
		if existing == p {
			return true
		}
	}
	return false
}
