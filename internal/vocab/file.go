package vocab

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/atomicfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// ReadFile parses a JSON array of word records. Open and parse failures wrap
// ErrUnreadableInput.
func ReadFile(path string) ([]WordRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "opening %s: %v", path, err)
	}
	defer f.Close()
	records, err := Decode(f)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "parsing %s: %v", path, err)
	}
	return records, nil
}

// Decode reads a JSON array of word records from r.
func Decode(r io.Reader) ([]WordRecord, error) {
	var records []WordRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// Encode writes records as a two-space indented JSON array with non-ASCII
// text kept verbatim. Nil sub-lists are written as [].
func Encode(w io.Writer, records []WordRecord) error {
	out := make([]WordRecord, len(records))
	for i, r := range records {
		if r.Translations == nil {
			r.Translations = []Translation{}
		}
		if r.Phrases == nil {
			r.Phrases = []Phrase{}
		}
		out[i] = r
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding word records: %w", err)
	}
	return nil
}

// WriteFile atomically replaces path with the encoded records.
func WriteFile(path string, records []WordRecord) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		return Encode(w, records)
	})
}
