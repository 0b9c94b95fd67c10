// Package store persists embedding records as JSON lines. The file is only
// ever appended to; each Append is flushed and fsynced before it returns so
// the checkpoint written afterwards never points at a record that is not on
// disk.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/atomicfile"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// Writer appends records to a JSONL file.
type Writer struct {
	path string
	mu   sync.Mutex
	f    *os.File
	bw   *bufio.Writer
}

// OpenWriter opens path for appending, creating it when absent.
func OpenWriter(path string) (*Writer, error) {
	f, err := atomicfile.OpenAppend(path)
	if err != nil {
		return nil, err
	}
	return &Writer{path: path, f: f, bw: bufio.NewWriterSize(f, 256*1024)}, nil
}

// Path returns the backing file path.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one line per record and syncs the file.
func (w *Writer) Append(records ...embedding.Record) error {
	if len(records) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		line, err := encodeLine(r)
		if err != nil {
			return fmt.Errorf("encoding record %q: %w", r.Word, err)
		}
		if _, err := w.bw.Write(line); err != nil {
			return fmt.Errorf("writing %s: %w", w.path, err)
		}
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", w.path, err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flushing %s: %w", w.path, err)
	}
	return w.f.Close()
}

func encodeLine(r embedding.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadStats describes what Load read.
type LoadStats struct {
	Lines      int
	Records    int
	Malformed  int
	Duplicates int
}

// Load reads every record from path. Lines that do not decode into a valid
// record (typically a torn final write) are logged and skipped; when a word
// appears more than once the first record wins.
func Load(path string) ([]embedding.Record, LoadStats, error) {
	var stats LoadStats
	f, err := os.Open(path)
	if err != nil {
		return nil, stats, apperrors.Newf(apperrors.ErrUnreadableInput, "opening embeddings %s: %v", path, err)
	}
	defer f.Close()

	logger := slog.Default().With("component", "embedding-store", "path", path)
	seen := make(map[string]struct{})
	var records []embedding.Record
	err = eachLine(f, func(n int, line []byte) {
		stats.Lines++
		var r embedding.Record
		if err := json.Unmarshal(line, &r); err != nil {
			stats.Malformed++
			logger.Warn("skipping undecodable line", "line", n, "error", err)
			return
		}
		if err := r.Validate(); err != nil {
			stats.Malformed++
			logger.Warn("skipping invalid record", "line", n, "error", err)
			return
		}
		key := vocab.Key(r.Word)
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			logger.Debug("skipping duplicate record", "line", n, "word", r.Word)
			return
		}
		seen[key] = struct{}{}
		records = append(records, r)
	})
	if err != nil {
		return nil, stats, apperrors.Newf(apperrors.ErrUnreadableInput, "reading embeddings %s: %v", path, err)
	}
	stats.Records = len(records)
	return records, stats, nil
}

// Words returns the keys of every word with a line in path. Only the word
// field is decoded. An absent file yields an empty set.
func Words(path string) (map[string]struct{}, error) {
	words := make(map[string]struct{})
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return words, nil
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "opening embeddings %s: %v", path, err)
	}
	defer f.Close()

	err = eachLine(f, func(_ int, line []byte) {
		if !gjson.ValidBytes(line) {
			return
		}
		r := gjson.GetBytes(line, "embedding")
		if !r.IsArray() {
			return
		}
		if key := vocab.Key(gjson.GetBytes(line, "word").String()); key != "" {
			words[key] = struct{}{}
		}
	})
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "reading embeddings %s: %v", path, err)
	}
	return words, nil
}

// eachLine calls fn with every non-blank line of r and its 1-based number.
// Lines may be arbitrarily long.
func eachLine(r io.Reader, fn func(n int, line []byte)) error {
	br := bufio.NewReaderSize(r, 1<<20)
	n := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			n++
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				fn(n, trimmed)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
