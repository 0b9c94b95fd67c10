package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tidwall/gjson"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/atomicfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// NormalizeStats reports what Normalize wrote and dropped.
type NormalizeStats struct {
	Objects int
	Skipped int
}

// Normalize rewrites in as compact JSON lines at out. The input may be a
// JSON array, JSON lines, or JSON lines with some objects pretty-printed
// across several lines. Fragments that never form a complete value are
// counted in Skipped.
func Normalize(in, out string) (NormalizeStats, error) {
	var stats NormalizeStats
	data, err := os.ReadFile(in)
	if err != nil {
		return stats, apperrors.Newf(apperrors.ErrUnreadableInput, "reading %s: %v", in, err)
	}
	data = bytes.TrimSpace(data)

	var values []json.RawMessage
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &values); err != nil {
			return stats, apperrors.Newf(apperrors.ErrUnreadableInput, "parsing JSON array %s: %v", in, err)
		}
	} else {
		values, stats.Skipped = splitValues(data)
	}

	logger := slog.Default().With("component", "jsonl-normalize")
	err = atomicfile.Write(out, func(w io.Writer) error {
		var buf bytes.Buffer
		for _, v := range values {
			buf.Reset()
			if err := json.Compact(&buf, v); err != nil {
				return fmt.Errorf("compacting value %d: %w", stats.Objects+1, err)
			}
			buf.WriteByte('\n')
			if _, err := w.Write(buf.Bytes()); err != nil {
				return err
			}
			stats.Objects++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("writing %s: %w", out, err)
	}
	if stats.Skipped > 0 {
		logger.Warn("dropped incomplete fragments", "input", in, "skipped", stats.Skipped)
	}
	return stats, nil
}

// splitValues walks data line by line, joining consecutive lines until they
// form one valid JSON value.
func splitValues(data []byte) ([]json.RawMessage, int) {
	var (
		values  []json.RawMessage
		pending []byte
		skipped int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), len(data)+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if len(pending) == 0 && gjson.ValidBytes(line) {
			values = append(values, append(json.RawMessage(nil), line...))
			continue
		}
		// A complete object after an unfinished fragment means the fragment
		// was torn.
		if len(pending) > 0 && bytes.HasPrefix(line, []byte("{")) && gjson.ValidBytes(line) {
			skipped++
			pending = pending[:0]
			values = append(values, append(json.RawMessage(nil), line...))
			continue
		}
		if len(pending) > 0 {
			pending = append(pending, '\n')
		}
		pending = append(pending, line...)
		if gjson.ValidBytes(pending) {
			values = append(values, append(json.RawMessage(nil), pending...))
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		skipped++
	}
	return values, skipped
}
