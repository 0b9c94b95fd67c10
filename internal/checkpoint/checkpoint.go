// Package checkpoint implements the append-only word log the batch driver
// resumes from. The file holds one entry per line; the in-memory set is
// rebuilt from it on Open and every MarkAll is written and fsynced before it
// returns. Lines are never rewritten or removed.
//
// The same type backs the dead-letter log, whose lines carry a tab-separated
// reason after the word.
package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/atomicfile"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// Log is an append-only set of words backed by a text file. Membership is
// decided on vocab.Key so spelling variants of one corpus entry match.
type Log struct {
	path string
	mu   sync.Mutex
	f    *os.File
	keys map[string]string
}

// Open loads path (an absent file is an empty log) and keeps it open for
// appending.
func Open(path string) (*Log, error) {
	keys, err := load(path)
	if err != nil {
		return nil, err
	}
	f, err := atomicfile.OpenAppend(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "opening checkpoint: %v", err)
	}
	return &Log{path: path, f: f, keys: keys}, nil
}

func load(path string) (map[string]string, error) {
	keys := make(map[string]string)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return keys, nil
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "opening checkpoint %s: %v", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		word, reason, _ := strings.Cut(scanner.Text(), "\t")
		key := vocab.Key(word)
		if key == "" {
			continue
		}
		keys[key] = strings.TrimSpace(reason)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "reading checkpoint %s: %v", path, err)
	}
	return keys, nil
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// Contains reports whether word (compared by key) is in the log.
func (l *Log) Contains(word string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[vocab.Key(word)]
	return ok
}

// Reason returns the reason recorded with word, if any.
func (l *Log) Reason(word string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.keys[vocab.Key(word)]
	return r, ok
}

// Len returns the number of distinct entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// MarkAll appends words that are not yet present and fsyncs the file.
func (l *Log) MarkAll(words ...string) error {
	return l.mark("", words)
}

// MarkWithReason appends words with a tab-separated reason.
func (l *Log) MarkWithReason(reason string, words ...string) error {
	return l.mark(reason, words)
}

func (l *Log) mark(reason string, words []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	added := make([]string, 0, len(words))
	for _, w := range words {
		key := vocab.Key(w)
		if key == "" {
			continue
		}
		if _, ok := l.keys[key]; ok {
			continue
		}
		line := strings.NewReplacer("\n", " ", "\t", " ").Replace(w)
		b.WriteString(line)
		if reason != "" {
			b.WriteByte('\t')
			b.WriteString(reason)
		}
		b.WriteByte('\n')
		added = append(added, key)
	}
	if len(added) == 0 {
		return nil
	}
	if _, err := l.f.WriteString(b.String()); err != nil {
		return fmt.Errorf("appending to %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", l.path, err)
	}
	for _, key := range added {
		l.keys[key] = reason
	}
	return nil
}

// Close closes the backing file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
