package similarity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/atomicfile"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// Neighbor is one entry of a word's neighbour list.
type Neighbor struct {
	Word       string  `json:"word"`
	Similarity float64 `json:"similarity"`
}

// Neighbors is ordered by descending similarity.
type Neighbors []Neighbor

// Within keeps the neighbours whose word is in book (vocab keys), sorted by
// descending similarity.
func (ns Neighbors) Within(book map[string]struct{}) Neighbors {
	out := make(Neighbors, 0, len(ns))
	for _, n := range ns {
		if _, ok := book[vocab.Key(n.Word)]; ok {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

// Result maps every word to its neighbours. It serialises as one JSON object
// whose keys keep insertion order.
type Result struct {
	words     []string
	neighbors map[string]Neighbors
	keys      map[string]string
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{
		neighbors: make(map[string]Neighbors),
		keys:      make(map[string]string),
	}
}

// Add sets the neighbours of word, appending word to the order if new.
func (r *Result) Add(word string, ns Neighbors) {
	if _, ok := r.neighbors[word]; !ok {
		r.words = append(r.words, word)
		r.keys[vocab.Key(word)] = word
	}
	r.neighbors[word] = ns
}

// Len returns the number of words.
func (r *Result) Len() int { return len(r.words) }

// Words returns the words in insertion order.
func (r *Result) Words() []string { return append([]string(nil), r.words...) }

// Lookup returns the neighbours of word, matching by exact spelling first
// and by vocab key otherwise.
func (r *Result) Lookup(word string) (Neighbors, bool) {
	if ns, ok := r.neighbors[word]; ok {
		return ns, true
	}
	display, ok := r.keys[vocab.Key(word)]
	if !ok {
		return nil, false
	}
	return r.neighbors[display], true
}

// MarshalJSON writes the words in insertion order.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, w := range r.words {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(w); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		ns := r.neighbors[w]
		if ns == nil {
			ns = Neighbors{}
		}
		if err := enc.Encode(ns); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order.
func (r *Result) UnmarshalJSON(data []byte) error {
	*r = *NewResult()
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("similarity result: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		word, ok := tok.(string)
		if !ok {
			return fmt.Errorf("similarity result: expected key, got %v", tok)
		}
		var ns Neighbors
		if err := dec.Decode(&ns); err != nil {
			return fmt.Errorf("similarity result %q: %w", word, err)
		}
		r.Add(word, ns)
	}
	_, err = dec.Token()
	return err
}

// WriteJSON replaces path with r as two-space indented JSON. Non-ASCII text
// is written verbatim.
func WriteJSON(path string, r *Result) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding similarity result: %w", err)
		}
		return nil
	})
}

// ReadJSON loads a file written by WriteJSON.
func ReadJSON(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "reading %s: %v", path, err)
	}
	r := NewResult()
	if err := json.Unmarshal(data, r); err != nil {
		return nil, apperrors.Newf(apperrors.ErrUnreadableInput, "parsing %s: %v", path, err)
	}
	return r, nil
}
