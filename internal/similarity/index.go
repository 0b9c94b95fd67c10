// Package similarity computes cosine similarity between word embeddings and
// extracts each word's top-K neighbours.
package similarity

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/metrics"
)

// DefaultBlockSize is how many rows of the similarity matrix are held in
// memory at once.
const DefaultBlockSize = 512

// Index holds the L2-normalised embedding of every word.
type Index struct {
	words   []string
	keys    map[string]int
	vectors [][]float32
	rows    *mat.Dense
	dim     int
	metrics *metrics.Metrics
}

// Option customises an Index.
type Option func(*Index)

// WithMetrics records build duration and size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Index) { ix.metrics = m }
}

// Build indexes records in order. All vectors must share one dimension; a
// word that appears twice keeps its first vector.
func Build(records []embedding.Record, opts ...Option) (*Index, error) {
	ix := &Index{keys: make(map[string]int, len(records))}
	for _, opt := range opts {
		opt(ix)
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		key := vocab.Key(r.Word)
		if _, dup := ix.keys[key]; dup {
			continue
		}
		if ix.dim == 0 {
			ix.dim = len(r.Embedding)
		}
		if len(r.Embedding) != ix.dim {
			return nil, apperrors.Newf(apperrors.ErrInvalidRecord,
				"word %q has %d dimensions, expected %d", r.Word, len(r.Embedding), ix.dim)
		}
		ix.keys[key] = len(ix.words)
		ix.words = append(ix.words, r.Word)
		ix.vectors = append(ix.vectors, r.Embedding)
	}
	if len(ix.words) == 0 {
		return ix, nil
	}

	ix.rows = mat.NewDense(len(ix.words), ix.dim, nil)
	row := make([]float64, ix.dim)
	for i, v := range ix.vectors {
		for j, x := range v {
			row[j] = float64(x)
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
		ix.rows.SetRow(i, row)
	}
	return ix, nil
}

// Len returns the number of indexed words.
func (ix *Index) Len() int { return len(ix.words) }

// Dimension returns the vector length, zero for an empty index.
func (ix *Index) Dimension() int { return ix.dim }

// Words returns the indexed words in input order.
func (ix *Index) Words() []string { return slices.Clone(ix.words) }

// Similarity returns the cosine similarity of two indexed words. A zero
// vector is similar to nothing (0).
func (ix *Index) Similarity(a, b string) (float64, bool) {
	i, ok := ix.keys[vocab.Key(a)]
	if !ok {
		return 0, false
	}
	j, ok := ix.keys[vocab.Key(b)]
	if !ok {
		return 0, false
	}
	return Cosine(ix.vectors[i], ix.vectors[j]), true
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0
// when either is a zero vector.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	den := float64(vek32.Dot(a, a)) * float64(vek32.Dot(b, b))
	if den == 0 {
		return 0
	}
	return clamp(float64(vek32.Dot(a, b)) / math.Sqrt(den))
}

// TopK returns the k most similar other words for every word. The matrix
// is computed blockSize rows at a time (DefaultBlockSize when <= 0). Scores
// are rounded to four decimals; equal scores keep input order.
func (ix *Index) TopK(ctx context.Context, k, blockSize int) (*Result, error) {
	start := time.Now()
	n := len(ix.words)
	result := NewResult()
	if n == 0 || k <= 0 {
		return result, nil
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	k = min(k, n-1)

	for lo := 0; lo < n; lo += blockSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("computing similarities: %w", err)
		}
		hi := min(lo+blockSize, n)
		var prod mat.Dense
		prod.Mul(ix.rows.Slice(lo, hi, 0, ix.dim), ix.rows.T())
		for r := 0; r < hi-lo; r++ {
			self := lo + r
			result.Add(ix.words[self], ix.neighbours(prod.RawRowView(r), self, k))
		}
	}

	if ix.metrics != nil {
		ix.metrics.SimilarityBuildDuration.Observe(time.Since(start).Seconds())
		ix.metrics.SimilarityWords.Set(float64(n))
	}
	return result, nil
}

func (ix *Index) neighbours(scores []float64, self, k int) Neighbors {
	if k == 0 {
		return Neighbors{}
	}
	h := make(candidateHeap, 0, k+1)
	for j, s := range scores {
		if j == self {
			continue
		}
		c := candidate{idx: j, score: s}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if worse(h[0], c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	out := make(Neighbors, len(h))
	for i := len(out) - 1; i >= 0; i-- {
		c := heap.Pop(&h).(candidate)
		out[i] = Neighbor{Word: ix.words[c.idx], Similarity: round4(clamp(c.score))}
	}
	return out
}

type candidate struct {
	idx   int
	score float64
}

// worse orders candidates from least to most similar; on equal scores the
// later word is worse.
func worse(a, b candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.idx > b.idx
}

type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func round4(x float64) float64 {
	r := math.Round(x*10000) / 10000
	if r == 0 {
		return 0 // no -0 in the output
	}
	return r
}

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}
