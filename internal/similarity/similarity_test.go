package similarity

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/metrics"
)

func rec(word string, v ...float32) embedding.Record {
	return embedding.Record{Word: word, Embedding: v, Dimension: len(v)}
}

func TestCosine(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}))
	assert.Equal(t, 1.0, Cosine([]float32{1, 0}, []float32{1, 0}))
	assert.InDelta(t, -1.0, Cosine([]float32{1, 1}, []float32{-2, -2}), 1e-6)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
}

func TestIndexSimilarity(t *testing.T) {
	ix, err := Build([]embedding.Record{rec("Run", 1, 0), rec("walk", 0, 1), rec("jog", 3, 0)})
	require.NoError(t, err)
	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, 2, ix.Dimension())

	s, ok := ix.Similarity("run", "jog")
	require.True(t, ok)
	assert.InDelta(t, 1.0, s, 1e-6)

	s, ok = ix.Similarity("walk", "Run")
	require.True(t, ok)
	assert.Equal(t, 0.0, s)

	_, ok = ix.Similarity("run", "fly")
	assert.False(t, ok)
}

func TestBuildRejectsMixedDimensions(t *testing.T) {
	_, err := Build([]embedding.Record{rec("a", 1, 0), rec("b", 1, 0, 0)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRecord)

	_, err = Build([]embedding.Record{{Word: "a"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRecord)
}

func TestTopKOrderingAndSelfExclusion(t *testing.T) {
	ix, err := Build([]embedding.Record{
		rec("a", 1, 0),
		rec("b", 0.9, 0.1),
		rec("c", 0, 1),
		rec("d", -1, 0),
	})
	require.NoError(t, err)

	res, err := ix.TopK(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, res.Words())

	a, ok := res.Lookup("a")
	require.True(t, ok)
	require.Len(t, a, 2)
	assert.Equal(t, "b", a[0].Word)
	assert.Equal(t, 0.9939, a[0].Similarity)
	assert.Equal(t, "c", a[1].Word)
	assert.Equal(t, 0.0, a[1].Similarity)

	for _, w := range res.Words() {
		ns, _ := res.Lookup(w)
		for _, n := range ns {
			assert.NotEqual(t, w, n.Word)
		}
	}
}

func TestTopKTiesKeepInputOrder(t *testing.T) {
	ix, err := Build([]embedding.Record{rec("q", 1, 0), rec("x", 0, 1), rec("y", 0, 2), rec("z", 0, 3)})
	require.NoError(t, err)
	res, err := ix.TopK(context.Background(), 2, 1)
	require.NoError(t, err)
	q, _ := res.Lookup("q")
	assert.Equal(t, Neighbors{{"x", 0}, {"y", 0}}, q)
}

func TestTopKSymmetricAcrossBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var records []embedding.Record
	for i := 0; i < 40; i++ {
		v := make([]float32, 16)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		records = append(records, rec(fmt.Sprintf("w%02d", i), v...))
	}
	ix, err := Build(records)
	require.NoError(t, err)

	res, err := ix.TopK(context.Background(), 39, 7)
	require.NoError(t, err)

	score := func(a, b string) float64 {
		ns, _ := res.Lookup(a)
		for _, n := range ns {
			if n.Word == b {
				return n.Similarity
			}
		}
		t.Fatalf("%s missing from neighbours of %s", b, a)
		return 0
	}
	for i := 0; i < 40; i += 3 {
		for j := i + 1; j < 40; j += 5 {
			a, b := fmt.Sprintf("w%02d", i), fmt.Sprintf("w%02d", j)
			assert.InDelta(t, score(a, b), score(b, a), 2e-4, "%s/%s", a, b)
			direct, _ := ix.Similarity(a, b)
			assert.InDelta(t, direct, score(a, b), 1e-3)
		}
	}

	for _, w := range res.Words() {
		ns, _ := res.Lookup(w)
		require.Len(t, ns, 39)
		for i := 1; i < len(ns); i++ {
			assert.GreaterOrEqual(t, ns[i-1].Similarity, ns[i].Similarity)
		}
	}
}

func TestTopKEdgeCases(t *testing.T) {
	ix, err := Build(nil)
	require.NoError(t, err)
	res, err := ix.TopK(context.Background(), 5, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Len())

	ix, err = Build([]embedding.Record{rec("solo", 1, 2), rec("zero", 0, 0)})
	require.NoError(t, err)
	res, err = ix.TopK(context.Background(), 50, 0)
	require.NoError(t, err)
	solo, _ := res.Lookup("solo")
	assert.Equal(t, Neighbors{{"zero", 0}}, solo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ix.TopK(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTopKRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	ix, err := Build([]embedding.Record{rec("a", 1, 0), rec("b", 0, 1)}, WithMetrics(m))
	require.NoError(t, err)
	_, err = ix.TopK(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SimilarityWords))
}

func TestWriteAndReadJSON(t *testing.T) {
	res := NewResult()
	res.Add("zebra", Neighbors{{"horse", 0.8123}, {"跑", -0.1}})
	res.Add("apple", Neighbors{})
	res.Add("a<b", nil)

	path := filepath.Join(t.TempDir(), "top.json")
	require.NoError(t, WriteJSON(path, res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{
  "zebra": [
    {
      "word": "horse",
      "similarity": 0.8123
    },
    {
      "word": "跑",
      "similarity": -0.1
    }
  ],
  "apple": [],
  "a<b": []
}
`, string(data))

	back, err := ReadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "apple", "a<b"}, back.Words())
	z, ok := back.Lookup("Zebra")
	require.True(t, ok)
	assert.Equal(t, "horse", z[0].Word)

	_, err = ReadJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, apperrors.ErrUnreadableInput)
}

func TestNeighborsWithin(t *testing.T) {
	ns := Neighbors{{"run", 0.9}, {"Walk", 0.7}, {"jog", 0.8}, {"fly", 0.95}}
	got := ns.Within(map[string]struct{}{"walk": {}, "jog": {}, "run": {}})
	assert.Equal(t, Neighbors{{"run", 0.9}, {"jog", 0.8}, {"Walk", 0.7}}, got)
}

func BenchmarkTopK(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	records := make([]embedding.Record, 2000)
	for i := range records {
		v := make([]float32, 256)
		for j := range v {
			v[j] = rng.Float32()
		}
		records[i] = rec(fmt.Sprintf("w%d", i), v...)
	}
	ix, err := Build(records)
	require.NoError(b, err)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ix.TopK(context.Background(), 50, 0); err != nil {
			b.Fatal(err)
		}
	}
}
