package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// stubProvider embeds the first line of each text, which is the word.
type stubProvider struct {
	vectors map[string][]float32
	calls   int
}

func (p *stubProvider) Name() string      { return "stub" }
func (p *stubProvider) Model() string     { return "stub-embed" }
func (p *stubProvider) Dimension() int    { return 2 }
func (p *stubProvider) MaxBatchSize() int { return 10 }

func (p *stubProvider) Embed(_ context.Context, texts []string) embedding.Result {
	p.calls++
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		word, _, _ := strings.Cut(text, "\n")
		vecs[i] = p.vectors[word]
	}
	return embedding.Success(vecs, 4*len(texts))
}

type harness struct {
	dir      string
	config   string
	provider *stubProvider
	factory  providerFactory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DASHSCOPE_API_KEY", "test-key")

	path := func(name string) string { return filepath.Join(dir, name) }
	yml := fmt.Sprintf(`
embedding:
  input: %q
  output: %q
  checkpoint: %q
  deadLetter: %q
  summary: %q
  batchDelay: 0s
similarity:
  topK: 2
  output: %q
`, path("corpus.json"), path("embeddings.jsonl"), path("processed.txt"),
		path("dead_letter.txt"), path("summary.txt"), path("similar.json"))
	cfgPath := path("vocab.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yml), 0o644))

	h := &harness{
		dir:    dir,
		config: cfgPath,
		provider: &stubProvider{vectors: map[string][]float32{
			"run":   {1, 0},
			"jog":   {0.9, 0.1},
			"apple": {0, 1},
		}},
	}
	h.factory = func(*config.Config, bool) (embedding.Provider, error) { return h.provider, nil }
	return h
}

func (h *harness) path(name string) string { return filepath.Join(h.dir, name) }

func (h *harness) writeCorpus(t *testing.T) {
	t.Helper()
	require.NoError(t, vocab.WriteFile(h.path("corpus.json"), []vocab.WordRecord{
		{Word: "run", Translations: []vocab.Translation{{Type: "v", Translation: "跑"}}},
		{Word: "jog"},
		{Word: "apple"},
	}))
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(&app{newProvider: h.factory})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMergeCommand(t *testing.T) {
	h := newHarness(t)
	a := h.path("a.json")
	b := h.path("b.json")
	require.NoError(t, os.WriteFile(a, []byte(`[{"word":"Run","translations":[{"type":"v","translation":"跑"}]}]`), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(`[{"word":"run","translations":[{"type":"v","translation":"跑"},{"type":"n","translation":"跑步"}]}]`), 0o644))

	out, err := h.run(t, "merge", a, b, "-o", h.path("merged.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "into 1 unique words")

	merged, err := vocab.ReadFile(h.path("merged.json"))
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "Run", merged[0].Word)
	assert.Len(t, merged[0].Translations, 2)
}

func TestMergeWithoutSources(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "merge")
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func TestTokensCommands(t *testing.T) {
	h := newHarness(t)
	h.writeCorpus(t)

	out, err := h.run(t, "tokens", "estimate", "--top", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Words:              3")
	assert.Contains(t, out, "Largest 1:")

	out, err = h.run(t, "tokens", "inspect", "RUN")
	require.NoError(t, err)
	assert.Contains(t, out, "word: run")
	assert.Contains(t, out, "run\nv. 跑")

	out, err = h.run(t, "tokens", "inspect", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "word: apple")

	_, err = h.run(t, "tokens", "inspect", "zebra")
	assert.Error(t, err)
}

func TestEmbedDryRunMakesNoCalls(t *testing.T) {
	h := newHarness(t)
	h.writeCorpus(t)

	out, err := h.run(t, "embed", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "to embed:          3 in 1 batches of 10")
	assert.Contains(t, out, "estimated cost:")
	assert.Zero(t, h.provider.calls)
}

func TestEmbedThenResume(t *testing.T) {
	h := newHarness(t)
	h.writeCorpus(t)

	out, err := h.run(t, "embed")
	require.NoError(t, err)
	assert.Contains(t, out, "words embedded:")
	assert.Equal(t, 1, h.provider.calls)

	records, stats, err := store.Load(h.path("embeddings.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, "run", records[0].Word)

	summary, err := os.ReadFile(h.path("summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "tokens: 12")

	_, err = h.run(t, "embed")
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.calls)

	out, err = h.run(t, "embed", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "to embed:          0 in 0 batches")
}

func TestEmbedRequiresCredential(t *testing.T) {
	h := newHarness(t)
	h.writeCorpus(t)
	t.Setenv("DASHSCOPE_API_KEY", "")
	h.factory = newProvider

	_, err := h.run(t, "embed")
	assert.ErrorIs(t, err, apperrors.ErrMissingCredential)
}

func TestEmbedUnreadableCorpus(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "embed")
	assert.ErrorIs(t, err, apperrors.ErrUnreadableInput)
	assert.True(t, apperrors.IsFatal(err))
}

func TestSimilarBuildAndLookup(t *testing.T) {
	h := newHarness(t)
	h.writeCorpus(t)
	_, err := h.run(t, "embed")
	require.NoError(t, err)

	out, err := h.run(t, "similar", "build")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote top-2 neighbours of 3 words")

	out, err = h.run(t, "similar", "lookup", "Run")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "jog")
	assert.Contains(t, lines[0], "0.9939")
	assert.Contains(t, lines[1], "apple")

	require.NoError(t, vocab.WriteFile(h.path("book.json"), []vocab.WordRecord{{Word: "Apple"}}))
	out, err = h.run(t, "similar", "lookup", "run", "--within", h.path("book.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "apple")
	assert.NotContains(t, out, "jog")

	_, err = h.run(t, "similar", "lookup", "zebra")
	assert.Error(t, err)
}

func TestSimilarPublishNeedsRedis(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "similar", "publish")
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func TestJSONLNormalize(t *testing.T) {
	h := newHarness(t)
	in := h.path("vectors.json")
	require.NoError(t, os.WriteFile(in, []byte("[\n  {\"word\": \"run\"},\n  {\"word\": \"jog\"}\n]"), 0o644))

	out, err := h.run(t, "jsonl", "normalize", in)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 objects")

	data, err := os.ReadFile(h.path("vectors.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "{\"word\":\"run\"}\n{\"word\":\"jog\"}\n", string(data))
}

func TestSmokeCommand(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "smoke", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "status:   success")
	assert.Contains(t, out, "vector:   2 dimensions")

	_, err = h.run(t, "smoke", "unknown")
	assert.Error(t, err)
}

func TestDoctorReportsDownChecks(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "corpus")
	assert.Contains(t, out, "DASHSCOPE_API_KEY is set")

	h.writeCorpus(t)
	out, err = h.run(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "overall")
}

func TestOptionalServicesMustBeEnabled(t *testing.T) {
	h := newHarness(t)
	for _, args := range [][]string{{"runs", "list"}, {"events", "tail"}} {
		_, err := h.run(t, args...)
		assert.ErrorIs(t, err, apperrors.ErrInvalidConfig, args)
	}
}

func TestProviderFlagSwitchesDefaults(t *testing.T) {
	h := newHarness(t)
	h.writeCorpus(t)
	var seen *config.Config
	h.factory = func(cfg *config.Config, _ bool) (embedding.Provider, error) {
		seen = cfg
		return h.provider, nil
	}
	_, err := h.run(t, "embed", "--dry-run", "--provider", "openai", "--batch-size", "2")
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, config.ProviderOpenAI, seen.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", seen.Embedding.Model)
	assert.Equal(t, 2, seen.Embedding.BatchSize)
}

func TestFindRecord(t *testing.T) {
	records := []vocab.WordRecord{{Word: "Run"}, {Word: "7"}, {Word: "apple"}}
	r, ok := findRecord(records, " run ")
	require.True(t, ok)
	assert.Equal(t, "Run", r.Word)

	r, ok = findRecord(records, "7")
	require.True(t, ok)
	assert.Equal(t, "7", r.Word, "a word wins over an index")

	r, ok = findRecord(records, "2")
	require.True(t, ok)
	assert.Equal(t, "apple", r.Word)

	_, ok = findRecord(records, "3")
	assert.False(t, ok)
}

func TestFormatEvent(t *testing.T) {
	ev := events.BatchEvent{
		RunID:     "0123456789abcdef",
		Batch:     2,
		Batches:   5,
		Status:    "transient",
		Embedded:  0,
		Detail:    "timeout",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local),
	}
	assert.Equal(t, `03:04:05 01234567 batch 2/5 transient    embedded=0 tokens=0 detail="timeout"`, formatEvent(ev))
}
