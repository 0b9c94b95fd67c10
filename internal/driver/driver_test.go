package driver

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/resilience"
)

// fakeProvider answers each call with the next scripted result, or with one
// vector per text once the script is exhausted.
type fakeProvider struct {
	maxBatch int
	script   []func(texts []string) embedding.Result
	calls    [][]string
}

func (p *fakeProvider) Name() string   { return "fake" }
func (p *fakeProvider) Model() string  { return "fake-embed" }
func (p *fakeProvider) Dimension() int { return 2 }
func (p *fakeProvider) MaxBatchSize() int {
	if p.maxBatch == 0 {
		return 10
	}
	return p.maxBatch
}

func (p *fakeProvider) Embed(_ context.Context, texts []string) embedding.Result {
	p.calls = append(p.calls, append([]string(nil), texts...))
	if len(p.script) > 0 {
		next := p.script[0]
		p.script = p.script[1:]
		return next(texts)
	}
	return ok(texts)
}

func (p *fakeProvider) calledWith() []string {
	var all []string
	for _, c := range p.calls {
		all = append(all, c...)
	}
	return all
}

func ok(texts []string) embedding.Result {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i + 1), 0}
	}
	return embedding.Success(vecs, 5*len(texts))
}

func transient([]string) embedding.Result {
	return embedding.Transient("request failed", errors.New("connection reset"))
}

func rateLimited([]string) embedding.Result {
	return embedding.RateLimited(429, "status 429: slow down")
}

func malformed([]string) embedding.Result {
	return embedding.Malformed("response without data or usage")
}

type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.mu.Unlock()
	return ctx.Err()
}

type recordingSink struct {
	events []events.BatchEvent
}

func (s *recordingSink) Track(_ string, v any) {
	s.events = append(s.events, v.(events.BatchEvent))
}

type env struct {
	dir         string
	checkpoint  *checkpoint.Log
	deadLetters *checkpoint.Log
	writer      *store.Writer
	sleeper     *sleepRecorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{dir: dir, sleeper: &sleepRecorder{}}
	e.open(t)
	return e
}

func (e *env) open(t *testing.T) {
	t.Helper()
	var err error
	e.checkpoint, err = checkpoint.Open(filepath.Join(e.dir, "processed.txt"))
	require.NoError(t, err)
	e.deadLetters, err = checkpoint.Open(filepath.Join(e.dir, "dead.txt"))
	require.NoError(t, err)
	e.writer, err = store.OpenWriter(filepath.Join(e.dir, "embeddings.jsonl"))
	require.NoError(t, err)
}

func (e *env) close(t *testing.T) {
	t.Helper()
	require.NoError(t, e.checkpoint.Close())
	require.NoError(t, e.deadLetters.Close())
	require.NoError(t, e.writer.Close())
}

func (e *env) records(t *testing.T) []embedding.Record {
	t.Helper()
	records, _, err := store.Load(filepath.Join(e.dir, "embeddings.jsonl"))
	require.NoError(t, err)
	return records
}

func testConfig(batchSize int) Config {
	return Config{
		BatchSize:        batchSize,
		BatchDelay:       150 * time.Millisecond,
		TransportBackoff: 2 * time.Second,
		APIErrorBackoff:  3 * time.Second,
		PricePer1KTokens: 0.0005,
		Currency:         "CNY",
		FreeQuota:        1_000_000,
		ExchangeRate:     7.2,
	}
}

func (e *env) driver(cfg Config, p embedding.Provider, opts ...Option) *Driver {
	opts = append([]Option{WithSleeper(e.sleeper.sleep)}, opts...)
	return New(cfg, p, e.checkpoint, e.deadLetters, e.writer, opts...)
}

func words(ws ...string) []vocab.WordRecord {
	out := make([]vocab.WordRecord, len(ws))
	for i, w := range ws {
		out[i] = vocab.WordRecord{Word: w, Translations: []vocab.Translation{{Type: "n", Translation: w + "-zh"}}}
	}
	return out
}

func TestRunEmbedsEverythingInBatches(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	p := &fakeProvider{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := &recordingSink{}

	sum, err := e.driver(testConfig(2), p, WithMetrics(m), WithSink(sink), WithRunID("run-1")).
		Run(context.Background(), words("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 3, sum.Batches)
	assert.Equal(t, 3, sum.BatchesOK)
	assert.Equal(t, 5, sum.WordsEmbedded)
	assert.Equal(t, 25, sum.TotalTokens)
	assert.Zero(t, sum.Unprocessed())
	assert.Equal(t, []string{"a\nn. a-zh", "b\nn. b-zh"}, p.calls[0])

	assert.Equal(t, []time.Duration{150 * time.Millisecond, 150 * time.Millisecond}, e.sleeper.pauses)
	assert.Equal(t, 5, e.checkpoint.Len())

	records := e.records(t)
	require.Len(t, records, 5)
	assert.Equal(t, "a", records[0].Word)
	assert.Equal(t, 10, records[0].BatchTokens)
	assert.Equal(t, 2, records[0].Dimension)
	assert.Equal(t, 5, records[4].BatchTokens)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.WordsTotal.WithLabelValues("embedded")))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.TokensTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.CheckpointSize))

	require.Len(t, sink.events, 3)
	assert.Equal(t, "success", sink.events[2].Status)
	assert.Equal(t, []string{"e"}, sink.events[2].Words)
}

func TestRerunSkipsCheckpointedWords(t *testing.T) {
	e := newEnv(t)
	first := &fakeProvider{}
	_, err := e.driver(testConfig(2), first).Run(context.Background(), words("a", "b", "c"))
	require.NoError(t, err)
	e.close(t)

	e.open(t)
	defer e.close(t)
	second := &fakeProvider{}
	sum, err := e.driver(testConfig(2), second).Run(context.Background(), words("a", "B", "c", "d"))
	require.NoError(t, err)

	assert.Equal(t, []string{"d\nn. d-zh"}, second.calledWith())
	assert.Equal(t, 3, sum.AlreadyDone)
	assert.Equal(t, 1, sum.WordsEmbedded)
	assert.Len(t, e.records(t), 4)
}

func TestTransientFailureConvergesOnNextRun(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	p := &fakeProvider{script: []func([]string) embedding.Result{ok, transient}}
	sum, err := e.driver(testConfig(2), p).Run(context.Background(), words("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.BatchesOK)
	assert.Equal(t, 1, sum.BatchesFailed)
	assert.Equal(t, 3, sum.WordsEmbedded)
	assert.Equal(t, 2, sum.Unprocessed())
	assert.Contains(t, e.sleeper.pauses, 2*time.Second)
	assert.False(t, e.checkpoint.Contains("c"))

	retry := &fakeProvider{}
	sum, err = e.driver(testConfig(2), retry).Run(context.Background(), words("a", "b", "c", "d", "e"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c\nn. c-zh", "d\nn. d-zh"}, retry.calledWith())
	assert.Equal(t, 2, sum.WordsEmbedded)

	records := e.records(t)
	require.Len(t, records, 5)
	seen := map[string]int{}
	for _, r := range records {
		seen[r.Word]++
	}
	for _, w := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, 1, seen[w], w)
	}
}

func TestFailurePauses(t *testing.T) {
	tests := []struct {
		name   string
		result func([]string) embedding.Result
		pause  time.Duration
		status string
	}{
		{"transport", transient, 2 * time.Second, "transient"},
		{"rate limited", rateLimited, 3 * time.Second, "rate_limited"},
		{"api error", func([]string) embedding.Result { return embedding.APIError(400, "bad input") }, 3 * time.Second, "transient"},
		{"malformed", malformed, 0, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			defer e.close(t)
			sink := &recordingSink{}
			p := &fakeProvider{script: []func([]string) embedding.Result{tt.result}}
			sum, err := e.driver(testConfig(10), p, WithSink(sink)).Run(context.Background(), words("a", "b"))
			require.NoError(t, err)

			assert.Equal(t, 1, sum.BatchesFailed)
			assert.Zero(t, sum.WordsEmbedded)
			assert.Zero(t, e.checkpoint.Len())
			assert.Empty(t, e.records(t))
			if tt.pause > 0 {
				assert.Equal(t, []time.Duration{tt.pause}, e.sleeper.pauses)
			} else {
				assert.Empty(t, e.sleeper.pauses)
			}
			require.Len(t, sink.events, 1)
			assert.Equal(t, tt.status, sink.events[0].Status)
		})
	}
}

func TestMissingVectorIsDeadLettered(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	p := &fakeProvider{script: []func([]string) embedding.Result{
		func(texts []string) embedding.Result {
			return embedding.Success([][]float32{{1, 0}, nil, {0, 1}}, 9)
		},
	}}
	sum, err := e.driver(testConfig(3), p).Run(context.Background(), words("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.WordsEmbedded)
	assert.Equal(t, 1, sum.WordsMissingVector)
	assert.Equal(t, 9, sum.TotalTokens)
	assert.True(t, e.checkpoint.Contains("a"))
	assert.False(t, e.checkpoint.Contains("b"))
	assert.True(t, e.checkpoint.Contains("c"))
	assert.Len(t, e.records(t), 2)

	reason, ok := e.deadLetters.Reason("b")
	require.True(t, ok)
	assert.Equal(t, ReasonMissingVector, reason)
}

func TestEmptyTextSkipsWordAndEmptyBatch(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	p := &fakeProvider{}
	sum, err := e.driver(testConfig(10), p).Run(context.Background(), []vocab.WordRecord{{Word: "  "}, {Word: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.WordsEmptyText)
	assert.Equal(t, 1, sum.WordsEmbedded)
	assert.Equal(t, []string{"a"}, p.calledWith())

	sum, err = e.driver(testConfig(10), p).Run(context.Background(), []vocab.WordRecord{{Word: ""}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.WordsEmptyText)
	assert.Equal(t, 1, sum.BatchesSkipped)
	assert.Len(t, p.calls, 1)
}

func TestSingleWordBadRequestIsDeadLettered(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	reject := func([]string) embedding.Result { return embedding.APIError(400, "status 400: input too long") }
	p := &fakeProvider{script: []func([]string) embedding.Result{reject, reject}}

	sum, err := e.driver(testConfig(1), p).Run(context.Background(), words("huge"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.WordsRejected)
	assert.Zero(t, sum.Unprocessed())
	assert.True(t, e.deadLetters.Contains("huge"))

	sum, err = e.driver(testConfig(2), p).Run(context.Background(), words("x", "y"))
	require.NoError(t, err)
	assert.Zero(t, sum.WordsRejected)
	assert.False(t, e.deadLetters.Contains("x"))
}

func TestDeadLetteredWordsAreExcludedUnlessRetried(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	require.NoError(t, e.deadLetters.MarkWithReason(ReasonMissingVector, "ghost"))

	p := &fakeProvider{}
	sum, err := e.driver(testConfig(10), p).Run(context.Background(), words("ghost", "a"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DeadLettered)
	assert.Equal(t, []string{"a\nn. a-zh"}, p.calledWith())

	cfg := testConfig(10)
	cfg.RetryDeadLetters = true
	retry := &fakeProvider{}
	sum, err = e.driver(cfg, retry).Run(context.Background(), words("ghost", "a"))
	require.NoError(t, err)
	assert.Zero(t, sum.DeadLettered)
	assert.Equal(t, []string{"ghost\nn. ghost-zh"}, retry.calledWith())
}

func TestBreakerSkipsBatchesOnceOpen(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	cb := resilience.NewCircuitBreaker("fake", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	p := &fakeProvider{script: []func([]string) embedding.Result{transient, transient}}

	sum, err := e.driver(testConfig(1), p, WithBreaker(cb)).Run(context.Background(), words("a", "b", "c", "d"))
	require.NoError(t, err)

	assert.Len(t, p.calls, 2)
	assert.Equal(t, 2, sum.BatchesFailed)
	assert.Equal(t, 2, sum.BatchesSkipped)
	assert.Equal(t, 4, sum.Unprocessed())
	assert.Equal(t, resilience.StateOpen, cb.GetState())
}

func TestReconcileCheckpointsStoredWords(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	require.NoError(t, e.writer.Append(embedding.Record{Word: "a", Embedding: []float32{1, 0}, Dimension: 2}))

	stored, err := store.Words(filepath.Join(e.dir, "embeddings.jsonl"))
	require.NoError(t, err)

	p := &fakeProvider{}
	d := e.driver(testConfig(10), p)
	n, err := d.Reconcile(stored)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = d.Reconcile(stored)
	require.NoError(t, err)
	assert.Zero(t, n)

	sum, err := d.Run(context.Background(), words("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reconciled)
	assert.Equal(t, []string{"b\nn. b-zh"}, p.calledWith())
	assert.Len(t, e.records(t), 2)
}

func TestCancelStopsBeforeNextBatch(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{script: []func([]string) embedding.Result{
		func(texts []string) embedding.Result {
			cancel()
			return ok(texts)
		},
	}}

	sum, err := e.driver(testConfig(1), p).Run(ctx, words("a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, sum.WordsEmbedded)
	assert.Len(t, p.calls, 1)
	assert.True(t, e.checkpoint.Contains("a"))
}

type orderLog struct {
	steps []string
	fail  error
}

func (o *orderLog) Append(records ...embedding.Record) error {
	o.steps = append(o.steps, "records")
	return o.fail
}

func (o *orderLog) Contains(string) bool { return false }
func (o *orderLog) Len() int             { return 0 }

func (o *orderLog) MarkAll(words ...string) error {
	o.steps = append(o.steps, "checkpoint")
	return nil
}

func TestRecordsPersistBeforeCheckpoint(t *testing.T) {
	log := &orderLog{}
	d := New(testConfig(10), &fakeProvider{}, log, nil, log, WithSleeper(func(context.Context, time.Duration) error { return nil }))
	_, err := d.Run(context.Background(), words("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"records", "checkpoint"}, log.steps)

	failing := &orderLog{fail: errors.New("disk full")}
	d = New(testConfig(10), &fakeProvider{}, failing, nil, failing)
	_, err = d.Run(context.Background(), words("a"))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, []string{"records"}, failing.steps)
}

func TestBatchSizeClampedToProviderLimit(t *testing.T) {
	p := &fakeProvider{maxBatch: 2}
	log := &orderLog{}
	d := New(testConfig(50), p, log, nil, log, WithSleeper(func(context.Context, time.Duration) error { return nil }))
	assert.Equal(t, 2, d.BatchSize())
	sum, err := d.Run(context.Background(), words("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Batches)
}

func TestPlanKeepsCorpusOrderAndDedupes(t *testing.T) {
	e := newEnv(t)
	defer e.close(t)
	require.NoError(t, e.checkpoint.MarkAll("b"))
	d := e.driver(testConfig(10), &fakeProvider{})
	plan := d.Plan(words("c", "b", "a", "C"))
	require.Len(t, plan, 2)
	assert.Equal(t, "c", plan[0].Word)
	assert.Equal(t, "a", plan[1].Word)
}

func TestSummaryAccounting(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := Summary{
		RunID:            "r",
		Provider:         "dashscope",
		Model:            "text-embedding-v4",
		Dimension:        1024,
		WordsEmbedded:    4,
		TotalTokens:      2_000_000,
		PricePer1KTokens: 0.0005,
		Currency:         "CNY",
		FreeQuota:        1_000_000,
		ExchangeRate:     7.2,
		StartedAt:        start,
		FinishedAt:       start.Add(2 * time.Second),
	}
	assert.Equal(t, 500_000.0, s.AvgTokensPerWord())
	assert.InDelta(t, 1.0, s.Cost(), 1e-9)
	assert.InDelta(t, 1.0/7.2, s.CostUSD(), 1e-9)
	assert.Equal(t, 1.0, s.FreeQuotaUsed())
	assert.Equal(t, 2*time.Second, s.Duration())

	var buf bytes.Buffer
	require.NoError(t, s.Print(&buf))
	assert.Contains(t, buf.String(), "free quota used:")
	assert.Contains(t, buf.String(), "1.0000 CNY")

	assert.Zero(t, Summary{}.AvgTokensPerWord())
	assert.Zero(t, Summary{}.FreeQuotaUsed())
}
