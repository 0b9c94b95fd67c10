// Package driver embeds a corpus in fixed-size batches and resumes where the
// last run stopped. Progress lives in two append-only files: the embedding
// store and the checkpoint log. For every successful batch the records are
// written and synced first, then the words are checkpointed, so a checkpointed
// word always has its record on disk. A batch that fails is left for the next
// run; the driver never retries in process beyond the fixed pause.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/render"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/resilience"
)

// Dead-letter reasons. Dead-lettered words are excluded from later runs
// unless Config.RetryDeadLetters is set.
const (
	ReasonEmptyText     = "empty_text"
	ReasonMissingVector = "missing_vector"
	ReasonRejected      = "rejected"
)

// Checkpoint is the set of words already embedded. *checkpoint.Log
// implements it.
type Checkpoint interface {
	Contains(word string) bool
	Len() int
	MarkAll(words ...string) error
}

// DeadLetters records words that can never be embedded. *checkpoint.Log
// implements it.
type DeadLetters interface {
	Contains(word string) bool
	MarkWithReason(reason string, words ...string) error
}

// RecordWriter appends records durably. *store.Writer implements it.
type RecordWriter interface {
	Append(records ...embedding.Record) error
}

// Config holds the run parameters.
type Config struct {
	BatchSize        int
	BatchDelay       time.Duration
	TransportBackoff time.Duration
	APIErrorBackoff  time.Duration
	PricePer1KTokens float64
	Currency         string
	FreeQuota        int
	ExchangeRate     float64
	RetryDeadLetters bool
}

// Option customises a Driver.
type Option func(*Driver)

// WithBreaker stops calling the provider after repeated failed batches.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(d *Driver) { d.breaker = cb }
}

// WithMetrics records batch outcomes and token usage.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithSink publishes one BatchEvent per batch.
func WithSink(s events.Sink) Option {
	return func(d *Driver) { d.sink = s }
}

// WithSleeper replaces the real pause, mainly for tests.
func WithSleeper(s resilience.Sleeper) Option {
	return func(d *Driver) { d.sleep = s }
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(d *Driver) { d.runID = id }
}

// Driver runs the batch loop.
type Driver struct {
	cfg         Config
	provider    embedding.Provider
	checkpoint  Checkpoint
	deadLetters DeadLetters
	writer      RecordWriter
	breaker     *resilience.CircuitBreaker
	metrics     *metrics.Metrics
	sink        events.Sink
	sleep       resilience.Sleeper
	runID       string
	reconciled  int
	logger      *slog.Logger
}

// New creates a Driver. deadLetters may be nil. A BatchSize outside
// [1, provider.MaxBatchSize()] is clamped into it.
func New(cfg Config, provider embedding.Provider, cp Checkpoint, deadLetters DeadLetters, writer RecordWriter, opts ...Option) *Driver {
	limit := provider.MaxBatchSize()
	if cfg.BatchSize <= 0 || (limit > 0 && cfg.BatchSize > limit) {
		cfg.BatchSize = limit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	d := &Driver{
		cfg:         cfg,
		provider:    provider,
		checkpoint:  cp,
		deadLetters: deadLetters,
		writer:      writer,
		sink:        events.Nop{},
		sleep:       resilience.Pause,
		logger:      slog.Default().With("component", "batch-driver", "provider", provider.Name()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BatchSize returns the effective batch size after clamping.
func (d *Driver) BatchSize() int { return d.cfg.BatchSize }

// Reconcile checkpoints words that already have a record in the store but
// are missing from the checkpoint, which happens when a run dies between
// the two writes. storeWords holds vocab keys. It returns how many words
// were added.
func (d *Driver) Reconcile(storeWords map[string]struct{}) (int, error) {
	var missing []string
	for key := range storeWords {
		if !d.checkpoint.Contains(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	slices.Sort(missing)
	if err := d.checkpoint.MarkAll(missing...); err != nil {
		return 0, fmt.Errorf("reconciling checkpoint: %w", err)
	}
	d.reconciled += len(missing)
	d.logger.Warn("checkpointed words found in the store only", "words", len(missing))
	return len(missing), nil
}

// Plan returns the records of corpus still to embed, in corpus order.
// Checkpointed words are excluded, and so are dead-lettered words unless
// RetryDeadLetters is set. A key seen twice is planned once.
func (d *Driver) Plan(corpus []vocab.WordRecord) []vocab.WordRecord {
	remaining, _, _ := d.plan(corpus)
	return remaining
}

func (d *Driver) plan(corpus []vocab.WordRecord) (remaining []vocab.WordRecord, done, dead int) {
	seen := make(map[string]struct{}, len(corpus))
	for _, r := range corpus {
		key := r.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		switch {
		case d.checkpoint.Contains(r.Word):
			done++
		case !d.cfg.RetryDeadLetters && d.deadLetters != nil && d.deadLetters.Contains(r.Word):
			dead++
		default:
			remaining = append(remaining, r)
		}
	}
	return remaining, done, dead
}

// Run embeds every planned record. Failed batches are logged and left for
// the next run. Cancelling ctx stops the run before the next batch and is
// reported through Summary.Interrupted, not as an error. The only errors
// returned are failures to persist progress.
func (d *Driver) Run(ctx context.Context, corpus []vocab.WordRecord) (Summary, error) {
	runID := d.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logger.WithRun(ctx, runID)
	log := logger.FromContext(ctx).With("component", "batch-driver", "provider", d.provider.Name())

	remaining, done, dead := d.plan(corpus)
	batches := partition(remaining, d.cfg.BatchSize)
	sum := Summary{
		RunID:            runID,
		Provider:         d.provider.Name(),
		Model:            d.provider.Model(),
		Dimension:        d.provider.Dimension(),
		CorpusWords:      len(corpus),
		AlreadyDone:      done,
		DeadLettered:     dead,
		Reconciled:       d.reconciled,
		Remaining:        len(remaining),
		Batches:          len(batches),
		StartedAt:        time.Now(),
		PricePer1KTokens: d.cfg.PricePer1KTokens,
		Currency:         d.cfg.Currency,
		FreeQuota:        d.cfg.FreeQuota,
		ExchangeRate:     d.cfg.ExchangeRate,
	}
	log.Info("embedding run started",
		"corpus", len(corpus),
		"already_done", done,
		"dead_lettered", dead,
		"remaining", len(remaining),
		"batches", len(batches),
		"batch_size", d.cfg.BatchSize,
	)
	d.setCheckpointGauge()

	for i, batch := range batches {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				sum.Interrupted = true
				break
			}
		}
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		if err := d.runBatch(ctx, log, i+1, len(batches), batch, &sum); err != nil {
			sum.FinishedAt = time.Now()
			return sum, err
		}
	}
	sum.FinishedAt = time.Now()

	if sum.Interrupted {
		log.Warn("embedding run interrupted", "batches_done", sum.BatchesOK+sum.BatchesFailed+sum.BatchesSkipped, "batches", sum.Batches)
	}
	log.Info("embedding run finished",
		"embedded", sum.WordsEmbedded,
		"empty_text", sum.WordsEmptyText,
		"missing_vector", sum.WordsMissingVector,
		"batches_ok", sum.BatchesOK,
		"batches_failed", sum.BatchesFailed,
		"batches_skipped", sum.BatchesSkipped,
		"tokens", sum.TotalTokens,
		"duration", sum.Duration(),
	)
	return sum, nil
}

func (d *Driver) runBatch(ctx context.Context, log *slog.Logger, n, total int, batch []vocab.WordRecord, sum *Summary) error {
	log = log.With("batch", n, "batches", total)

	words := make([]string, 0, len(batch))
	texts := make([]string, 0, len(batch))
	var empty []string
	for _, r := range batch {
		text := render.Text(r)
		if render.IsBlank(text) {
			empty = append(empty, r.Word)
			continue
		}
		words = append(words, r.Word)
		texts = append(texts, text)
	}
	if len(empty) > 0 {
		log.Warn("skipping words with empty text", "words", empty)
		sum.WordsEmptyText += len(empty)
		d.countWords("empty_text", len(empty))
		if err := d.deadLetter(ReasonEmptyText, empty); err != nil {
			return err
		}
	}
	if len(texts) == 0 {
		log.Warn("skipping batch with no text to embed")
		sum.BatchesSkipped++
		d.finishBatch(sum.RunID, n, total, "empty", words, 0, 0, "")
		return nil
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			log.Warn("skipping batch, provider circuit open", "words", words, "error", err)
			sum.BatchesSkipped++
			d.finishBatch(sum.RunID, n, total, "breaker_open", words, 0, 0, err.Error())
			return nil
		}
	}

	start := time.Now()
	res := d.provider.Embed(ctx, texts)
	if d.metrics != nil {
		d.metrics.RequestDuration.WithLabelValues(d.provider.Name()).Observe(time.Since(start).Seconds())
	}
	if d.breaker != nil {
		d.breaker.Record(outcome(res))
	}

	switch res.Status {
	case embedding.StatusSuccess:
		return d.persist(log, n, total, words, res, sum)
	case embedding.StatusRateLimited:
		log.Warn("batch rate limited", "words", words, "detail", res.Detail)
		sum.BatchesFailed++
		d.finishBatch(sum.RunID, n, total, res.Status.String(), words, 0, 0, res.Detail)
		d.pause(ctx, d.cfg.APIErrorBackoff)
	case embedding.StatusTransient:
		log.Warn("batch failed", "words", words, "detail", res.Detail, "error", res.Err, "http_status", res.HTTPStatus)
		sum.BatchesFailed++
		d.finishBatch(sum.RunID, n, total, res.Status.String(), words, 0, 0, res.Detail)
		if rejectedInput(res, words) {
			log.Warn("provider rejected the word", "word", words[0], "detail", res.Detail)
			sum.WordsRejected++
			if err := d.deadLetter(ReasonRejected, words); err != nil {
				return err
			}
		}
		if res.Signalled() {
			d.pause(ctx, d.cfg.APIErrorBackoff)
		} else {
			d.pause(ctx, d.cfg.TransportBackoff)
		}
	default:
		log.Warn("malformed response, skipping batch", "words", words, "detail", res.Detail)
		sum.BatchesFailed++
		d.finishBatch(sum.RunID, n, total, embedding.StatusMalformed.String(), words, 0, 0, res.Detail)
	}
	return nil
}

// deadLetter is a no-op without a dead-letter log.
func (d *Driver) deadLetter(reason string, words []string) error {
	if d.deadLetters == nil {
		return nil
	}
	if err := d.deadLetters.MarkWithReason(reason, words...); err != nil {
		return fmt.Errorf("writing dead letters: %w", err)
	}
	return nil
}

// rejectedInput reports a single-word batch the API refused as a bad
// request. With more than one word the culprit is unknown, so the batch stays
// eligible for the next run.
func rejectedInput(res embedding.Result, words []string) bool {
	return len(words) == 1 && res.HTTPStatus == http.StatusBadRequest
}

func (d *Driver) persist(log *slog.Logger, n, total int, words []string, res embedding.Result, sum *Summary) error {
	records := make([]embedding.Record, 0, len(words))
	embedded := make([]string, 0, len(words))
	var missing []string
	for i, w := range words {
		var vec []float32
		if i < len(res.Vectors) {
			vec = res.Vectors[i]
		}
		if len(vec) == 0 {
			missing = append(missing, w)
			continue
		}
		records = append(records, embedding.Record{
			Word:        w,
			Embedding:   vec,
			BatchTokens: res.TotalTokens,
			Dimension:   len(vec),
		})
		embedded = append(embedded, w)
	}
	if len(missing) > 0 {
		log.Warn("response has no vector for some words", "words", missing)
		sum.WordsMissingVector += len(missing)
		d.countWords("missing_vector", len(missing))
	}

	if err := d.writer.Append(records...); err != nil {
		return fmt.Errorf("batch %d: writing embeddings: %w", n, err)
	}
	if err := d.checkpoint.MarkAll(embedded...); err != nil {
		return fmt.Errorf("batch %d: writing checkpoint: %w", n, err)
	}
	if err := d.deadLetter(ReasonMissingVector, missing); err != nil {
		return err
	}

	sum.BatchesOK++
	sum.WordsEmbedded += len(embedded)
	sum.TotalTokens += res.TotalTokens
	if d.metrics != nil {
		d.metrics.TokensTotal.Add(float64(res.TotalTokens))
	}
	d.countWords("embedded", len(embedded))
	d.setCheckpointGauge()
	d.finishBatch(sum.RunID, n, total, res.Status.String(), words, len(embedded), res.TotalTokens, "")

	log.Info("batch embedded",
		"words", len(embedded),
		"tokens", res.TotalTokens,
		"total_words", sum.WordsEmbedded,
		"total_tokens", sum.TotalTokens,
	)
	return nil
}

func (d *Driver) pause(ctx context.Context, wait time.Duration) {
	// A cancelled pause ends the run at the top of the next iteration.
	_ = d.sleep(ctx, wait)
}

func (d *Driver) finishBatch(runID string, n, total int, status string, words []string, embedded, tokens int, detail string) {
	if d.metrics != nil {
		d.metrics.BatchesTotal.WithLabelValues(status).Inc()
	}
	d.sink.Track(runID, events.BatchEvent{
		RunID:     runID,
		Batch:     n,
		Batches:   total,
		Status:    status,
		Words:     words,
		Embedded:  embedded,
		Tokens:    tokens,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (d *Driver) countWords(result string, n int) {
	if d.metrics != nil && n > 0 {
		d.metrics.WordsTotal.WithLabelValues(result).Add(float64(n))
	}
}

func (d *Driver) setCheckpointGauge() {
	if d.metrics != nil {
		d.metrics.CheckpointSize.Set(float64(d.checkpoint.Len()))
	}
}

// outcome maps a provider result onto the breaker's success/failure input.
func outcome(res embedding.Result) error {
	if res.Status == embedding.StatusSuccess {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Status.String())
}

func partition(records []vocab.WordRecord, size int) [][]vocab.WordRecord {
	if len(records) == 0 {
		return nil
	}
	batches := make([][]vocab.WordRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return batches
}
