package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/resilience"
)

// Publisher writes a batch of events. *kafka.Producer implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector accumulates events and publishes them either when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
type BatchCollector struct {
	publisher     Publisher
	mu            sync.Mutex
	flushMu       sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	retry         resilience.RetryConfig
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}
	wg            sync.WaitGroup
}

var _ Sink = (*BatchCollector)(nil)

// NewBatchCollector creates a BatchCollector. Zero values pick 100 events and
// 5 seconds.
func NewBatchCollector(publisher Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retry:         resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 250 * time.Millisecond},
		logger:        slog.Default().With("component", "event-collector"),
	}
}

// Start launches the background flush loop. It stops when ctx is cancelled
// or Close is called.
func (bc *BatchCollector) Start(ctx context.Context) {
	ctx, bc.cancel = context.WithCancel(ctx)
	bc.done = make(chan struct{})
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bc.flush(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	bc.logger.Info("event collector started", "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
}

// Track buffers an event. A full buffer is flushed in the background.
func (bc *BatchCollector) Track(key string, value any) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: key, Value: value})
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if full {
		bc.wg.Add(1)
		go func() {
			defer bc.wg.Done()
			bc.flush(context.Background())
		}()
	}
}

// Close stops the flush loop and publishes whatever is still buffered,
// giving up after five seconds.
func (bc *BatchCollector) Close() {
	if bc.cancel != nil {
		bc.cancel()
		<-bc.done
	}
	bc.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bc.flush(ctx)
}

// BufferLen returns the number of events not yet published.
func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	err := resilience.Retry(ctx, "publish-events", bc.retry, func(ctx context.Context) error {
		return bc.publisher.PublishBatch(ctx, batch)
	})
	if err != nil {
		// Progress events are advisory; the run never waits on them.
		bc.logger.Error("dropping progress events", "events", len(batch), "error", err)
		return
	}
	bc.logger.Debug("progress events published", "events", len(batch))
}
