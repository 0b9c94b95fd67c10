// Package events carries batch progress of an embedding run to Kafka so a
// long run can be followed from another shell (vocabctl events tail).
package events

import (
	"time"
)

// BatchEvent reports the outcome of one batch of a run.
type BatchEvent struct {
	RunID     string    `json:"run_id"`
	Batch     int       `json:"batch"`
	Batches   int       `json:"batches"`
	Status    string    `json:"status"`
	Words     []string  `json:"words"`
	Embedded  int       `json:"embedded"`
	Tokens    int       `json:"tokens"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives progress events. Implementations must not block the caller
// on network I/O.
type Sink interface {
	Track(key string, value any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(string, any) {}
