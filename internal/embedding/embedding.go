// Package embedding defines the provider-neutral contract between the batch
// driver and the embedding APIs. A provider never returns a Go error from
// Embed: every outcome is a Result whose Status the driver switches on.
package embedding

import (
	"context"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// Status classifies the outcome of one embedding request.
type Status int

const (
	StatusSuccess Status = iota
	StatusRateLimited
	StatusTransient
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRateLimited:
		return "rate_limited"
	case StatusTransient:
		return "transient"
	case StatusMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one request. On success Vectors has one slot per
// input text, in input order; a nil slot means the response carried no
// vector for that text. HTTPStatus is zero when no response was received.
type Result struct {
	Status      Status
	Vectors     [][]float32
	TotalTokens int
	HTTPStatus  int
	Detail      string
	Err         error
}

// Success builds a successful Result.
func Success(vectors [][]float32, totalTokens int) Result {
	return Result{Status: StatusSuccess, Vectors: vectors, TotalTokens: totalTokens}
}

// RateLimited builds a Result for a throttled request.
func RateLimited(httpStatus int, detail string) Result {
	return Result{Status: StatusRateLimited, HTTPStatus: httpStatus, Detail: detail, Err: apperrors.New(apperrors.ErrRateLimited, detail)}
}

// APIError builds a Transient Result for an error the API answered with.
func APIError(httpStatus int, detail string) Result {
	r := Transient(detail, nil)
	r.HTTPStatus = httpStatus
	return r
}

// Signalled reports whether the failure was answered by the API rather than
// lost in transport.
func (r Result) Signalled() bool {
	return r.HTTPStatus != 0
}

// Transient builds a Result for a failure with no usable API answer, such as
// a network error.
func Transient(detail string, cause error) Result {
	err := apperrors.New(apperrors.ErrTransient, detail)
	if cause != nil {
		err = apperrors.Newf(apperrors.ErrTransient, "%s: %v", detail, cause)
	}
	return Result{Status: StatusTransient, Detail: detail, Err: err}
}

// Malformed builds a Result for a response that could not be interpreted.
func Malformed(detail string) Result {
	return Result{Status: StatusMalformed, Detail: detail, Err: apperrors.New(apperrors.ErrMalformedResponse, detail)}
}

// Provider embeds a batch of texts with one request.
type Provider interface {
	Name() string
	Model() string
	Dimension() int
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string) Result
}

// Record is one line of the embedding store.
type Record struct {
	Word        string    `json:"word"`
	Embedding   []float32 `json:"embedding"`
	BatchTokens int       `json:"batch_tokens"`
	Dimension   int       `json:"dimension"`
}

// Validate checks that the record carries a word and a vector whose length
// matches Dimension.
func (r Record) Validate() error {
	if r.Word == "" {
		return apperrors.New(apperrors.ErrInvalidRecord, "embedding record without word")
	}
	if len(r.Embedding) == 0 {
		return apperrors.Newf(apperrors.ErrInvalidRecord, "embedding record %q has no vector", r.Word)
	}
	if r.Dimension != 0 && r.Dimension != len(r.Embedding) {
		return apperrors.Newf(apperrors.ErrInvalidRecord, "embedding record %q: dimension %d but vector has %d values", r.Word, r.Dimension, len(r.Embedding))
	}
	return nil
}

// Float32s converts a float64 vector as returned by the JSON APIs.
func Float32s(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// PlaceByIndex builds the Vectors slice of a Result from (index, vector)
// pairs. Indexes outside [0, n) are reported as an error.
func PlaceByIndex(n int, indexes []int, vectors [][]float32) ([][]float32, error) {
	if len(indexes) != len(vectors) {
		return nil, fmt.Errorf("%d indexes for %d vectors", len(indexes), len(vectors))
	}
	out := make([][]float32, n)
	for i, idx := range indexes {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("embedding index %d out of range [0,%d)", idx, n)
		}
		out[idx] = vectors[i]
	}
	return out, nil
}
