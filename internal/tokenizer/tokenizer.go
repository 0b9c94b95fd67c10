// Package tokenizer counts BPE tokens for rendered word texts so embedding
// cost can be estimated before any request is made. Ranks are loaded from
// the embedded offline loader, so counting never touches the network.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/render"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
)

// DefaultEncoding is the encoding used by OpenAI's embedding models.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// Estimator counts tokens under one fixed encoding. It is safe for
// concurrent use.
type Estimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// New loads the named encoding. An empty name selects DefaultEncoding.
func New(encoding string) (*Estimator, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading encoding %s: %w", encoding, err)
	}
	return &Estimator{encoding: encoding, enc: enc}, nil
}

// Encoding returns the encoding name.
func (e *Estimator) Encoding() string {
	return e.encoding
}

// Count returns the number of tokens in text. Special-token markers are
// counted as ordinary text.
func (e *Estimator) Count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// Piece is one token and the text it decodes to.
type Piece struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Inspection shows exactly what would be sent for one record.
type Inspection struct {
	Word   string  `json:"word"`
	Text   string  `json:"text"`
	Tokens []Piece `json:"tokens"`
}

// Inspect renders r and splits it into decoded tokens.
func (e *Estimator) Inspect(r vocab.WordRecord) Inspection {
	text := render.Text(r)
	ids := e.enc.Encode(text, nil, nil)
	pieces := make([]Piece, len(ids))
	for i, id := range ids {
		pieces[i] = Piece{ID: id, Text: e.enc.Decode([]int{id})}
	}
	return Inspection{Word: r.Word, Text: text, Tokens: pieces}
}
