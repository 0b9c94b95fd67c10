// Package render turns a word record into the plain text that is tokenised
// and embedded. The same function feeds the token estimator and the batch
// driver, so estimates always match what is sent.
package render

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/vocab"
)

// PhrasesHeader introduces the phrase block.
const PhrasesHeader = "phrases:"

// Text renders r as newline-separated lines:
//
//	word
//	<type>. <translation>   (one per translation; type omitted when empty)
//	phrases:                (only when there are phrases)
//	<phrase> - <translation>
//
// Lines that are empty after trimming are dropped. A record whose word and
// lists are all blank renders to "".
func Text(r vocab.WordRecord) string {
	lines := make([]string, 0, 2+len(r.Translations)+len(r.Phrases))
	if w := strings.TrimSpace(r.Word); w != "" {
		lines = append(lines, w)
	}
	for _, t := range r.Translations {
		var line string
		if strings.TrimSpace(t.Type) == "" {
			line = strings.TrimSpace(t.Translation)
		} else {
			line = strings.TrimSpace(t.Type + ". " + t.Translation)
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(r.Phrases) > 0 {
		lines = append(lines, PhrasesHeader)
		for _, p := range r.Phrases {
			lines = append(lines, p.Phrase+" - "+p.Translation)
		}
	}
	return strings.Join(lines, "\n")
}

// IsBlank reports whether text has nothing worth embedding.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
