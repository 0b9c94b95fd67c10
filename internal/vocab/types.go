// Package vocab defines the word record shared by every pipeline stage and
// its JSON file format.
package vocab

import "strings"

// WordRecord is one vocabulary entry. Translations and Phrases are always
// non-nil after a merge so they serialise as [] rather than null.
type WordRecord struct {
	Word         string        `json:"word"`
	Translations []Translation `json:"translations"`
	Phrases      []Phrase      `json:"phrases"`
}

// Translation is a part-of-speech tagged meaning, e.g. {"v", "跑"}.
type Translation struct {
	Type        string `json:"type"`
	Translation string `json:"translation"`
}

// Phrase is a usage example with its meaning.
type Phrase struct {
	Phrase      string `json:"phrase"`
	Translation string `json:"translation"`
}

// Key returns the identity key of a word: lowercased and trimmed.
func Key(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// Key returns the identity key of the record.
func (r WordRecord) Key() string {
	return Key(r.Word)
}
