package vocab

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidRecord
}

// Validate performs presence checks only: the word must be non-blank and
// every sub-entry must carry some text.
func Validate(r WordRecord) error {
	errs := make(map[string]string)
	if strings.TrimSpace(r.Word) == "" {
		errs["word"] = "word is required"
	}
	for i, t := range r.Translations {
		if strings.TrimSpace(t.Type) == "" && strings.TrimSpace(t.Translation) == "" {
			errs[fmt.Sprintf("translations[%d]", i)] = "translation is empty"
		}
	}
	for i, p := range r.Phrases {
		if strings.TrimSpace(p.Phrase) == "" {
			errs[fmt.Sprintf("phrases[%d]", i)] = "phrase is required"
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
