package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// BookSpec is the client-supplied specification for one book. It is frozen
// when the job is queued: pipeline stages read it, never write it.
type BookSpec struct {
	Topic             string    `json:"topic"`
	Language          Language  `json:"language"`
	TargetAge         TargetAge `json:"target_age"`
	Style             Style     `json:"style"`
	Theme             Theme     `json:"theme,omitempty"`
	PageCount         int       `json:"page_count"`
	CharacterID       string    `json:"character_id,omitempty"`
	CharacterIDs      []string  `json:"character_ids,omitempty"`
	ForbiddenElements []string  `json:"forbidden_elements,omitempty"`

	// Regen is set only on page-regeneration jobs; the rest of the spec
	// is copied from the original book's job.
	Regen *RegenSpec `json:"regen,omitempty"`
}

// RegenSpec identifies the page a regeneration job rebuilds.
type RegenSpec struct {
	BookID string      `json:"book_id"`
	Page   int         `json:"page"`
	Target RegenTarget `json:"target"`
}

// Normalize applies defaults and canonicalizes the spec in place.
// When both character_id and character_ids are present, the list wins and
// the singular is folded in only if the list is empty.
func (s *BookSpec) Normalize() {
	s.Topic = strings.TrimSpace(s.Topic)
	if s.Language == "" {
		s.Language = LanguageKorean
	}
	if s.PageCount == 0 {
		s.PageCount = DefaultPageCount
	}
	if len(s.CharacterIDs) == 0 && s.CharacterID != "" {
		s.CharacterIDs = []string{s.CharacterID}
	}
	if len(s.CharacterIDs) > 0 {
		s.CharacterID = s.CharacterIDs[0]
	}
	for i, e := range s.ForbiddenElements {
		s.ForbiddenElements[i] = strings.TrimSpace(e)
	}
}

// ValidationError marks a client-supplied value as invalid; the API maps
// it to a 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// NewValidationError builds a ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Validate checks the spec against its field constraints.
func (s *BookSpec) Validate() error {
	// Character count, not bytes: a 200-character Korean topic is valid.
	if n := utf8.RuneCountInString(s.Topic); n == 0 || n > 200 {
		return NewValidationError("topic must be 1-200 characters, got %d", n)
	}
	if !s.Language.Valid() {
		return NewValidationError("unsupported language: %q", s.Language)
	}
	if !s.TargetAge.Valid() {
		return NewValidationError("unsupported target_age: %q", s.TargetAge)
	}
	if !s.Style.Valid() {
		return NewValidationError("unsupported style: %q", s.Style)
	}
	if !s.Theme.Valid() {
		return NewValidationError("unsupported theme: %q", s.Theme)
	}
	return ValidatePageCount(s.PageCount)
}
