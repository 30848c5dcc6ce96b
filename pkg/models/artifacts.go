package models

import "time"

// StoryDraft is the Stage C output: a candidate title and exactly
// page_count page texts. One draft per job, immutable after write.
type StoryDraft struct {
	Title      string      `json:"title"`
	Language   Language    `json:"language"`
	TargetAge  TargetAge   `json:"target_age"`
	Theme      string      `json:"theme,omitempty"`
	Moral      string      `json:"moral,omitempty"`
	Characters []DraftRole `json:"characters,omitempty"`
	Cover      CoverScene  `json:"cover"`
	Pages      []DraftPage `json:"pages"`
	Continuity DraftNotes  `json:"continuity"`
}

// DraftRole is a character appearing in a draft.
type DraftRole struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Brief string `json:"brief,omitempty"`
}

// CoverScene describes the cover illustration.
type CoverScene struct {
	Scene string `json:"scene"`
	Mood  string `json:"mood,omitempty"`
}

// DraftPage is one page of the draft.
type DraftPage struct {
	Page  int    `json:"page"`
	Text  string `json:"text"`
	Scene string `json:"scene"`
	Mood  string `json:"mood,omitempty"`
}

// DraftNotes carries cross-page consistency hints for stages D and E.
type DraftNotes struct {
	CharacterConsistency string `json:"character_consistency_notes,omitempty"`
	StyleNotes           string `json:"style_notes_for_images,omitempty"`
}

// CharacterSheet is the stable visual identity of one character. The
// master description is the canonical anchor embedded verbatim in every
// image prompt.
type CharacterSheet struct {
	ID                string            `json:"character_id"`
	Name              string            `json:"name"`
	MasterDescription string            `json:"master_description"`
	Appearance        map[string]string `json:"appearance"`
	Clothing          map[string]string `json:"clothing"`
	PersonalityTraits []string          `json:"personality_traits"`
	VisualStyleNotes  string            `json:"visual_style_notes,omitempty"`
}

// Character is a persisted character sheet owned by a user. Characters
// outlive jobs and may be referenced by many books.
type Character struct {
	ID                string    `db:"id"`
	UserKey           string    `db:"user_key"`
	Name              string    `db:"name"`
	MasterDescription string    `db:"master_description"`
	Appearance        []byte    `db:"appearance"`
	Clothing          []byte    `db:"clothing"`
	PersonalityTraits []byte    `db:"personality_traits"`
	VisualStyleNotes  string    `db:"visual_style_notes"`
	CreatedAt         time.Time `db:"created_at"`
}

// ImagePrompt is the generation request for one illustration. Page 0 is
// the cover.
type ImagePrompt struct {
	Page           int    `json:"page"`
	PositivePrompt string `json:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Seed           int64  `json:"seed"`
	AspectRatio    string `json:"aspect_ratio"`
}

// ImagePrompts is the Stage E output: a cover prompt plus one prompt per
// page, each embedding the character's master description and the style
// token.
type ImagePrompts struct {
	Style Style         `json:"style"`
	Cover ImagePrompt   `json:"cover"`
	Pages []ImagePrompt `json:"pages"`
}

// Book is the terminal artifact of a successful job.
type Book struct {
	ID            string    `db:"id" json:"book_id"`
	JobID         string    `db:"job_id" json:"job_id"`
	UserKey       string    `db:"user_key" json:"-"`
	Title         string    `db:"title" json:"title"`
	Language      Language  `db:"language" json:"language"`
	TargetAge     TargetAge `db:"target_age" json:"target_age"`
	Style         Style     `db:"style" json:"style"`
	Theme         string    `db:"theme" json:"theme,omitempty"`
	CharacterID   *string   `db:"character_id" json:"character_id,omitempty"`
	CoverImageURL string    `db:"cover_image_url" json:"cover_image_url"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Page is one page of a finished book. (book_id, page_number) is unique;
// pages are 1-indexed.
type Page struct {
	BookID      string `db:"book_id" json:"-"`
	PageNumber  int    `db:"page_number" json:"page_number"`
	Text        string `db:"text" json:"text"`
	ImageURL    string `db:"image_url" json:"image_url"`
	ImagePrompt string `db:"image_prompt" json:"image_prompt"`
}

// BookResult is a book with its ordered pages, embedded in job status
// responses once the job is done.
type BookResult struct {
	Book
	Pages []Page `json:"pages"`
}
