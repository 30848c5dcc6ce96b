// Package llm defines the text-generation port used by the pipeline and
// its Gemini and mock implementations.
package llm

import (
	"context"
	"errors"

	"github.com/storyloom/storyloom/pkg/models"
)

// ErrInvalidJSON is returned when the model output cannot be parsed into
// the expected structure even after repair.
var ErrInvalidJSON = errors.New("model returned invalid JSON")

// NegativePromptClause is the baseline every image's negative prompt must
// carry: no rendered text or marks on the art, and none of the visual
// content the safety policy bans from a children's book.
const NegativePromptClause = "text, watermark, signature, extra limbs, weapon, blood, gore, frightening imagery"

// StoryRequest carries everything Stage C needs to draft a story.
type StoryRequest struct {
	Spec       models.BookSpec
	Characters []models.CharacterSheet
	// Per-page length rule from the age policy.
	Rule       models.LengthRule
	Vocabulary string
}

// CharacterRequest asks Stage D for a visual identity sheet.
type CharacterRequest struct {
	Spec  models.BookSpec
	Draft models.StoryDraft
	Role  models.DraftRole
}

// PromptsRequest asks Stage E for the full image prompt set.
type PromptsRequest struct {
	Spec       models.BookSpec
	Draft      models.StoryDraft
	Characters []models.CharacterSheet
	StyleToken string
}

// RewriteRequest asks for a softened rewrite of one page that failed the
// output safety gate.
type RewriteRequest struct {
	Spec    models.BookSpec
	Page    models.DraftPage
	Reasons []string
}

// Client is the text-generation port. Implementations must honor context
// cancellation; the pipeline applies per-call timeouts.
type Client interface {
	GenerateStory(ctx context.Context, req StoryRequest) (*models.StoryDraft, error)
	GenerateCharacterSheet(ctx context.Context, req CharacterRequest) (*models.CharacterSheet, error)
	GenerateImagePrompts(ctx context.Context, req PromptsRequest) (*models.ImagePrompts, error)
	RewritePage(ctx context.Context, req RewriteRequest) (string, error)
	ClassifyContent(ctx context.Context, text string) (*models.ModerationResult, error)
}
