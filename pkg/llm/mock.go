package llm

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/storyloom/storyloom/pkg/models"
)

// Mock is a deterministic in-process Client for local development and
// tests. Output depends only on the request, so repeated runs of the same
// spec produce the same book.
type Mock struct{}

// NewMock creates a mock Client.
func NewMock() *Mock { return &Mock{} }

// GenerateStory implements Client.
func (m *Mock) GenerateStory(_ context.Context, req StoryRequest) (*models.StoryDraft, error) {
	draft := &models.StoryDraft{
		Title:     fmt.Sprintf("The Story of %s", req.Spec.Topic),
		Language:  req.Spec.Language,
		TargetAge: req.Spec.TargetAge,
		Theme:     string(req.Spec.Theme),
		Moral:     "Kindness always finds a way.",
		Cover: models.CoverScene{
			Scene: fmt.Sprintf("A cheerful hero on an adventure about %s", req.Spec.Topic),
			Mood:  "warm",
		},
		Continuity: models.DraftNotes{
			CharacterConsistency: "same hero on every page",
			StyleNotes:           "consistent palette throughout",
		},
	}

	if len(req.Characters) > 0 {
		for _, c := range req.Characters {
			draft.Characters = append(draft.Characters, models.DraftRole{
				ID:   c.ID,
				Name: c.Name,
				Role: "protagonist",
			})
		}
	} else {
		draft.Characters = []models.DraftRole{{
			ID:    "hero",
			Name:  "Mila",
			Role:  "protagonist",
			Brief: "a curious little fox",
		}}
	}

	for i := 1; i <= req.Spec.PageCount; i++ {
		draft.Pages = append(draft.Pages, models.DraftPage{
			Page:  i,
			Text:  fmt.Sprintf("Page %d: a gentle moment about %s.", i, req.Spec.Topic),
			Scene: fmt.Sprintf("scene %d of the %s adventure", i, req.Spec.Topic),
			Mood:  "cozy",
		})
	}
	return draft, nil
}

// GenerateCharacterSheet implements Client.
func (m *Mock) GenerateCharacterSheet(_ context.Context, req CharacterRequest) (*models.CharacterSheet, error) {
	return &models.CharacterSheet{
		ID:                req.Role.ID,
		Name:              req.Role.Name,
		MasterDescription: fmt.Sprintf("%s, a small friendly character with round eyes and a red scarf", req.Role.Name),
		Appearance:        map[string]string{"body": "small and round", "face": "big round eyes"},
		Clothing:          map[string]string{"outfit": "red scarf"},
		PersonalityTraits: []string{"curious", "kind"},
		VisualStyleNotes:  "soft edges",
	}, nil
}

// GenerateImagePrompts implements Client.
func (m *Mock) GenerateImagePrompts(_ context.Context, req PromptsRequest) (*models.ImagePrompts, error) {
	seed := deterministicSeed(req.Draft.Title)
	anchor := ""
	if len(req.Characters) > 0 {
		anchor = req.Characters[0].MasterDescription + ", "
	}

	out := &models.ImagePrompts{
		Style: req.Spec.Style,
		Cover: models.ImagePrompt{
			Page:           0,
			PositivePrompt: fmt.Sprintf("%s, %s%s", req.StyleToken, anchor, req.Draft.Cover.Scene),
			NegativePrompt: NegativePromptClause,
			Seed:           seed,
			AspectRatio:    "3:4",
		},
	}
	for _, p := range req.Draft.Pages {
		out.Pages = append(out.Pages, models.ImagePrompt{
			Page:           p.Page,
			PositivePrompt: fmt.Sprintf("%s, %s%s", req.StyleToken, anchor, p.Scene),
			NegativePrompt: NegativePromptClause,
			Seed:           seed,
			AspectRatio:    "4:3",
		})
	}
	return out, nil
}

// RewritePage implements Client.
func (m *Mock) RewritePage(_ context.Context, req RewriteRequest) (string, error) {
	return fmt.Sprintf("A gentle, friendly retelling of page %d.", req.Page.Page), nil
}

// ClassifyContent implements Client. The mock considers everything safe;
// lexicon screening happens before the model is consulted.
func (m *Mock) ClassifyContent(_ context.Context, _ string) (*models.ModerationResult, error) {
	return &models.ModerationResult{IsSafe: true}, nil
}

func deterministicSeed(s string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum32())
}
