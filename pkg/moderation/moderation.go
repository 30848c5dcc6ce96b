// Package moderation implements the two safety gates: a fast lexicon
// screen over the request, and an LLM review of generated story text.
package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/pkg/llm"
	"github.com/storyloom/storyloom/pkg/models"
)

// blocklist holds terms that are never acceptable in a children's book
// request, in the languages the service supports. Matching is
// case-insensitive substring; the LLM gate catches what a word list
// cannot.
var blocklist = []string{
	// en
	"kill", "murder", "suicide", "gun", "weapon", "blood", "gore",
	"torture", "drug", "cocaine", "sex", "naked", "porn", "rape",
	"terrorist", "bomb",
	// ko
	"살인", "자살", "총", "무기", "피범벅", "고문", "마약", "음란",
	"강간", "테러", "폭탄",
}

// Moderator runs both safety gates.
type Moderator struct {
	llm llm.Client
}

// New creates a Moderator that escalates to the given LLM client.
func New(client llm.Client) *Moderator {
	return &Moderator{llm: client}
}

// ScreenInput checks the user-supplied spec before any generation work.
// The lexicon runs first; clean input is then confirmed by the model.
func (m *Moderator) ScreenInput(ctx context.Context, spec models.BookSpec) (*models.ModerationResult, error) {
	if hit := scanLexicon(spec.Topic); hit != "" {
		return &models.ModerationResult{
			IsSafe:      false,
			Reasons:     []string{fmt.Sprintf("topic contains blocked term %q", hit)},
			Suggestions: []string{"choose a gentler topic suitable for young children"},
		}, nil
	}
	for _, e := range spec.ForbiddenElements {
		if hit := scanLexicon(e); hit != "" {
			return &models.ModerationResult{
				IsSafe:  false,
				Reasons: []string{fmt.Sprintf("forbidden_elements contains blocked term %q", hit)},
			}, nil
		}
	}
	return m.llm.ClassifyContent(ctx, fmt.Sprintf("Story request: topic=%q, theme=%q", spec.Topic, spec.Theme))
}

// ReviewDraft checks generated story text against both gates and reports
// per-page problems so the pipeline can rewrite only the offending pages.
func (m *Moderator) ReviewDraft(ctx context.Context, draft models.StoryDraft) (*models.ModerationResult, []int, error) {
	var unsafePages []int
	var reasons []string

	for _, p := range draft.Pages {
		if hit := scanLexicon(p.Text); hit != "" {
			unsafePages = append(unsafePages, p.Page)
			reasons = append(reasons, fmt.Sprintf("page %d contains blocked term %q", p.Page, hit))
		}
	}
	if len(unsafePages) > 0 {
		return &models.ModerationResult{IsSafe: false, Reasons: reasons}, unsafePages, nil
	}

	verdict, err := m.llm.ClassifyContent(ctx, draftText(draft))
	if err != nil {
		return nil, nil, err
	}
	if !verdict.IsSafe {
		// The model judges the story as a whole; without page attribution
		// every page is a rewrite candidate.
		for _, p := range draft.Pages {
			unsafePages = append(unsafePages, p.Page)
		}
	}
	return verdict, unsafePages, nil
}

func scanLexicon(text string) string {
	lowered := strings.ToLower(text)
	for _, term := range blocklist {
		if strings.Contains(lowered, term) {
			return term
		}
	}
	return ""
}

func draftText(draft models.StoryDraft) string {
	var b strings.Builder
	b.WriteString(draft.Title)
	b.WriteString("\n")
	for _, p := range draft.Pages {
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return b.String()
}
