package moderation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/pkg/llm"
	"github.com/storyloom/storyloom/pkg/models"
)

// flaggingClient wraps the mock LLM but returns a fixed verdict from
// ClassifyContent, so tests can force the model gate either way.
type flaggingClient struct {
	*llm.Mock
	verdict models.ModerationResult
}

func (c *flaggingClient) ClassifyContent(_ context.Context, _ string) (*models.ModerationResult, error) {
	v := c.verdict
	return &v, nil
}

func TestScreenInput(t *testing.T) {
	m := New(llm.NewMock())
	ctx := context.Background()

	t.Run("clean topic passes", func(t *testing.T) {
		verdict, err := m.ScreenInput(ctx, models.BookSpec{Topic: "a picnic by the river"})
		require.NoError(t, err)
		assert.True(t, verdict.IsSafe)
	})

	t.Run("blocked english term is rejected", func(t *testing.T) {
		verdict, err := m.ScreenInput(ctx, models.BookSpec{Topic: "a story about a gun"})
		require.NoError(t, err)
		assert.False(t, verdict.IsSafe)
		require.NotEmpty(t, verdict.Reasons)
		assert.Contains(t, verdict.Reasons[0], "gun")
		assert.NotEmpty(t, verdict.Suggestions)
	})

	t.Run("blocked korean term is rejected", func(t *testing.T) {
		verdict, err := m.ScreenInput(ctx, models.BookSpec{Topic: "무기를 든 영웅"})
		require.NoError(t, err)
		assert.False(t, verdict.IsSafe)
	})

	t.Run("matching is case-insensitive", func(t *testing.T) {
		verdict, err := m.ScreenInput(ctx, models.BookSpec{Topic: "The WEAPON collector"})
		require.NoError(t, err)
		assert.False(t, verdict.IsSafe)
	})

	t.Run("forbidden elements are screened too", func(t *testing.T) {
		verdict, err := m.ScreenInput(ctx, models.BookSpec{
			Topic:             "a quiet forest",
			ForbiddenElements: []string{"blood"},
		})
		require.NoError(t, err)
		assert.False(t, verdict.IsSafe)
		assert.Contains(t, verdict.Reasons[0], "forbidden_elements")
	})

	t.Run("model verdict decides clean input", func(t *testing.T) {
		flagging := &flaggingClient{
			Mock:    llm.NewMock(),
			verdict: models.ModerationResult{IsSafe: false, Reasons: []string{"subtle distress theme"}},
		}
		verdict, err := New(flagging).ScreenInput(ctx, models.BookSpec{Topic: "a quiet forest"})
		require.NoError(t, err)
		assert.False(t, verdict.IsSafe)
	})
}

func TestReviewDraft(t *testing.T) {
	ctx := context.Background()

	draft := func(texts ...string) models.StoryDraft {
		d := models.StoryDraft{Title: "The Meadow"}
		for i, text := range texts {
			d.Pages = append(d.Pages, models.DraftPage{Page: i + 1, Text: text})
		}
		return d
	}

	t.Run("clean draft passes", func(t *testing.T) {
		m := New(llm.NewMock())
		verdict, unsafePages, err := m.ReviewDraft(ctx, draft("A sunny day.", "A happy nap."))
		require.NoError(t, err)
		assert.True(t, verdict.IsSafe)
		assert.Empty(t, unsafePages)
	})

	t.Run("lexicon hit pinpoints the offending pages", func(t *testing.T) {
		m := New(llm.NewMock())
		verdict, unsafePages, err := m.ReviewDraft(ctx,
			draft("A sunny day.", "The pirate waved his weapon.", "Blood everywhere."))
		require.NoError(t, err)
		assert.False(t, verdict.IsSafe)
		assert.Equal(t, []int{2, 3}, unsafePages)
		assert.Len(t, verdict.Reasons, 2)
	})

	t.Run("model flag marks every page a rewrite candidate", func(t *testing.T) {
		flagging := &flaggingClient{
			Mock:    llm.NewMock(),
			verdict: models.ModerationResult{IsSafe: false, Reasons: []string{"frightening tone"}},
		}
		m := New(flagging)
		verdict, unsafePages, err := m.ReviewDraft(ctx, draft("A sunny day.", "A happy nap."))
		require.NoError(t, err)
		assert.False(t, verdict.IsSafe)
		assert.Equal(t, []int{1, 2}, unsafePages)
	})
}
