package pipeline

import (
	"context"
	"log/slog"

	"github.com/storyloom/storyloom/pkg/llm"
	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/store"
)

// regeneratePage rebuilds one page of a finished book: its text, its
// illustration, or both. The regenerated text passes the same output
// safety gate as a fresh story.
func (o *Orchestrator) regeneratePage(ctx context.Context, logger *slog.Logger, job *models.Job) error {
	regen := job.Spec.Regen

	book, err := o.store.GetBook(ctx, regen.BookID)
	if err == store.ErrNotFound {
		return NewError(models.ErrCodeUnknown, "book %s not found", regen.BookID)
	}
	if err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to load book: %v", err)
	}
	if book.UserKey != job.UserKey {
		return NewError(models.ErrCodeUnknown, "book %s not found", regen.BookID)
	}

	var page *models.Page
	for i := range book.Pages {
		if book.Pages[i].PageNumber == regen.Page {
			page = &book.Pages[i]
			break
		}
	}
	if page == nil {
		return NewError(models.ErrCodeUnknown, "book %s has no page %d", regen.BookID, regen.Page)
	}
	o.progress(ctx, job, progressScreened, stepValidate)

	if regen.Target == models.RegenText || regen.Target == models.RegenBoth {
		if err := o.regenerateText(ctx, job, page); err != nil {
			return err
		}
	}
	o.progress(ctx, job, progressPrompts, stepDraft)

	if regen.Target == models.RegenImage || regen.Target == models.RegenBoth {
		if err := o.regenerateImage(ctx, job, book.JobID, page); err != nil {
			return err
		}
	}
	o.progress(ctx, job, progressImagesEnd, stepImages)

	if err := o.store.UpdatePage(ctx, *page); err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to save regenerated page: %v", err)
	}
	if err := o.store.MarkJobDone(ctx, job.ID); err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to finish job: %v", err)
	}

	logger.InfoContext(ctx, "Page regenerated",
		slog.String("book_id", regen.BookID),
		slog.Int("page", regen.Page),
		slog.String("target", string(regen.Target)))
	return nil
}

func (o *Orchestrator) regenerateText(ctx context.Context, job *models.Job, page *models.Page) error {
	req := llm.RewriteRequest{
		Spec:    job.Spec,
		Page:    models.DraftPage{Page: page.PageNumber, Text: page.Text, Scene: page.ImagePrompt},
		Reasons: []string{"reader asked for a fresh take on this page"},
	}

	// Regenerated text obeys the same age-band length limits as a fresh
	// draft; an overlong rewrite is retried like malformed output.
	rule := models.LengthRuleFor(job.Spec.TargetAge)
	var text string
	err := o.runStep(ctx, o.cfg.LLMTimeout, classifyLLMError, storyPolicy, func(ctx context.Context) error {
		t, err := o.llm.RewritePage(ctx, req)
		if err != nil {
			return err
		}
		if t == "" {
			return NewRetryable(models.ErrCodeLLMJSONInvalid, "rewrite returned empty text")
		}
		if violatesLengthRule(t, rule) {
			return NewRetryable(models.ErrCodeLLMJSONInvalid,
				"rewrite exceeds the %s length limits", job.Spec.TargetAge)
		}
		text = t
		return nil
	})
	if err != nil {
		return err
	}

	// Regenerated text goes through the output gate like any other.
	draft := models.StoryDraft{Pages: []models.DraftPage{{Page: page.PageNumber, Text: text}}}
	var verdict *models.ModerationResult
	err = o.runStep(ctx, o.cfg.ModerationTimeout, classifyLLMError, moderationPolicy, func(ctx context.Context) error {
		var err error
		verdict, _, err = o.moderator.ReviewDraft(ctx, draft)
		return err
	})
	if err != nil {
		return err
	}
	if !verdict.IsSafe {
		return NewError(models.ErrCodeSafetyOutput, "regenerated text rejected: %s", joinReasons(verdict.Reasons))
	}

	page.Text = text
	return nil
}

func (o *Orchestrator) regenerateImage(ctx context.Context, job *models.Job, originalJobID string, page *models.Page) error {
	prompts, err := o.store.GetImagePrompts(ctx, originalJobID)
	if err == store.ErrNotFound {
		return NewError(models.ErrCodeUnknown, "no stored prompts for book job %s", originalJobID)
	}
	if err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to load image prompts: %v", err)
	}

	var prompt *models.ImagePrompt
	for i := range prompts.Pages {
		if prompts.Pages[i].Page == page.PageNumber {
			prompt = &prompts.Pages[i]
			break
		}
	}
	if prompt == nil {
		return NewError(models.ErrCodeUnknown, "no stored prompt for page %d", page.PageNumber)
	}

	// Nudge the seed so the reader actually gets a different image.
	regenPrompt := *prompt
	regenPrompt.Seed++

	if err := o.imageSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.imageSem.Release(1)

	url, err := o.generateOneImage(ctx, job, regenPrompt, o.cappedImagePolicy())
	if err != nil {
		return err
	}
	page.ImageURL = url
	return nil
}
