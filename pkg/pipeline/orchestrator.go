// Package pipeline implements the eight-stage book generation pipeline:
// validation, input safety, story drafting, character sheets, image
// prompts, illustration, output safety and packaging.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/storyloom/storyloom/pkg/clock"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/credits"
	"github.com/storyloom/storyloom/pkg/imagegen"
	"github.com/storyloom/storyloom/pkg/llm"
	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/moderation"
	"github.com/storyloom/storyloom/pkg/storage"
	"github.com/storyloom/storyloom/pkg/store"
)

// CostPerBook is the credit price of one generation or regeneration job.
const CostPerBook = 1

// rewriteCycles bounds how many times the output gate may rewrite unsafe
// pages before the job fails.
const rewriteCycles = 2

// Orchestrator runs jobs end to end and owns their terminal transitions:
// a job handed to Execute always ends done or failed, with the refund
// issued on failure.
type Orchestrator struct {
	store     *store.Store
	ledger    *credits.Ledger
	llm       llm.Client
	images    imagegen.Client
	moderator *moderation.Moderator
	storage   storage.Store
	cfg       *config.PipelineConfig
	clock     clock.Clock
	logger    *slog.Logger

	// imageSem is process-wide: it protects the image provider across all
	// concurrently running jobs, not just within one.
	imageSem *semaphore.Weighted
	sleep    func(time.Duration) <-chan time.Time
}

// New creates an Orchestrator.
func New(
	st *store.Store,
	ledger *credits.Ledger,
	llmClient llm.Client,
	imageClient imagegen.Client,
	moderator *moderation.Moderator,
	objects storage.Store,
	cfg *config.PipelineConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     st,
		ledger:    ledger,
		llm:       llmClient,
		images:    imageClient,
		moderator: moderator,
		storage:   objects,
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With("component", "pipeline"),
		imageSem:  semaphore.NewWeighted(int64(cfg.ImageMaxConcurrent)),
		sleep:     defaultSleep,
	}
}

// Execute runs one claimed job to a terminal state. The returned error is
// informational; the job row already reflects the outcome.
func (o *Orchestrator) Execute(ctx context.Context, job *models.Job) error {
	logger := o.logger.With(slog.String("job_id", job.ID), slog.String("user_key", job.UserKey))

	var err error
	if job.Spec.Regen != nil {
		err = o.regeneratePage(ctx, logger, job)
	} else {
		err = o.generateBook(ctx, logger, job)
	}
	if err != nil {
		perr := asPipelineError(err)
		o.failJob(ctx, logger, job, perr)
		return perr
	}
	return nil
}

func (o *Orchestrator) generateBook(ctx context.Context, logger *slog.Logger, job *models.Job) error {
	// Stage A: validation.
	job.Spec.Normalize()
	if err := job.Spec.Validate(); err != nil {
		return NewError(models.ErrCodeUnknown, "invalid specification: %v", err)
	}
	sheets, err := o.loadCharacterSheets(ctx, job)
	if err != nil {
		return err
	}
	o.progress(ctx, job, progressValidated, stepValidate)

	// Stage B: input safety gate.
	verdict, err := o.screenInput(ctx, job)
	if err != nil {
		return err
	}
	if !verdict.IsSafe {
		return NewError(models.ErrCodeSafetyInput, "request rejected: %s", joinReasons(verdict.Reasons))
	}
	o.progress(ctx, job, progressScreened, stepScreen)

	// Stage C: story draft, clamped to the age band's length rules.
	draft, err := o.draftStory(ctx, job, sheets)
	if err != nil {
		return err
	}
	draft, err = o.enforceLengthRules(ctx, job, draft)
	if err != nil {
		return err
	}
	if err := o.store.SaveDraft(ctx, job.ID, *draft); err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to persist draft: %v", err)
	}
	o.progress(ctx, job, progressDrafted, stepDraft)

	// Stage D: character sheets for roles without an existing character.
	sheets, err = o.completeCharacterSheets(ctx, job, *draft, sheets)
	if err != nil {
		return err
	}
	o.progress(ctx, job, progressCharacters, stepCharacters)

	// Stage E: image prompts.
	prompts, err := o.buildImagePrompts(ctx, job, *draft, sheets)
	if err != nil {
		return err
	}
	if err := o.store.SaveImagePrompts(ctx, job.ID, *prompts); err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to persist image prompts: %v", err)
	}
	o.progress(ctx, job, progressPrompts, stepPrompts)

	// Stage F: illustrations.
	urls, err := o.generateImages(ctx, job, *prompts)
	if err != nil {
		return err
	}

	// Stage G: output safety gate with bounded rewrites.
	draft, err = o.reviewOutput(ctx, job, draft)
	if err != nil {
		return err
	}
	o.progress(ctx, job, progressImagesEnd, stepReview)

	// Stage H: package and commit.
	if err := o.packageBook(ctx, job, *draft, urls); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Book generated",
		slog.String("title", draft.Title),
		slog.Int("pages", len(draft.Pages)))
	return nil
}

func (o *Orchestrator) loadCharacterSheets(ctx context.Context, job *models.Job) ([]models.CharacterSheet, error) {
	var sheets []models.CharacterSheet
	for _, id := range job.Spec.CharacterIDs {
		c, err := o.store.GetCharacter(ctx, job.UserKey, id)
		if err == store.ErrNotFound {
			return nil, NewError(models.ErrCodeUnknown, "character %s not found", id)
		}
		if err != nil {
			return nil, NewError(models.ErrCodeDBWriteFailed, "failed to load character %s: %v", id, err)
		}
		sheet, err := characterToSheet(*c)
		if err != nil {
			return nil, NewError(models.ErrCodeUnknown, "corrupt character %s: %v", id, err)
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

func (o *Orchestrator) screenInput(ctx context.Context, job *models.Job) (*models.ModerationResult, error) {
	var verdict *models.ModerationResult
	err := o.runStep(ctx, o.cfg.ModerationTimeout, classifyLLMError, moderationPolicy, func(ctx context.Context) error {
		var err error
		verdict, err = o.moderator.ScreenInput(ctx, job.Spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveModerationVerdict(ctx, job.ID, "input", *verdict); err != nil {
		return nil, NewError(models.ErrCodeDBWriteFailed, "failed to persist moderation verdict: %v", err)
	}
	return verdict, nil
}

func (o *Orchestrator) draftStory(ctx context.Context, job *models.Job, sheets []models.CharacterSheet) (*models.StoryDraft, error) {
	req := llm.StoryRequest{
		Spec:       job.Spec,
		Characters: sheets,
		Rule:       models.LengthRuleFor(job.Spec.TargetAge),
		Vocabulary: vocabularyFor(job.Spec.TargetAge),
	}

	var draft *models.StoryDraft
	err := o.runStep(ctx, o.cfg.LLMTimeout, classifyLLMError, storyPolicy, func(ctx context.Context) error {
		d, err := o.llm.GenerateStory(ctx, req)
		if err != nil {
			return err
		}
		if err := validateDraft(d, job.Spec.PageCount); err != nil {
			return err
		}
		draft = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

func (o *Orchestrator) completeCharacterSheets(ctx context.Context, job *models.Job, draft models.StoryDraft, existing []models.CharacterSheet) ([]models.CharacterSheet, error) {
	known := make(map[string]bool, len(existing))
	for _, s := range existing {
		known[s.Name] = true
	}

	sheets := existing
	for _, role := range draft.Characters {
		if known[role.Name] {
			continue
		}
		req := llm.CharacterRequest{Spec: job.Spec, Draft: draft, Role: role}
		var sheet *models.CharacterSheet
		err := o.runStep(ctx, o.cfg.CharacterTimeout, classifyLLMError, characterPolicy, func(ctx context.Context) error {
			s, err := o.llm.GenerateCharacterSheet(ctx, req)
			if err != nil {
				return err
			}
			if s.MasterDescription == "" {
				return NewRetryable(models.ErrCodeLLMJSONInvalid, "character sheet missing master description")
			}
			sheet = s
			return nil
		})
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, *sheet)
	}
	return sheets, nil
}

func (o *Orchestrator) buildImagePrompts(ctx context.Context, job *models.Job, draft models.StoryDraft, sheets []models.CharacterSheet) (*models.ImagePrompts, error) {
	req := llm.PromptsRequest{
		Spec:       job.Spec,
		Draft:      draft,
		Characters: sheets,
		StyleToken: job.Spec.Style.StyleToken(),
	}

	var prompts *models.ImagePrompts
	err := o.runStep(ctx, o.cfg.PromptTimeout, classifyLLMError, promptPolicy, func(ctx context.Context) error {
		p, err := o.llm.GenerateImagePrompts(ctx, req)
		if err != nil {
			return err
		}
		if len(p.Pages) != len(draft.Pages) {
			return NewRetryable(models.ErrCodeLLMJSONInvalid,
				"expected %d page prompts, got %d", len(draft.Pages), len(p.Pages))
		}
		enforcePromptContract(p, req.StyleToken, sheets)
		prompts = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prompts, nil
}

func (o *Orchestrator) reviewOutput(ctx context.Context, job *models.Job, draft *models.StoryDraft) (*models.StoryDraft, error) {
	for cycle := 0; ; cycle++ {
		var verdict *models.ModerationResult
		var unsafePages []int
		err := o.runStep(ctx, o.cfg.ModerationTimeout, classifyLLMError, moderationPolicy, func(ctx context.Context) error {
			var err error
			verdict, unsafePages, err = o.moderator.ReviewDraft(ctx, *draft)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := o.store.SaveModerationVerdict(ctx, job.ID, "output", *verdict); err != nil {
			return nil, NewError(models.ErrCodeDBWriteFailed, "failed to persist moderation verdict: %v", err)
		}
		if verdict.IsSafe {
			return draft, nil
		}
		if cycle >= rewriteCycles {
			return nil, NewError(models.ErrCodeSafetyOutput,
				"story still unsafe after %d rewrites: %s", rewriteCycles, joinReasons(verdict.Reasons))
		}

		for _, pageNum := range unsafePages {
			idx := pageNum - 1
			if idx < 0 || idx >= len(draft.Pages) {
				continue
			}
			req := llm.RewriteRequest{Spec: job.Spec, Page: draft.Pages[idx], Reasons: verdict.Reasons}
			err := o.runStep(ctx, o.cfg.LLMTimeout, classifyLLMError, storyPolicy, func(ctx context.Context) error {
				text, err := o.llm.RewritePage(ctx, req)
				if err != nil {
					return err
				}
				if text == "" {
					return NewRetryable(models.ErrCodeLLMJSONInvalid, "rewrite returned empty text")
				}
				draft.Pages[idx].Text = text
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		if err := o.store.SaveDraft(ctx, job.ID, *draft); err != nil {
			return nil, NewError(models.ErrCodeDBWriteFailed, "failed to persist rewritten draft: %v", err)
		}
	}
}

func (o *Orchestrator) packageBook(ctx context.Context, job *models.Job, draft models.StoryDraft, urls imageURLs) error {
	book := &models.Book{
		ID:            models.NewBookID(o.clock.Now()),
		JobID:         job.ID,
		UserKey:       job.UserKey,
		Title:         draft.Title,
		Language:      job.Spec.Language,
		TargetAge:     job.Spec.TargetAge,
		Style:         job.Spec.Style,
		Theme:         string(job.Spec.Theme),
		CoverImageURL: urls.cover,
	}
	if job.Spec.CharacterID != "" {
		id := job.Spec.CharacterID
		book.CharacterID = &id
	}

	pages := make([]models.Page, 0, len(draft.Pages))
	for _, p := range draft.Pages {
		pages = append(pages, models.Page{
			BookID:      book.ID,
			PageNumber:  p.Page,
			Text:        p.Text,
			ImageURL:    urls.pages[p.Page],
			ImagePrompt: p.Scene,
		})
	}

	commitCtx, cancel := context.WithTimeout(ctx, o.cfg.PackageTimeout)
	defer cancel()
	if err := o.store.CreateBook(commitCtx, book, pages); err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to commit book: %v", err)
	}
	if err := o.store.MarkJobDone(commitCtx, job.ID); err != nil {
		return NewError(models.ErrCodeDBWriteFailed, "failed to finish job: %v", err)
	}
	return nil
}

// failJob records the terminal failure and refunds the admission debit.
// The refund belongs to whichever writer actually flipped the job to
// failed; losing the compare-and-swap (the monitor got there first) means
// the winner already refunded. Terminal writes use a detached context so
// shutdown cannot strand the job mid-transition.
func (o *Orchestrator) failJob(ctx context.Context, logger *slog.Logger, job *models.Job, perr *Error) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	swapped, err := o.store.MarkJobFailed(detached, job.ID, perr.Code, perr.Message)
	if err != nil {
		logger.ErrorContext(detached, "Failed to mark job failed", slog.String("error", err.Error()))
		return
	}
	if swapped {
		if err := o.ledger.Refund(detached, job.UserKey, CostPerBook, job.ID, credits.RefundReasonJobFailed); err != nil {
			logger.ErrorContext(detached, "Failed to refund credits", slog.String("error", err.Error()))
		}
	}
	logger.WarnContext(detached, "Job failed",
		slog.String("error_code", string(perr.Code)),
		slog.String("error", perr.Message),
		slog.Bool("refunded", swapped))
}

func (o *Orchestrator) progress(ctx context.Context, job *models.Job, progress int, step string) {
	if err := o.store.UpdateJobProgress(ctx, job.ID, progress, step); err != nil {
		o.logger.WarnContext(ctx, "Failed to update progress",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

func validateDraft(d *models.StoryDraft, pageCount int) error {
	if d.Title == "" {
		return NewRetryable(models.ErrCodeLLMJSONInvalid, "draft missing title")
	}
	if len(d.Pages) != pageCount {
		return NewRetryable(models.ErrCodeLLMJSONInvalid,
			"expected %d pages, got %d", pageCount, len(d.Pages))
	}
	for _, p := range d.Pages {
		if p.Text == "" {
			return NewRetryable(models.ErrCodeLLMJSONInvalid, "page %d has no text", p.Page)
		}
	}
	return nil
}

// enforcePromptContract repairs image prompts the model got wrong: every
// positive prompt starts with the style token and embeds each character's
// master description verbatim, and every negative prompt carries the
// baseline exclusions (text, watermark, signature, the banned visual
// lexicon). The model is asked for all of this; repairing here keeps the
// book consistent when it forgets.
func enforcePromptContract(p *models.ImagePrompts, token string, sheets []models.CharacterSheet) {
	fix := func(prompt *models.ImagePrompt) {
		if !strings.HasPrefix(prompt.PositivePrompt, token) {
			prompt.PositivePrompt = token + ", " + prompt.PositivePrompt
		}
		for _, s := range sheets {
			if s.MasterDescription != "" && !strings.Contains(prompt.PositivePrompt, s.MasterDescription) {
				prompt.PositivePrompt += ", " + s.MasterDescription
			}
		}
		for _, term := range strings.Split(llm.NegativePromptClause, ", ") {
			if strings.Contains(prompt.NegativePrompt, term) {
				continue
			}
			if prompt.NegativePrompt == "" {
				prompt.NegativePrompt = term
			} else {
				prompt.NegativePrompt += ", " + term
			}
		}
	}
	fix(&p.Cover)
	for i := range p.Pages {
		fix(&p.Pages[i])
	}
}

func vocabularyFor(age models.TargetAge) string {
	switch age {
	case models.Age3to5:
		return "very simple everyday words, lots of repetition and sound words"
	case models.Age5to7:
		return "simple words with an occasional new word explained by context"
	case models.Age7to9:
		return "richer vocabulary, light humor, short dialogue"
	default:
		return "natural adult vocabulary"
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "no details provided"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

func characterToSheet(c models.Character) (models.CharacterSheet, error) {
	sheet := models.CharacterSheet{
		ID:                c.ID,
		Name:              c.Name,
		MasterDescription: c.MasterDescription,
		VisualStyleNotes:  c.VisualStyleNotes,
	}
	if len(c.Appearance) > 0 {
		if err := json.Unmarshal(c.Appearance, &sheet.Appearance); err != nil {
			return sheet, fmt.Errorf("bad appearance: %w", err)
		}
	}
	if len(c.Clothing) > 0 {
		if err := json.Unmarshal(c.Clothing, &sheet.Clothing); err != nil {
			return sheet, fmt.Errorf("bad clothing: %w", err)
		}
	}
	if len(c.PersonalityTraits) > 0 {
		if err := json.Unmarshal(c.PersonalityTraits, &sheet.PersonalityTraits); err != nil {
			return sheet, fmt.Errorf("bad personality traits: %w", err)
		}
	}
	return sheet, nil
}
