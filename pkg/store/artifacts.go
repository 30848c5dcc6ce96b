package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom/pkg/models"
)

// SaveDraft persists the story draft for a job. Upsert so a requeued job
// can overwrite a partial earlier attempt.
func (s *Store) SaveDraft(ctx context.Context, jobID string, draft models.StoryDraft) error {
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO story_drafts (job_id, draft) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET draft = EXCLUDED.draft`,
		jobID, payload)
	if err != nil {
		return fmt.Errorf("failed to save draft for job %s: %w", jobID, err)
	}
	return nil
}

// GetDraft loads the story draft for a job.
func (s *Store) GetDraft(ctx context.Context, jobID string) (*models.StoryDraft, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT draft FROM story_drafts WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft for job %s: %w", jobID, err)
	}
	var draft models.StoryDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft for job %s: %w", jobID, err)
	}
	return &draft, nil
}

// SaveImagePrompts persists the image prompt set for a job.
func (s *Store) SaveImagePrompts(ctx context.Context, jobID string, prompts models.ImagePrompts) error {
	payload, err := json.Marshal(prompts)
	if err != nil {
		return fmt.Errorf("failed to marshal image prompts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO image_prompts (job_id, prompts) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET prompts = EXCLUDED.prompts`,
		jobID, payload)
	if err != nil {
		return fmt.Errorf("failed to save image prompts for job %s: %w", jobID, err)
	}
	return nil
}

// GetImagePrompts loads the image prompt set for a job.
func (s *Store) GetImagePrompts(ctx context.Context, jobID string) (*models.ImagePrompts, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT prompts FROM image_prompts WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image prompts for job %s: %w", jobID, err)
	}
	var prompts models.ImagePrompts
	if err := json.Unmarshal(payload, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image prompts for job %s: %w", jobID, err)
	}
	return &prompts, nil
}
