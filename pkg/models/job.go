// Package models contains the domain types shared across the pipeline,
// stores and API: jobs, book specifications, intermediate artifacts and
// terminal book records.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Job is the unit of work created by one admission request. It owns the
// pipeline's durable state; only the orchestrator and the monitor mutate it
// after creation, and jobs are never deleted.
type Job struct {
	ID               string     `db:"id" json:"job_id"`
	UserKey          string     `db:"user_key" json:"user_key"`
	IdempotencyKey   *string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Spec             BookSpec   `db:"-" json:"spec"`
	SpecJSON         []byte     `db:"spec" json:"-"`
	Status           JobStatus  `db:"status" json:"status"`
	Progress         int        `db:"progress" json:"progress"`
	CurrentStep      string     `db:"current_step" json:"current_step"`
	ModerationInput  []byte     `db:"moderation_input" json:"-"`
	ModerationOutput []byte     `db:"moderation_output" json:"-"`
	ErrorCode        *string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage     *string    `db:"error_message" json:"error_message,omitempty"`
	RetryCount       int        `db:"retry_count" json:"retry_count"`
	LastRetryAt      *time.Time `db:"last_retry_at" json:"last_retry_at,omitempty"`
	PodID            *string    `db:"pod_id" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ModerationResult is the safety verdict for input or output content.
type ModerationResult struct {
	IsSafe      bool     `json:"is_safe"`
	Reasons     []string `json:"reasons,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// NewJobID generates a job identifier in the canonical
// job_<yyyymmdd_hhmmss>_<8 hex> format, always ≤60 chars.
func NewJobID(now time.Time) string {
	return newPrefixedID("job", now)
}

// NewBookID generates a book identifier.
func NewBookID(now time.Time) string {
	return newPrefixedID("book", now)
}

// NewCharacterID generates a character identifier.
func NewCharacterID(now time.Time) string {
	return newPrefixedID("char", now)
}

// NewRegenJobID generates an identifier for a page-regeneration job.
func NewRegenJobID(now time.Time) string {
	return newPrefixedID("regen", now)
}

func newPrefixedID(prefix string, now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%s_%s", prefix, now.UTC().Format("20060102_150405"), hex.EncodeToString(b[:]))
}
