package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom/pkg/models"
)

const characterColumns = `id, user_key, name, master_description, appearance,
	clothing, personality_traits, visual_style_notes, created_at`

// CreateCharacter persists a new character sheet.
func (s *Store) CreateCharacter(ctx context.Context, c *models.Character) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO characters (id, user_key, name, master_description,
		                        appearance, clothing, personality_traits, visual_style_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserKey, c.Name, c.MasterDescription,
		c.Appearance, c.Clothing, c.PersonalityTraits, c.VisualStyleNotes)
	if err != nil {
		return fmt.Errorf("failed to insert character: %w", err)
	}
	return nil
}

// GetCharacter fetches a character owned by the given user. Ownership is
// enforced here so handlers cannot leak another user's characters.
func (s *Store) GetCharacter(ctx context.Context, userKey, id string) (*models.Character, error) {
	var c models.Character
	err := s.db.GetContext(ctx, &c,
		`SELECT `+characterColumns+` FROM characters WHERE id = $1 AND user_key = $2`,
		id, userKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character %s: %w", id, err)
	}
	return &c, nil
}

// ListCharacters returns a user's characters, newest first.
func (s *Store) ListCharacters(ctx context.Context, userKey string) ([]models.Character, error) {
	var out []models.Character
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+characterColumns+` FROM characters WHERE user_key = $1 ORDER BY created_at DESC`,
		userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return out, nil
}

// DeleteCharacter removes a character the user owns.
func (s *Store) DeleteCharacter(ctx context.Context, userKey, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM characters WHERE id = $1 AND user_key = $2`, id, userKey)
	if err != nil {
		return fmt.Errorf("failed to delete character %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
