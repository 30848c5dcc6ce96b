package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom/pkg/models"
)

const bookColumns = `id, job_id, user_key, title, language, target_age,
	style, theme, character_id, cover_image_url, created_at`

// CreateBook persists a finished book with all its pages in one
// transaction. Either the whole book lands or none of it does.
func (s *Store) CreateBook(ctx context.Context, book *models.Book, pages []models.Page) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin book transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (id, job_id, user_key, title, language, target_age,
		                   style, theme, character_id, cover_image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		book.ID, book.JobID, book.UserKey, book.Title, book.Language,
		book.TargetAge, book.Style, book.Theme, book.CharacterID, book.CoverImageURL)
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}

	for _, p := range pages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pages (book_id, page_number, text, image_url, image_prompt)
			VALUES ($1, $2, $3, $4, $5)`,
			book.ID, p.PageNumber, p.Text, p.ImageURL, p.ImagePrompt)
		if err != nil {
			return fmt.Errorf("failed to insert page %d: %w", p.PageNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit book: %w", err)
	}
	return nil
}

// GetBookByJobID returns the book a job produced, with pages in order.
func (s *Store) GetBookByJobID(ctx context.Context, jobID string) (*models.BookResult, error) {
	var book models.Book
	err := s.db.GetContext(ctx, &book,
		`SELECT `+bookColumns+` FROM books WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book for job %s: %w", jobID, err)
	}
	return s.withPages(ctx, &book)
}

// GetBook returns a book by its own id, with pages in order.
func (s *Store) GetBook(ctx context.Context, id string) (*models.BookResult, error) {
	var book models.Book
	err := s.db.GetContext(ctx, &book,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book %s: %w", id, err)
	}
	return s.withPages(ctx, &book)
}

// ListBooks returns a user's finished books, newest first, without pages.
func (s *Store) ListBooks(ctx context.Context, userKey string) ([]models.Book, error) {
	var books []models.Book
	err := s.db.SelectContext(ctx, &books,
		`SELECT `+bookColumns+` FROM books WHERE user_key = $1 ORDER BY created_at DESC`,
		userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// UpdatePage overwrites a page's text and/or image after regeneration.
func (s *Store) UpdatePage(ctx context.Context, page models.Page) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET text = $1, image_url = $2, image_prompt = $3
		WHERE book_id = $4 AND page_number = $5`,
		page.Text, page.ImageURL, page.ImagePrompt, page.BookID, page.PageNumber)
	if err != nil {
		return fmt.Errorf("failed to update page %d of book %s: %w", page.PageNumber, page.BookID, err)
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

func (s *Store) withPages(ctx context.Context, book *models.Book) (*models.BookResult, error) {
	var pages []models.Page
	err := s.db.SelectContext(ctx, &pages, `
		SELECT book_id, page_number, text, image_url, image_prompt
		FROM pages WHERE book_id = $1 ORDER BY page_number ASC`,
		book.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pages for book %s: %w", book.ID, err)
	}
	return &models.BookResult{Book: *book, Pages: pages}, nil
}
