package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/store"
)

// CreateBookRequest is the body of POST /v1/books.
type CreateBookRequest struct {
	Topic             string   `json:"topic" binding:"required"`
	Language          string   `json:"language"`
	TargetAge         string   `json:"target_age" binding:"required"`
	Style             string   `json:"style" binding:"required"`
	Theme             string   `json:"theme"`
	PageCount         int      `json:"page_count"`
	CharacterID       string   `json:"character_id"`
	CharacterIDs      []string `json:"character_ids"`
	ForbiddenElements []string `json:"forbidden_elements"`
}

// JobResponse is the job status payload. Result is set once the job is
// done.
type JobResponse struct {
	JobID       string             `json:"job_id"`
	Status      models.JobStatus   `json:"status"`
	Progress    int                `json:"progress"`
	CurrentStep string             `json:"current_step,omitempty"`
	ErrorCode   *string            `json:"error_code,omitempty"`
	ErrorMsg    *string            `json:"error_message,omitempty"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
	Result      *models.BookResult `json:"result,omitempty"`
}

// CreateBook handles POST /v1/books: the admission chain plus enqueue.
// Safe retries go through the Idempotency-Key header.
func (s *Server) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	spec := models.BookSpec{
		Topic:             req.Topic,
		Language:          models.Language(req.Language),
		TargetAge:         models.TargetAge(req.TargetAge),
		Style:             models.Style(req.Style),
		Theme:             models.Theme(req.Theme),
		PageCount:         req.PageCount,
		CharacterID:       req.CharacterID,
		CharacterIDs:      req.CharacterIDs,
		ForbiddenElements: req.ForbiddenElements,
	}

	var idempotencyKey *string
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		idempotencyKey = &key
	}

	job, replayed, err := s.admission.Submit(c.Request.Context(), userKey(c), idempotencyKey, spec)
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if replayed {
		status = http.StatusOK
	}
	c.JSON(status, s.jobResponse(c, job))
}

// GetJob handles GET /v1/books/:job_id.
func (s *Server) GetJob(c *gin.Context) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if job.UserKey != userKey(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	c.JSON(http.StatusOK, s.jobResponse(c, job))
}

// RegenerateRequest is the body of the page regeneration endpoint.
type RegenerateRequest struct {
	Target string `json:"target" binding:"required"`
}

// RegeneratePage handles POST /v1/books/:book_id/pages/:page/regenerate.
// It queues a regeneration job through the same admission chain as a new
// book, so regeneration shares the rate limits and the credit price.
func (s *Server) RegeneratePage(c *gin.Context) {
	var req RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target := models.RegenTarget(req.Target)
	if !target.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target must be text, image or both"})
		return
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}

	ctx := c.Request.Context()
	book, err := s.store.GetBook(ctx, c.Param("book_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if book.UserKey != userKey(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	// The regen job inherits the original spec so language, style and age
	// rules carry over.
	original, err := s.store.GetJob(ctx, book.JobID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	spec := original.Spec
	spec.Regen = &models.RegenSpec{BookID: book.ID, Page: page, Target: target}

	job, _, err := s.admission.Submit(ctx, userKey(c), nil, spec)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.jobResponse(c, job))
}

// Library handles GET /v1/library: the user's finished books.
func (s *Server) Library(c *gin.Context) {
	books, err := s.store.ListBooks(c.Request.Context(), userKey(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if books == nil {
		books = []models.Book{}
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (s *Server) jobResponse(c *gin.Context, job *models.Job) JobResponse {
	resp := JobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		ErrorCode:   job.ErrorCode,
		ErrorMsg:    job.ErrorMessage,
		CreatedAt:   job.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:   job.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if job.Status == models.JobStatusDone && job.Spec.Regen == nil {
		result, err := s.store.GetBookByJobID(c.Request.Context(), job.ID)
		if err == nil {
			resp.Result = result
		} else if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Failed to load book for done job", "job_id", job.ID, "error", err)
		}
	}
	return resp
}
