// Package api exposes the HTTP surface: book generation, job status,
// page regeneration, characters, credits, the library and health checks.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/storyloom/storyloom/pkg/admission"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/credits"
	"github.com/storyloom/storyloom/pkg/monitor"
	"github.com/storyloom/storyloom/pkg/queue"
	"github.com/storyloom/storyloom/pkg/store"
)

// Server wires the HTTP handlers to the service layer.
type Server struct {
	store     *store.Store
	ledger    *credits.Ledger
	admission *admission.Service
	pool      *queue.WorkerPool
	monitor   *monitor.Monitor
	cfg       *config.Config
	logger    *slog.Logger
}

// NewServer creates an API server.
func NewServer(st *store.Store, ledger *credits.Ledger, adm *admission.Service, pool *queue.WorkerPool, mon *monitor.Monitor, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		store:     st,
		ledger:    ledger,
		admission: adm,
		pool:      pool,
		monitor:   mon,
		cfg:       cfg,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.logger))

	router.GET("/health", s.Health)
	router.GET("/health/detailed", s.DetailedHealth)

	v1 := router.Group("/v1", RequireUserKey())
	{
		v1.POST("/books", s.CreateBook)
		v1.GET("/books/:job_id", s.GetJob)
		v1.POST("/books/:book_id/pages/:page/regenerate", s.RegeneratePage)
		v1.GET("/library", s.Library)

		v1.POST("/characters", s.CreateCharacter)
		v1.GET("/characters", s.ListCharacters)
		v1.GET("/characters/:character_id", s.GetCharacter)
		v1.DELETE("/characters/:character_id", s.DeleteCharacter)

		v1.GET("/credits", s.GetCredits)
		v1.GET("/credits/transactions", s.ListTransactions)
	}

	return router
}
