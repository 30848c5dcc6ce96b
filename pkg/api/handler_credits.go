package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetCredits handles GET /v1/credits: the user's current balance.
func (s *Server) GetCredits(c *gin.Context) {
	account, err := s.ledger.GetOrCreateAccount(c.Request.Context(), userKey(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":    account.Balance,
		"total_used": account.TotalUsed,
	})
}

// ListTransactions handles GET /v1/credits/transactions.
func (s *Server) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	transactions, err := s.ledger.Transactions(c.Request.Context(), userKey(c), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}
