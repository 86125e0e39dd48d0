package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blastwheelz/backend/internal/pagination"
)

// Handler provides HTTP endpoints for balance and history reads.
// Mutations happen through the payments, market, and admin packages.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up ledger routes. The group is expected to carry
// an ownership middleware for the :id param.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/balance", h.GetBalance)
	r.GET("/accounts/:id/transactions", h.GetHistory)
}

// GetBalance handles GET /accounts/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	accountID := c.Param("id")

	balance, err := h.ledger.Balance(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("balance lookup failed", "account", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accountId": accountID,
		"balance":   balance,
	})
}

// GetHistory handles GET /accounts/:id/transactions
func (h *Handler) GetHistory(c *gin.Context) {
	accountID := c.Param("id")

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	records, next, more, err := h.ledger.HistoryPage(c.Request.Context(), accountID, limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Cursor is malformed. Use the nextCursor value from a previous page.",
			})
			return
		}
		h.logger.Error("history lookup failed", "account", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_error",
			"message": "Failed to retrieve transaction history",
		})
		return
	}
	if records == nil {
		records = []*Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": records,
		"count":        len(records),
		"nextCursor":   next,
		"hasMore":      more,
	})
}
