package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blastwheelz/backend/internal/account"
	"github.com/blastwheelz/backend/internal/auth"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/validation"
	"github.com/blastwheelz/backend/internal/wheelz"
)

// Handler provides the admin HTTP endpoints. The route group must
// carry the privileged middleware; handlers only read the actor.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new admin handler
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up admin routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/accounts/:id/balance", h.AdjustBalance)
	r.GET("/admin/withdrawals", h.ListWithdrawals)
	r.POST("/admin/withdrawals/:id/approve", h.ApproveWithdrawal)
	r.POST("/admin/withdrawals/:id/reject", h.RejectWithdrawal)
}

// AdjustRequest changes an account balance.
type AdjustRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Operation string `json:"operation" binding:"required"` // set|increment|decrement
}

// AdjustBalance handles POST /admin/accounts/:id/balance
func (h *Handler) AdjustBalance(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	amount, err := wheelz.Parse(req.Amount)
	if err != nil || amount.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a non-negative decimal with at most 6 decimal places",
		})
		return
	}
	op := Operation(req.Operation)
	if op != OpSet && !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Increment and decrement need a positive amount",
		})
		return
	}

	res, err := h.svc.AdjustBalance(c.Request.Context(), c.Param("id"), amount, op, auth.Actor(c))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"newBalance":  res.NewBalance,
		"transaction": res.Record,
	})
}

// ListWithdrawals handles GET /admin/withdrawals?status=pending
func (h *Handler) ListWithdrawals(c *gin.Context) {
	if status := c.Query("status"); status != "" && status != string(ledger.StatusPending) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "Only pending withdrawals can be listed",
		})
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.svc.PendingWithdrawals(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("pending withdrawal list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to list withdrawals",
		})
		return
	}
	if records == nil {
		records = []*ledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": records, "count": len(records)})
}

// ApproveWithdrawal handles POST /admin/withdrawals/:id/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	rec, err := h.svc.ApproveWithdrawal(c.Request.Context(), c.Param("id"), auth.Actor(c))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "approved",
		"digest":      rec.Digest,
		"transaction": rec,
	})
}

// RejectRequest carries the rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectWithdrawal handles POST /admin/withdrawals/:id/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A rejection reason is required",
		})
		return
	}

	rec, err := h.svc.RejectWithdrawal(c.Request.Context(),
		c.Param("id"), validation.SanitizeString(req.Reason, 200), auth.Actor(c))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "rejected",
		"transaction": rec,
	})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownOperation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_operation",
			"message": "Operation must be one of set, increment, decrement",
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a non-negative decimal",
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "insufficient_balance",
			"message": "Decrement would take the balance negative",
		})
	case errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "account_not_found",
			"message": "No such account",
		})
	case errors.Is(err, ledger.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "record_not_found",
			"message": "No such transaction record",
		})
	case errors.Is(err, ErrNotWithdrawal):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "not_a_withdrawal",
			"message": "Record is not a withdrawal request",
		})
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_processed",
			"message": "Withdrawal was already approved or rejected",
		})
	case errors.Is(err, ErrNoDestination):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_destination",
			"message": "No payout wallet on the record or account",
		})
	case errors.Is(err, ErrTransferFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "transfer_failed",
			"message": "Treasury transfer failed, request is still pending",
		})
	default:
		h.logger.Error("admin operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "admin_error",
			"message": "Admin operation failed",
		})
	}
}
