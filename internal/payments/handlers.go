package payments

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blastwheelz/backend/internal/account"
	"github.com/blastwheelz/backend/internal/auth"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/validation"
	"github.com/blastwheelz/backend/internal/wheelz"
)

// Handler provides HTTP endpoints for currency top-ups and withdrawals.
// All routes act on the authenticated account.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new payments handler
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	p := r.Group("/payments", auth.RequireAuth())
	p.POST("/topup", h.TopUp)
	p.POST("/topup/quote", h.TopUpQuote)
	p.POST("/topup/confirm", h.TopUp) // auto flow step 2: same verify+credit
	p.POST("/withdraw", h.Withdraw)
	p.POST("/withdraw/request", h.RequestWithdrawal)
}

// TopUpRequest carries a claimed on-chain payment.
type TopUpRequest struct {
	Amount string `json:"amount" binding:"required"`
	Digest string `json:"digest" binding:"required"`
}

// TopUp handles POST /payments/topup and /payments/topup/confirm
func (h *Handler) TopUp(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}

	amount, err := wheelz.ParsePositive(req.Amount)
	if err != nil {
		badRequest(c, "invalid_amount", "Amount must be a positive decimal with at most 6 decimal places")
		return
	}
	if !validation.IsValidDigest(req.Digest) {
		badRequest(c, "invalid_digest", "Digest must be a base58 transaction digest")
		return
	}

	res, err := h.svc.TopUp(c.Request.Context(), auth.AuthenticatedAccount(c), amount, req.Digest)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "credited",
		"newBalance":  res.NewBalance,
		"transaction": res.Record,
	})
}

// QuoteRequest asks for payment instructions.
type QuoteRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// TopUpQuote handles POST /payments/topup/quote
func (h *Handler) TopUpQuote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}

	amount, err := wheelz.ParsePositive(req.Amount)
	if err != nil {
		badRequest(c, "invalid_amount", "Amount must be a positive decimal with at most 6 decimal places")
		return
	}

	quote, err := h.svc.TopUpQuote(c.Request.Context(), auth.AuthenticatedAccount(c), amount)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quote": quote})
}

// WithdrawRequest asks for a payout of wheelz as tokens.
type WithdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Withdraw handles POST /payments/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}

	amount, err := wheelz.ParsePositive(req.Amount)
	if err != nil {
		badRequest(c, "invalid_amount", "Amount must be a positive decimal with at most 6 decimal places")
		return
	}

	res, err := h.svc.Withdraw(c.Request.Context(), auth.AuthenticatedAccount(c), amount)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "completed",
		"digest":     res.Digest,
		"newBalance": res.NewBalance,
		"recordId":   res.RecordID,
	})
}

// RequestWithdrawal handles POST /payments/withdraw/request
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}

	amount, err := wheelz.ParsePositive(req.Amount)
	if err != nil {
		badRequest(c, "invalid_amount", "Amount must be a positive decimal with at most 6 decimal places")
		return
	}

	res, err := h.svc.RequestWithdrawal(c.Request.Context(), auth.AuthenticatedAccount(c), amount)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "pending",
		"newBalance": res.NewBalance,
		"recordId":   res.Record.ID,
		"note":       "Withdrawal requests are reviewed within 24 hours",
	})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wheelz.ErrNotPositive), errors.Is(err, wheelz.ErrInvalidAmount):
		badRequest(c, "invalid_amount", "Amount must be a positive decimal with at most 6 decimal places")
	case errors.Is(err, ErrBelowMinimum):
		badRequest(c, "below_minimum", "Amount is below the minimum top-up")
	case errors.Is(err, ErrExceedsLimit):
		badRequest(c, "exceeds_limit", "Amount exceeds the withdrawal limit")
	case errors.Is(err, ErrNoWalletLinked):
		badRequest(c, "no_wallet", "Link a wallet address before using on-chain flows")
	case errors.Is(err, ErrPaymentNotVerified):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "payment_not_verified",
			"message": "Payment could not be verified on chain",
		})
	case errors.Is(err, ledger.ErrDuplicateReference):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_digest",
			"message": "This transaction digest was already processed",
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		badRequest(c, "insufficient_balance", "Insufficient wheelz balance")
	case errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "account_not_found",
			"message": "No such account",
		})
	case errors.Is(err, ErrTransferFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "transfer_failed",
			"message": "Treasury transfer failed, your balance was not charged",
		})
	default:
		h.logger.Error("payment operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_error",
			"message": "Payment operation failed",
		})
	}
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": msg})
}
