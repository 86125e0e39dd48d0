package account

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/auth"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/validation"
)

// validHandle limits handles to 3-32 word characters and hyphens.
var validHandle = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// Handler provides HTTP endpoints for account management
type Handler struct {
	store        Store
	keys         *auth.Manager
	ledger       *ledger.Ledger
	welcomeBonus decimal.Decimal
	logger       *slog.Logger
}

// NewHandler creates a new account handler. A positive welcomeBonus is
// credited once on registration.
func NewHandler(store Store, keys *auth.Manager, lgr *ledger.Ledger, welcomeBonus decimal.Decimal, logger *slog.Logger) *Handler {
	return &Handler{
		store:        store,
		keys:         keys,
		ledger:       lgr,
		welcomeBonus: welcomeBonus,
		logger:       logger,
	}
}

// RegisterRoutes sets up account routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.Register)

	owned := r.Group("", auth.RequireOwnership("id"))
	owned.GET("/accounts/:id", h.Get)
	owned.POST("/accounts/:id/wallet", h.LinkWallet)
	owned.GET("/accounts/:id/keys", h.ListKeys)
	owned.POST("/accounts/:id/keys", h.CreateKey)
	owned.DELETE("/accounts/:id/keys/:keyId", h.RevokeKey)
}

// IsPrivileged satisfies auth.PrivilegeChecker.
func (h *Handler) IsPrivileged(ctx context.Context, accountID string) (bool, error) {
	a, err := h.store.Get(ctx, accountID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.Role == RolePrivileged, nil
}

// RegisterRequest is the payload for account registration
type RegisterRequest struct {
	Handle        string `json:"handle" binding:"required"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// Register handles POST /accounts
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validHandle.MatchString(req.Handle) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_handle",
			"message": "Handle must be 3-32 characters (letters, digits, _ or -)",
		})
		return
	}
	if req.WalletAddress != "" && !validation.IsValidAddress(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "walletAddress must be 0x followed by 64 hex characters",
		})
		return
	}

	now := time.Now().UTC()
	a := &Account{
		ID:            NewID(),
		Handle:        req.Handle,
		WalletAddress: validation.SanitizeAddress(req.WalletAddress),
		Role:          RoleStandard,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.Create(c.Request.Context(), a); err != nil {
		switch err {
		case ErrHandleTaken:
			c.JSON(http.StatusConflict, gin.H{
				"error":   "handle_taken",
				"message": "Handle is already registered",
			})
		case ErrWalletLinked:
			c.JSON(http.StatusConflict, gin.H{
				"error":   "wallet_linked",
				"message": "Wallet address is already linked to another account",
			})
		default:
			h.logger.Error("account create failed", "handle", req.Handle, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "registration_error",
				"message": "Failed to create account",
			})
		}
		return
	}

	rawKey, _, err := h.keys.GenerateKey(c.Request.Context(), a.ID, "default")
	if err != nil {
		h.logger.Error("api key issue failed", "account", a.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registration_error",
			"message": "Failed to issue API key",
		})
		return
	}

	balance := decimal.Zero
	if h.welcomeBonus.IsPositive() {
		res, err := h.ledger.Credit(c.Request.Context(), ledger.Entry{
			AccountID: a.ID,
			Amount:    h.welcomeBonus,
			Kind:      ledger.KindDeposit,
			Cause:     "welcome_bonus",
		})
		if err != nil {
			// The account exists; a missing bonus is recoverable by admin
			// adjustment, failing registration here is not.
			h.logger.Error("welcome bonus credit failed", "account", a.ID, "error", err)
		} else {
			balance = res.NewBalance
		}
	}

	h.logger.Info("account registered", "account", a.ID, "handle", a.Handle)

	c.JSON(http.StatusCreated, gin.H{
		"account": a,
		"apiKey":  rawKey,
		"balance": balance,
		"note":    "Store the API key now, it is not shown again",
	})
}

// Get handles GET /accounts/:id
func (h *Handler) Get(c *gin.Context) {
	a, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err == ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "account_not_found",
			"message": "No such account",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "account_error",
			"message": "Failed to load account",
		})
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), a.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": a,
		"balance": balance,
	})
}

// LinkWalletRequest is the payload for linking a chain wallet
type LinkWalletRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
}

// LinkWallet handles POST /accounts/:id/wallet
func (h *Handler) LinkWallet(c *gin.Context) {
	var req LinkWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidAddress(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "walletAddress must be 0x followed by 64 hex characters",
		})
		return
	}

	a, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err == ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "account_not_found",
			"message": "No such account",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "account_error",
			"message": "Failed to load account",
		})
		return
	}

	a.WalletAddress = validation.SanitizeAddress(req.WalletAddress)
	a.UpdatedAt = time.Now().UTC()
	if err := h.store.Update(c.Request.Context(), a); err != nil {
		if err == ErrWalletLinked {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "wallet_linked",
				"message": "Wallet address is already linked to another account",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "account_error",
			"message": "Failed to link wallet",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": a})
}

// ListKeys handles GET /accounts/:id/keys
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.keys.ListKeys(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_error",
			"message": "Failed to list API keys",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// CreateKeyRequest names a new API key
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey handles POST /accounts/:id/keys
func (h *Handler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "unnamed"
	}

	rawKey, key, err := h.keys.GenerateKey(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.Name, 64))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_error",
			"message": "Failed to issue API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey": rawKey,
		"key":    key,
		"note":   "Store the API key now, it is not shown again",
	})
}

// RevokeKey handles DELETE /accounts/:id/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	err := h.keys.RevokeKey(c.Request.Context(), c.Param("keyId"), c.Param("id"))
	if err == auth.ErrKeyNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "No such API key on this account",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_error",
			"message": "Failed to revoke API key",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
