package market

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blastwheelz/backend/internal/account"
	"github.com/blastwheelz/backend/internal/auth"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/payments"
	"github.com/blastwheelz/backend/internal/security"
	"github.com/blastwheelz/backend/internal/validation"
	"github.com/blastwheelz/backend/internal/wheelz"
)

// Handler provides HTTP endpoints for the marketplace
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new market handler
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up public and account-scoped market routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/market/items", h.ListItems)
	r.GET("/market/items/:id", h.GetItem)
	r.POST("/market/items/:id/purchase", auth.RequireAuth(), h.Purchase)
	r.GET("/market/purchases", auth.RequireAuth(), h.ListPurchases)
}

// RegisterAdminRoutes sets up privileged catalog management routes.
// The group must already carry the privileged middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/items", h.AdminListItems)
	r.POST("/admin/items", h.CreateItem)
	r.PATCH("/admin/items/:id", h.UpdateItem)
}

// ListItems handles GET /market/items
func (h *Handler) ListItems(c *gin.Context) {
	items, err := h.svc.Catalog(c.Request.Context(), false)
	if err != nil {
		h.logger.Error("catalog list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "catalog_error",
			"message": "Failed to list items",
		})
		return
	}
	if items == nil {
		items = []*Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GetItem handles GET /market/items/:id
func (h *Handler) GetItem(c *gin.Context) {
	item, err := h.svc.Item(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

// PurchaseRequest buys units of an item.
type PurchaseRequest struct {
	Quantity      int    `json:"quantity"`
	PaymentDigest string `json:"paymentDigest,omitempty"`
}

// Purchase handles POST /market/items/:id/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.PaymentDigest != "" && !validation.IsValidDigest(req.PaymentDigest) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_digest",
			"message": "paymentDigest must be a base58 transaction digest",
		})
		return
	}

	res, err := h.svc.Purchase(c.Request.Context(),
		auth.AuthenticatedAccount(c), c.Param("id"), req.Quantity, req.PaymentDigest)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":     "purchased",
		"purchase":   res.Purchase,
		"newBalance": res.NewBalance,
		"mintQueued": res.MintQueued,
	})
}

// ListPurchases handles GET /market/purchases
func (h *Handler) ListPurchases(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	purchases, err := h.svc.Purchases(c.Request.Context(), auth.AuthenticatedAccount(c), limit)
	if err != nil {
		h.logger.Error("purchase list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "purchase_error",
			"message": "Failed to list purchases",
		})
		return
	}
	if purchases == nil {
		purchases = []*Purchase{}
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases, "count": len(purchases)})
}

// ItemRequest creates or updates a listing.
type ItemRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type" binding:"required"`
	Price       string `json:"price" binding:"required"`
	Stock       *int   `json:"stock"`
	Status      string `json:"status"`
	ImageURL    string `json:"imageUrl"`
	CarType     string `json:"carType"`
}

// AdminListItems handles GET /admin/items (includes inactive listings)
func (h *Handler) AdminListItems(c *gin.Context) {
	items, err := h.svc.Catalog(c.Request.Context(), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "catalog_error",
			"message": "Failed to list items",
		})
		return
	}
	if items == nil {
		items = []*Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// CreateItem handles POST /admin/items
func (h *Handler) CreateItem(c *gin.Context) {
	item, ok := h.bindItem(c, nil)
	if !ok {
		return
	}

	if err := h.svc.CreateItem(c.Request.Context(), item); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

// UpdateItem handles PATCH /admin/items/:id
func (h *Handler) UpdateItem(c *gin.Context) {
	existing, err := h.svc.Item(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	item, ok := h.bindItem(c, existing)
	if !ok {
		return
	}

	if err := h.svc.UpdateItem(c.Request.Context(), item); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

// bindItem parses an ItemRequest into an Item, layered over existing
// for updates.
func (h *Handler) bindItem(c *gin.Context, existing *Item) (*Item, bool) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return nil, false
	}

	price, err := wheelz.ParsePositive(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_price",
			"message": "Price must be a positive decimal with at most 6 decimal places",
		})
		return nil, false
	}

	itemType := ItemType(req.Type)
	if !itemType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_item_type",
			"message": "Type must be one of car, consumable, upgrade, currency, other",
		})
		return nil, false
	}
	if req.Stock != nil && *req.Stock < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_stock",
			"message": "Stock must be zero or positive",
		})
		return nil, false
	}
	// Image URLs end up in mint calls and client galleries; reject
	// anything that points inside our network.
	if req.ImageURL != "" {
		if err := security.ValidateEndpointURL(req.ImageURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_image_url",
				"message": "Image URL must be a public http(s) URL",
			})
			return nil, false
		}
	}

	item := &Item{}
	if existing != nil {
		*item = *existing
	}
	item.Name = validation.SanitizeString(req.Name, 200)
	item.Description = validation.SanitizeString(req.Description, 200)
	item.Type = itemType
	item.Price = price
	item.Stock = req.Stock
	item.ImageURL = req.ImageURL
	item.CarType = validation.SanitizeString(req.CarType, 64)
	if req.Status != "" {
		item.Status = ItemStatus(req.Status)
	}
	if req.Stock != nil && *req.Stock == 0 {
		item.Status = StatusSoldOut
	}
	return item, true
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "item_not_found",
			"message": "No such item",
		})
	case errors.Is(err, ErrOutOfStock):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "out_of_stock",
			"message": "Item is sold out",
		})
	case errors.Is(err, ErrItemUnavailable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "item_unavailable",
			"message": "Item is not available for purchase",
		})
	case errors.Is(err, ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_quantity",
			"message": "Quantity must be between 1 and 10",
		})
	case errors.Is(err, ErrInvalidItemType):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_item_type",
			"message": "Type must be one of car, consumable, upgrade, currency, other",
		})
	case errors.Is(err, ErrPaymentRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "payment_required",
			"message": "Car items require an on-chain payment digest",
		})
	case errors.Is(err, payments.ErrNoWalletLinked):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_wallet",
			"message": "Link a wallet address before buying car items",
		})
	case errors.Is(err, payments.ErrPaymentNotVerified):
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
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "insufficient_balance",
			"message": "Insufficient wheelz balance",
		})
	case errors.Is(err, wheelz.ErrNotPositive), errors.Is(err, wheelz.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_price",
			"message": "Price must be a positive decimal with at most 6 decimal places",
		})
	case errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "account_not_found",
			"message": "No such account",
		})
	default:
		h.logger.Error("market operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "market_error",
			"message": "Market operation failed",
		})
	}
}
