package garage

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blastwheelz/backend/internal/auth"
)

// Handler provides HTTP endpoints for garage contents and mint jobs.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new garage handler
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up garage routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/garage", auth.RequireAuth(), h.ListAssets)
}

// RegisterAdminRoutes sets up privileged mint-job routes. The group
// must already carry the privileged middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/mints/:id", h.GetJob)
	r.POST("/admin/mints/:id/retry", h.RetryJob)
}

// ListAssets handles GET /garage
func (h *Handler) ListAssets(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	assets, err := h.svc.Assets(c.Request.Context(), auth.AuthenticatedAccount(c), limit)
	if err != nil {
		h.logger.Error("asset list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "garage_error",
			"message": "Failed to list assets",
		})
		return
	}
	if assets == nil {
		assets = []*Asset{}
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets, "count": len(assets)})
}

// GetJob handles GET /admin/mints/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.svc.store.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "job_not_found",
			"message": "No such mint job",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "job_error",
			"message": "Failed to load mint job",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// RetryJob handles POST /admin/mints/:id/retry
func (h *Handler) RetryJob(c *gin.Context) {
	job, err := h.svc.Retry(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "job_not_found",
			"message": "No such mint job",
		})
		return
	case errors.Is(err, ErrJobNotRetrying):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_completed",
			"message": "Mint job already completed",
		})
		return
	case err != nil:
		h.logger.Error("mint retry failed", "job", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "job_error",
			"message": "Failed to retry mint job",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}
