package merchants

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fraudscore/internal/validation"
)

// Handler provides HTTP endpoints for merchant records.
type Handler struct {
	store Store
}

// NewHandler creates a new merchant handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up merchant routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/merchants", h.CreateMerchant)
	r.GET("/merchants/:id", h.GetMerchant)
}

// CreateMerchant handles POST /v1/merchants
func (h *Handler) CreateMerchant(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "id and name are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("id", req.ID),
		validation.MaxLength("name", req.Name, 200),
		validation.Latitude("latitude", req.Latitude),
		validation.Longitude("longitude", req.Longitude),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	category, err := ParseCategory(req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	risk, err := ParseRiskLevel(req.RiskLevel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	m := &Merchant{
		ID:        req.ID,
		Name:      validation.SanitizeString(req.Name, 200),
		Category:  category,
		RiskLevel: risk,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	if err := h.store.Create(c.Request.Context(), m); err != nil {
		if errors.Is(err, ErrMerchantExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"merchant": m})
}

// GetMerchant handles GET /v1/merchants/:id
func (h *Handler) GetMerchant(c *gin.Context) {
	m, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrMerchantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}
