package transactions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudscore/internal/pagination"
)

// MaxListLimit caps one page of GET /users/:id/transactions.
const MaxListLimit = 100

// LabelRequest is the body of POST /v1/transactions/:id/fraud.
type LabelRequest struct {
	IsFraud *bool `json:"isFraud" binding:"required"`
}

// Handler provides HTTP endpoints for recorded transactions.
type Handler struct {
	store Store
}

// NewHandler creates a new transaction handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up transaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/transactions", h.ListByUser)
	r.GET("/transactions/:id", h.GetTransaction)
	r.POST("/transactions/:id/fraud", h.LabelFraud)
}

// ListByUser handles GET /v1/users/:id/transactions?limit=&cursor=
func (h *Handler) ListByUser(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"), MaxListLimit, MaxListLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	txs, err := h.store.ListByUser(c.Request.Context(), c.Param("id"), cursor, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	txs, next, more := pagination.ComputePage(txs, limit, func(tx *Transaction) (time.Time, string) {
		return tx.CreatedAt, tx.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
		"nextCursor":   next,
		"hasMore":      more,
	})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// LabelFraud handles POST /v1/transactions/:id/fraud
func (h *Handler) LabelFraud(c *gin.Context) {
	var req LabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "isFraud is required"})
		return
	}

	tx, err := h.store.MarkFraud(c.Request.Context(), c.Param("id"), *req.IsFraud)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, ErrTransactionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transaction not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
