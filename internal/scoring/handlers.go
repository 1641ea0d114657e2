package scoring

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudscore/internal/logging"
)

// DefaultBatchMaxSize is the largest batch accepted when none is configured.
const DefaultBatchMaxSize = 100

// BatchRequest is the body of POST /v1/score/batch.
type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// Handler provides HTTP endpoints for scoring.
type Handler struct {
	service      *Service
	batchMaxSize int
}

// NewHandler creates a new scoring handler.
func NewHandler(service *Service, batchMaxSize int) *Handler {
	if batchMaxSize <= 0 {
		batchMaxSize = DefaultBatchMaxSize
	}
	return &Handler{service: service, batchMaxSize: batchMaxSize}
}

// RegisterRoutes sets up scoring routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/score", h.Score)
	r.POST("/score/batch", h.ScoreBatch)
}

// Score handles POST /v1/score
func (h *Handler) Score(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed transaction: " + err.Error(),
		})
		return
	}

	v, err := h.service.Score(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdict": v})
}

// ScoreBatch handles POST /v1/score/batch
func (h *Handler) ScoreBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed batch: " + err.Error(),
		})
		return
	}
	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "transactions must not be empty"})
		return
	}
	if len(req.Transactions) > h.batchMaxSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": fmt.Sprintf("batch exceeds maximum size of %d", h.batchMaxSize),
		})
		return
	}

	result := h.service.ScoreBatch(c.Request.Context(), req.Transactions)
	c.JSON(http.StatusOK, gin.H{
		"verdicts": result.Verdicts,
		"failures": result.Failures,
		"count":    len(result.Verdicts),
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	code := ErrorCode(err)
	switch code {
	case "invalid_request":
		body := gin.H{"error": code, "message": err.Error()}
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			body["details"] = reqErr.Errors
		}
		c.JSON(http.StatusBadRequest, body)
	case "user_not_found", "merchant_not_found":
		c.JSON(http.StatusNotFound, gin.H{"error": code, "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("scoring failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": code, "message": "internal error while scoring"})
	}
}
