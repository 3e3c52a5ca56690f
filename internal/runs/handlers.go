package runs

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/walletrisk/internal/pagination"
)

// Handler provides HTTP endpoints for scoring runs
type Handler struct {
	service *Service
}

// NewHandler creates a new runs handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up run routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/runs", h.StartRun)
	r.GET("/runs", h.ListRuns)
	r.GET("/runs/:id", h.GetRun)
	r.GET("/runs/:id/scores", h.GetScores)
}

// RegisterWalletRoutes sets up wallet-scoped routes. Mount behind the
// address-validation middleware.
func (h *Handler) RegisterWalletRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:address/scores", h.GetWalletHistory)
}

// StartRunRequest for creating a scoring run
type StartRunRequest struct {
	Wallets []string `json:"wallets" binding:"required"`
}

// StartRun handles POST /runs
func (h *Handler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	run, err := h.service.StartRun(c.Request.Context(), req.Wallets)
	if err != nil {
		status := http.StatusBadRequest
		code := "invalid_batch"
		switch {
		case errors.Is(err, ErrEmptyWalletList):
			code = "empty_batch"
		case errors.Is(err, ErrDuplicateWallet):
			code = "duplicate_wallet"
		case errors.Is(err, ErrInvalidAddress):
			code = "invalid_address"
		case errors.Is(err, ErrTooManyWallets):
			code = "batch_too_large"
		default:
			status = http.StatusInternalServerError
			code = "run_failed"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

// GetRun handles GET /runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.service.Store().GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Run not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run})
}

// ListRuns handles GET /runs with cursor pagination
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid cursor",
		})
		return
	}

	// Fetch one extra to detect whether more pages exist.
	list, err := h.service.Store().ListRuns(c.Request.Context(), limit+1, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": err.Error(),
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(list, limit, func(r *Run) (time.Time, string) {
		return r.CreatedAt, r.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"runs":       page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// GetScores handles GET /runs/:id/scores
func (h *Handler) GetScores(c *gin.Context) {
	id := c.Param("id")

	scores, err := h.service.GetScores(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Run not found",
			})
			return
		}
		if errors.Is(err, ErrRunNotFinished) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "run_not_finished",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "scores_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runId":  id,
		"scores": scores,
		"count":  len(scores),
	})
}

// GetWalletHistory handles GET /wallets/:address/scores
func (h *Handler) GetWalletHistory(c *gin.Context) {
	address := c.Param("address")

	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	history, err := h.service.Store().ListWalletScores(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"scores":  history,
		"count":   len(history),
	})
}
