package queue

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/response"
)

// Store manages the human-agent queue. *cockroach.QueueRepository implements it.
type Store interface {
	List(ctx context.Context, status domain.QueueStatus) ([]*domain.QueueItem, error)
	Enqueue(ctx context.Context, input *domain.EnqueueInput) (*domain.QueueItem, error)
	Update(ctx context.Context, callID string, input *domain.QueueUpdateInput) (*domain.QueueItem, error)
	Remove(ctx context.Context, callID string) error
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// Handler handles call queue HTTP requests
type Handler struct {
	store Store
}

// NewHandler creates a new queue handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// GetQueue lists queued calls by priority, oldest first
// GET /api/v1/queue?status=waiting
func (h *Handler) GetQueue(c *gin.Context) {
	status := domain.QueueStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		response.ValidationError(c, "Invalid status")
		return
	}

	items, err := h.store.List(c.Request.Context(), status)
	if err != nil {
		logger.Error("Failed to list queue", zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}
	response.List(c, items, int64(len(items)))
}

// GetQueueStats counts queued calls by status
// GET /api/v1/queue/stats
func (h *Handler) GetQueueStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		logger.Error("Failed to count queue", zap.Error(err))
		// the dashboard widget renders zeros rather than an error panel
		stats = &domain.QueueStats{}
	}
	response.Success(c, http.StatusOK, stats)
}

// AddToQueue queues a call for a human agent
// POST /api/v1/queue
func (h *Handler) AddToQueue(c *gin.Context) {
	var req domain.EnqueueInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	item, err := h.store.Enqueue(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "Failed to enqueue call", err)
		return
	}

	logger.Info("Call queued",
		zap.String("call_id", item.CallID),
		zap.Int("priority", item.Priority))
	response.Success(c, http.StatusCreated, item)
}

// UpdateQueueItem changes the status or assignee of a queued call
// PATCH /api/v1/queue/:call_id
func (h *Handler) UpdateQueueItem(c *gin.Context) {
	var req domain.QueueUpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if req.Status == nil && req.AssignedTo == nil {
		response.ValidationError(c, "Nothing to update")
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		response.ValidationError(c, "Invalid status")
		return
	}

	item, err := h.store.Update(c.Request.Context(), c.Param("call_id"), &req)
	if err != nil {
		h.fail(c, "Failed to update queue item", err)
		return
	}
	response.Success(c, http.StatusOK, item)
}

// RemoveFromQueue deletes a queued call
// DELETE /api/v1/queue/:call_id
func (h *Handler) RemoveFromQueue(c *gin.Context) {
	callID := c.Param("call_id")
	if err := h.store.Remove(c.Request.Context(), callID); err != nil {
		h.fail(c, "Failed to remove queue item", err)
		return
	}

	logger.Info("Call removed from queue", zap.String("call_id", callID))
	response.Success(c, http.StatusOK, gin.H{"message": "Call removed from queue"})
}

// fail answers with the AppError carried by err, or a database error
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	if apperrors.IsAppError(err) {
		response.FromError(c, err)
		return
	}
	logger.Error(msg, zap.String("call_id", c.Param("call_id")), zap.Error(err))
	response.FromError(c, apperrors.DatabaseError(err))
}
