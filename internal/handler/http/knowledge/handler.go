package knowledge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/audit"
	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/resilience"
	"vocalq-backend/pkg/response"
)

// Store administers the knowledge base. *qdrant.Client implements it.
type Store interface {
	Documents(ctx context.Context) ([]domain.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, docID string) error
	Info(ctx context.Context) (*domain.KnowledgeBaseInfo, error)
}

// Auditor records admin changes. *audit.Logger implements it.
type Auditor interface {
	Log(ctx context.Context, event *audit.Event) error
}

// Handler handles knowledge base HTTP requests
type Handler struct {
	store          Store
	embeddingModel string
	auditor        Auditor
}

// NewHandler creates a new knowledge base handler. auditor may be nil.
func NewHandler(store Store, embeddingModel string, auditor Auditor) *Handler {
	return &Handler{
		store:          store,
		embeddingModel: embeddingModel,
		auditor:        auditor,
	}
}

// ListDocuments returns every ingested document with its chunk count
// GET /api/v1/knowledge-base/list
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.store.Documents(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list knowledge base documents", zap.Error(err))
		response.FromError(c, upstream(err))
		return
	}
	response.List(c, docs, int64(len(docs)))
}

// DeleteDocument removes all chunks of a document
// DELETE /api/v1/knowledge-base/:doc_id
func (h *Handler) DeleteDocument(c *gin.Context) {
	docID := strings.TrimSpace(c.Param("doc_id"))
	if docID == "" {
		response.ValidationError(c, "doc_id is required")
		return
	}

	if err := h.store.DeleteDocument(c.Request.Context(), docID); err != nil {
		logger.Error("Failed to delete knowledge base document",
			zap.String("doc_id", docID),
			zap.Error(err))
		response.FromError(c, upstream(err))
		return
	}

	h.record(c, audit.EventKBDocumentDelete, docID)
	response.Success(c, http.StatusOK, gin.H{
		"message": "Document deleted successfully",
		"doc_id":  docID,
	})
}

// GetInfo reports collection health and size
// GET /api/v1/knowledge-base/info
func (h *Handler) GetInfo(c *gin.Context) {
	info, err := h.store.Info(c.Request.Context())
	if err != nil {
		logger.Error("Failed to read knowledge base info", zap.Error(err))
		response.FromError(c, upstream(err))
		return
	}
	info.EmbeddingModel = h.embeddingModel
	response.Success(c, http.StatusOK, info)
}

// record stores an audit event; a failed write only logs
func (h *Handler) record(c *gin.Context, eventType audit.EventType, details string) {
	if h.auditor == nil {
		return
	}
	err := h.auditor.Log(c.Request.Context(), &audit.Event{
		EventType: eventType,
		Resource:  "knowledge_base",
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Success:   true,
		Details:   details,
	})
	if err != nil {
		logger.Warn("Failed to record audit event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func upstream(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperrors.CircuitOpenError("qdrant")
	}
	return apperrors.UpstreamError("qdrant", err)
}
