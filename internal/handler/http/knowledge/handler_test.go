package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/audit"
	"vocalq-backend/pkg/resilience"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Documents(ctx context.Context) ([]domain.KnowledgeDocument, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.KnowledgeDocument), args.Error(1)
}

func (m *MockStore) DeleteDocument(ctx context.Context, docID string) error {
	return m.Called(ctx, docID).Error(0)
}

func (m *MockStore) Info(ctx context.Context) (*domain.KnowledgeBaseInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBaseInfo), args.Error(1)
}

type recordingAuditor struct {
	events []*audit.Event
}

func (a *recordingAuditor) Log(_ context.Context, e *audit.Event) error {
	a.events = append(a.events, e)
	return nil
}

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	kb := r.Group("/knowledge-base")
	kb.GET("/list", h.ListDocuments)
	kb.GET("/info", h.GetInfo)
	kb.DELETE("/:doc_id", h.DeleteDocument)
	return r
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestListDocuments(t *testing.T) {
	store := new(MockStore)
	store.On("Documents", mock.Anything).Return([]domain.KnowledgeDocument{
		{DocID: "faq", Source: "faq.pdf", Chunks: 4},
		{DocID: "pricing", Chunks: 1},
	}, nil)
	r := setupRouter(NewHandler(store, "text-embedding-3-small", nil))

	w := do(r, http.MethodGet, "/knowledge-base/list")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []domain.KnowledgeDocument `json:"data"`
		Meta struct {
			Total int64 `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
	assert.Equal(t, int64(2), body.Meta.Total)
	assert.Equal(t, 4, body.Data[0].Chunks)
}

func TestListDocuments_UpstreamFailure(t *testing.T) {
	store := new(MockStore)
	store.On("Documents", mock.Anything).Return(nil, errors.New("connection refused"))
	r := setupRouter(NewHandler(store, "", nil))

	w := do(r, http.MethodGet, "/knowledge-base/list")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	store := new(MockStore)
	store.On("DeleteDocument", mock.Anything, "faq").Return(nil)
	auditor := &recordingAuditor{}
	r := setupRouter(NewHandler(store, "", auditor))

	w := do(r, http.MethodDelete, "/knowledge-base/faq")
	assert.Equal(t, http.StatusOK, w.Code)
	store.AssertExpectations(t)

	require.Len(t, auditor.events, 1)
	assert.Equal(t, audit.EventKBDocumentDelete, auditor.events[0].EventType)
	assert.Equal(t, "faq", auditor.events[0].Details)
}

func TestDeleteDocument_CircuitOpen(t *testing.T) {
	store := new(MockStore)
	store.On("DeleteDocument", mock.Anything, "faq").Return(fmt.Errorf("failed to delete knowledge base document: %w", resilience.ErrCircuitOpen))
	auditor := &recordingAuditor{}
	r := setupRouter(NewHandler(store, "", auditor))

	w := do(r, http.MethodDelete, "/knowledge-base/faq")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, auditor.events)
}

func TestGetInfo(t *testing.T) {
	store := new(MockStore)
	store.On("Info", mock.Anything).Return(&domain.KnowledgeBaseInfo{
		Status: "green", Collection: "knowledge_base", TotalDocuments: 2, TotalChunks: 9, VectorDatabase: "Qdrant",
	}, nil)
	r := setupRouter(NewHandler(store, "text-embedding-3-small", nil))

	w := do(r, http.MethodGet, "/knowledge-base/info")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data domain.KnowledgeBaseInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "text-embedding-3-small", body.Data.EmbeddingModel)
	assert.Equal(t, 9, body.Data.TotalChunks)
}
