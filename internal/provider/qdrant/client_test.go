package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/config"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/knowledge_base/points/query", r.URL.Path)
		assert.Equal(t, "qd-key", r.Header.Get("api-key"))

		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Limit)
		assert.True(t, req.WithPayload)
		assert.Equal(t, []float32{1, 0}, req.Query)

		_, _ = io.WriteString(w, `{"result":{"points":[
			{"score":0.9,"payload":{"text":"Support is open 24/7."}},
			{"score":0.5,"payload":{"metadata":{"doc_id":"x"}}},
			{"score":0.4,"payload":{"text":"Plans start at $10."}}]}}`)
	}))
	defer srv.Close()

	emb := new(MockEmbedder)
	emb.On("Embed", mock.Anything, "support hours").Return([]float32{1, 0}, nil)

	c := NewClient(config.QdrantConfig{URL: srv.URL, APIKey: "qd-key", Collection: "knowledge_base", Limit: 3}, emb, nil, nil)
	results, err := c.Search(context.Background(), "support hours", 3)

	require.NoError(t, err)
	assert.Equal(t, []string{"Support is open 24/7.", "Plans start at $10."}, results)
	emb.AssertExpectations(t)
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	emb := new(MockEmbedder)
	emb.On("Embed", mock.Anything, "q").Return(nil, errors.New("openai down"))

	c := NewClient(config.QdrantConfig{URL: "http://127.0.0.1:1", Collection: "knowledge_base"}, emb, nil, nil)
	_, err := c.Search(context.Background(), "q", 3)

	assert.Error(t, err)
}

func TestSearch_MissingCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status":{"error":"Not found"}}`)
	}))
	defer srv.Close()

	emb := new(MockEmbedder)
	emb.On("Embed", mock.Anything, "q").Return([]float32{1}, nil)

	c := NewClient(config.QdrantConfig{URL: srv.URL, Collection: "knowledge_base"}, emb, nil, nil)
	_, err := c.Search(context.Background(), "q", 3)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestDocuments_GroupsChunksAcrossPages(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/collections/knowledge_base/points/scroll", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["with_vector"])
		calls++
		if calls == 1 {
			assert.Nil(t, req["offset"])
			_, _ = io.WriteString(w, `{"result":{"points":[
				{"payload":{"text":"a","metadata":{"doc_id":"faq","source":"faq.pdf","category":"support"}}},
				{"payload":{"text":"b","metadata":{"doc_id":"pricing","source":"pricing.md"}}},
				{"payload":{"text":"loose chunk"}}],"next_page_offset":42}}`)
			return
		}
		assert.Equal(t, float64(42), req["offset"])
		_, _ = io.WriteString(w, `{"result":{"points":[
			{"payload":{"text":"c","metadata":{"doc_id":"faq","source":"faq.pdf","category":"support"}}}],"next_page_offset":null}}`)
	}))
	defer srv.Close()

	c := NewClient(config.QdrantConfig{URL: srv.URL, Collection: "knowledge_base"}, new(MockEmbedder), nil, nil)
	docs, err := c.Documents(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, docs, 2)
	assert.Equal(t, domain.KnowledgeDocument{DocID: "faq", Source: "faq.pdf", Category: "support", Chunks: 2}, docs[0])
	assert.Equal(t, domain.KnowledgeDocument{DocID: "pricing", Source: "pricing.md", Chunks: 1}, docs[1])
}

func TestDeleteDocument_FiltersOnDocID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/knowledge_base/points/delete", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"filter":{"must":[{"key":"metadata.doc_id","match":{"value":"faq"}}]}}`, string(body))
		_, _ = io.WriteString(w, `{"result":{"status":"completed"}}`)
	}))
	defer srv.Close()

	c := NewClient(config.QdrantConfig{URL: srv.URL, Collection: "knowledge_base"}, new(MockEmbedder), nil, nil)
	assert.NoError(t, c.DeleteDocument(context.Background(), "faq"))
}

func TestInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/knowledge_base":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = io.WriteString(w, `{"result":{"status":"green","points_count":3}}`)
		case "/collections/knowledge_base/points/scroll":
			_, _ = io.WriteString(w, `{"result":{"points":[
				{"payload":{"metadata":{"doc_id":"faq"}}},
				{"payload":{"metadata":{"doc_id":"faq"}}},
				{"payload":{"metadata":{"doc_id":"pricing"}}}],"next_page_offset":null}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(config.QdrantConfig{URL: srv.URL, Collection: "knowledge_base"}, new(MockEmbedder), nil, nil)
	info, err := c.Info(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "green", info.Status)
	assert.Equal(t, 2, info.TotalDocuments)
	assert.Equal(t, 3, info.TotalChunks)
	assert.Equal(t, "Qdrant", info.VectorDatabase)
}
