// Package qdrant searches and administers the knowledge base collection over
// Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/config"
	"vocalq-backend/pkg/resilience"
)

var tracer = otel.Tracer("vocalq-backend/internal/provider/qdrant")

// Embedder turns a query into the collection's vector space
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client is a knowledge base backed by one Qdrant collection
type Client struct {
	cfg      config.QdrantConfig
	embedder Embedder
	http     *http.Client
	breaker  *resilience.Breaker
	log      *zap.Logger
}

// NewClient creates a Qdrant knowledge base. breaker may be nil.
func NewClient(cfg config.QdrantConfig, embedder Embedder, breaker *resilience.Breaker, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		embedder: embedder,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		},
		breaker: breaker,
		log:     log.With(zap.String("provider", "qdrant")),
	}
}

type queryRequest struct {
	Query       []float32 `json:"query"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type queryResponse struct {
	Result struct {
		Points []struct {
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

// Search returns the text payload of the closest points, best first
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "qdrant.search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.cfg.Collection), attribute.Int("limit", limit))

	if limit <= 0 {
		limit = c.cfg.Limit
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var out queryResponse
	err = c.do(ctx, "search", http.MethodPost, "/points/query", queryRequest{Query: vector, Limit: limit, WithPayload: true}, &out)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}

	results := make([]string, 0, len(out.Result.Points))
	for _, p := range out.Result.Points {
		if text, ok := p.Payload["text"].(string); ok && text != "" {
			results = append(results, text)
		}
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

const scrollPageSize = 256

type scrollRequest struct {
	Limit       int         `json:"limit"`
	Offset      interface{} `json:"offset,omitempty"`
	WithPayload []string    `json:"with_payload"`
	WithVector  bool        `json:"with_vector"`
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
		NextPageOffset interface{} `json:"next_page_offset"`
	} `json:"result"`
}

// Documents groups every chunk in the collection by its doc_id. Chunks
// without one were added outside document ingestion and are left out.
func (c *Client) Documents(ctx context.Context) ([]domain.KnowledgeDocument, error) {
	ctx, span := tracer.Start(ctx, "qdrant.documents")
	defer span.End()

	var order []string
	docs := make(map[string]*domain.KnowledgeDocument)
	var offset interface{}
	for {
		var out scrollResponse
		req := scrollRequest{Limit: scrollPageSize, Offset: offset, WithPayload: []string{"metadata", "doc_id", "source", "category"}}
		if err := c.do(ctx, "scroll", http.MethodPost, "/points/scroll", req, &out); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to list knowledge base documents: %w", err)
		}
		for _, p := range out.Result.Points {
			meta := p.Payload
			if nested, ok := p.Payload["metadata"].(map[string]interface{}); ok {
				meta = nested
			}
			id, _ := meta["doc_id"].(string)
			if id == "" {
				continue
			}
			doc, ok := docs[id]
			if !ok {
				doc = &domain.KnowledgeDocument{DocID: id}
				doc.Source, _ = meta["source"].(string)
				doc.Category, _ = meta["category"].(string)
				docs[id] = doc
				order = append(order, id)
			}
			doc.Chunks++
		}
		if out.Result.NextPageOffset == nil {
			break
		}
		offset = out.Result.NextPageOffset
	}

	result := make([]domain.KnowledgeDocument, 0, len(order))
	for _, id := range order {
		result = append(result, *docs[id])
	}
	span.SetAttributes(attribute.Int("documents", len(result)))
	return result, nil
}

type matchValue struct {
	Value string `json:"value"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type deleteRequest struct {
	Filter struct {
		Must []fieldCondition `json:"must"`
	} `json:"filter"`
}

// DeleteDocument removes every chunk of a document
func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	ctx, span := tracer.Start(ctx, "qdrant.delete_document")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	var req deleteRequest
	req.Filter.Must = []fieldCondition{{Key: "metadata.doc_id", Match: matchValue{Value: docID}}}
	if err := c.do(ctx, "delete", http.MethodPost, "/points/delete?wait=true", req, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete knowledge base document: %w", err)
	}
	c.log.Info("Knowledge base document deleted", zap.String("doc_id", docID))
	return nil
}

type collectionResponse struct {
	Result struct {
		Status      string `json:"status"`
		PointsCount int    `json:"points_count"`
	} `json:"result"`
}

// Info reports the collection status and size
func (c *Client) Info(ctx context.Context) (*domain.KnowledgeBaseInfo, error) {
	ctx, span := tracer.Start(ctx, "qdrant.info")
	defer span.End()

	var out collectionResponse
	if err := c.do(ctx, "info", http.MethodGet, "", nil, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read knowledge base collection: %w", err)
	}
	docs, err := c.Documents(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.KnowledgeBaseInfo{
		Status:         out.Result.Status,
		Collection:     c.cfg.Collection,
		TotalDocuments: len(docs),
		TotalChunks:    out.Result.PointsCount,
		VectorDatabase: "Qdrant",
	}, nil
}

// do sends one request to the collection endpoint through the breaker.
// A nil body sends no payload, a nil out discards the answer.
func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("error marshalling JSON: %w", err)
		}
	}
	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/collections/" + url.PathEscape(c.cfg.Collection) + path

	run := func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return resilience.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cfg.APIKey != "" {
			req.Header.Set("api-key", c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("error sending request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("qdrant: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return resilience.Permanent(err)
			}
			return err
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	if c.breaker != nil {
		return c.breaker.Execute(ctx, operation, run)
	}
	return run(ctx)
}
