package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ChromaOptions configures a Chroma client.
type ChromaOptions struct {
	BaseURL    string
	Collection string
	// RPS limits request rate. Zero means unlimited.
	RPS float64
	// Embedder computes vectors client side. When nil only documents are
	// sent and the server must embed them.
	Embedder   Embedder
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Chroma talks to the Chroma HTTP API. The collection is created on first
// use with cosine distance.
type Chroma struct {
	baseURL    string
	collection string
	httpClient *http.Client
	limiter    *rate.Limiter
	embedder   Embedder
	log        *slog.Logger

	mu           sync.Mutex
	collectionID string
}

var _ Index = (*Chroma)(nil)

func NewChroma(opts ChromaOptions) *Chroma {
	c := &Chroma{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		collection: opts.Collection,
		httpClient: opts.HTTPClient,
		embedder:   opts.Embedder,
		log:        opts.Logger,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	if c.collection == "" {
		c.collection = "documents"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "chroma", "collection", c.collection)
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}
	return c
}

type createCollectionRequest struct {
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GetOrCreate bool           `json:"get_or_create"`
}

type collectionResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type upsertRequest struct {
	IDs        []string         `json:"ids"`
	Documents  []string         `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
	Embeddings [][]float32      `json:"embeddings,omitempty"`
}

// Heartbeat checks the server is reachable.
func (c *Chroma) Heartbeat(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil)
	return err
}

// CollectionID returns the id of the collection, creating it if needed.
func (c *Chroma) CollectionID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionID != "" {
		return c.collectionID, nil
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v1/collections", createCollectionRequest{
		Name:        c.collection,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	})
	if err != nil {
		return "", fmt.Errorf("get or create collection: %w", err)
	}
	var coll collectionResponse
	if err := json.Unmarshal(body, &coll); err != nil {
		return "", fmt.Errorf("decode collection: %w", err)
	}
	if coll.ID == "" {
		return "", fmt.Errorf("collection %q: empty id in response", c.collection)
	}
	c.collectionID = coll.ID
	c.log.Debug("collection ready", "id", coll.ID)
	return coll.ID, nil
}

func (c *Chroma) Upsert(ctx context.Context, batch UpsertBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	id, err := c.CollectionID(ctx)
	if err != nil {
		return err
	}

	req := upsertRequest{IDs: batch.IDs, Documents: batch.Documents, Metadatas: batch.Metadatas}
	if c.embedder != nil {
		vecs, err := c.embedder.EmbedDocuments(ctx, batch.Documents)
		if err != nil {
			return fmt.Errorf("embed documents: %w", err)
		}
		if len(vecs) != batch.Len() {
			return fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), batch.Len())
		}
		req.Embeddings = vecs
	}

	if _, err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+url.PathEscape(id)+"/upsert", req); err != nil {
		return fmt.Errorf("upsert %d chunks: %w", batch.Len(), err)
	}
	return nil
}

// do sends a JSON request and returns the response body. 429 and 5xx
// responses become RetryableError.
func (c *Chroma) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chroma: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chroma %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}
