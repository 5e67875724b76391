// Package embedder implements spec component E: batched calls to the
// external embedding API, governed by internal/quota, with per-chunk
// success/failure mapping.
//
// Grounded on the teacher's internal/embeddings/client.go for the HTTP
// transport tuning (pooled connections, forced HTTP/1.1) and overall
// request/response shape, generalized away from its Ollama-specific
// "/api/embeddings" + MRL truncation scheme (not part of spec §6's
// provider-agnostic EMBEDDING_API_KEY/EMBEDDING_MODEL config — see
// DESIGN.md).
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures the remote embedding endpoint.
type Config struct {
	Endpoint  string // base URL of the embedding service
	APIKey    string
	Model     string
	Dimension int // expected vector length; a response of another length fails that call with an error (0 disables the check). It is not compared against an existing collection's vector size.
}

// Client calls a remote HTTP embedding endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a Client. Connection pooling mirrors the teacher's
// tuned transport.
func NewClient(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   false,
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   60 * time.Second, // spec §5: a 60s wall-clock timeout per attempt
			Transport: transport,
		},
	}
}

// Dimension returns the configured vector dimension, exposed to the
// vector-store adapter at startup (spec 4.E).
func (c *Client) Dimension() int { return c.cfg.Dimension }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// RateLimitedError signals a 429/5xx response; callers report this back
// to the governor as Outcome=RateLimited so its shared backoff applies.
type RateLimitedError struct {
	StatusCode int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("embedder: rate limited (status %d)", e.StatusCode)
}

// embedOnce performs a single ungoverned HTTP call. Callers (Batcher) are
// responsible for quota admission and retry policy.
func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, &RateLimitedError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedder: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}
	if c.cfg.Dimension != 0 && len(out.Embedding) != c.cfg.Dimension {
		return nil, fmt.Errorf("embedder: expected %d dimensions, got %d", c.cfg.Dimension, len(out.Embedding))
	}
	return out.Embedding, nil
}

// EmbedQuery performs a single call for one text. It is a thin helper
// over embedOnce and, like it, takes no quota reservation itself: the
// searcher and Batcher reserve through the governor around it. The same
// dimension validation applies.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embedOnce(ctx, text)
}
