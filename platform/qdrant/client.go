// Package qdrant provides a REST client for Qdrant vector database.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDisabled is returned when the client has no base URL configured.
var ErrDisabled = errors.New("qdrant is not configured")

// Client is an HTTP client for Qdrant vector database.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

// Config configures the Qdrant client.
type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewClient creates a new Qdrant client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.collection }

// Point is a vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Filter is a Qdrant filter clause. Only "must" match conditions are used.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition matches a payload key against a value.
type Condition struct {
	Key   string `json:"key"`
	Match Match  `json:"match"`
}

// Match is an exact-value matcher.
type Match struct {
	Value any `json:"value"`
}

// MatchValue is shorthand for a single exact-match filter.
func MatchValue(key string, value any) *Filter {
	return &Filter{Must: []Condition{{Key: key, Match: Match{Value: value}}}}
}

// SearchRequest is the request body for a vector search.
type SearchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	WithPayload    bool      `json:"with_payload"`
	Filter         *Filter   `json:"filter,omitempty"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
}

// SearchResult is a single search result from Qdrant.
type SearchResult struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// SearchResponse is the response from a search query.
type SearchResponse struct {
	Result []SearchResult `json:"result"`
	Status any            `json:"status"`
	Time   float64        `json:"time"`
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Limit          int
	Filter         *Filter
	ScoreThreshold float64
}

// Search performs a vector similarity search in the configured collection.
func (c *Client) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	reqBody := SearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
		Filter:      opts.Filter,
	}
	if opts.ScoreThreshold > 0 {
		threshold := opts.ScoreThreshold
		reqBody.ScoreThreshold = &threshold
	}

	var searchResp SearchResponse
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.do(ctx, http.MethodPost, path, reqBody, &searchResp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return searchResp.Result, nil
}

// Upsert writes points to the configured collection and waits for indexing.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// DeleteByFilter removes every point matching filter.
func (c *Client) DeleteByFilter(ctx context.Context, filter *Filter) error {
	body := map[string]any{"filter": filter}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, dimensions int) error {
	path := fmt.Sprintf("/collections/%s", c.collection)
	err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return nil
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		return fmt.Errorf("get collection: %w", err)
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dimensions, "distance": "Cosine"},
	}
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	if c.baseURL == "" {
		return ErrDisabled
	}

	var reader io.Reader
	if in != nil {
		bodyBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
