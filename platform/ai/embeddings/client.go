// Package embeddings turns listing documents and lead messages into vectors
// for the property search index.
package embeddings

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

// Purpose tells the provider which side of a retrieval the text is on.
// Listings are indexed as documents; inbound lead messages are queries.
type Purpose string

const (
	PurposeDocument Purpose = "document"
	PurposeQuery    Purpose = "query"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)
}

var (
	// ErrEmptyVector is returned when a provider answers without a vector.
	ErrEmptyVector = errors.New("embedding provider returned an empty vector")
	// ErrEmptyText is returned before any call when there is nothing to embed.
	ErrEmptyText = errors.New("nothing to embed")
)

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// StatusError is a non-200 answer from the embedding endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Client posts text to a self-hosted embedding endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Text string  `json:"text"`
	Task Purpose `json:"task"`
}

// Embed sends {"text","task"} and accepts {"vector":[...]}, {"embedding":[...]}
// or a bare JSON array in reply.
func (c *Client) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if purpose == "" {
		purpose = PurposeDocument
	}

	payload, err := json.Marshal(embedRequest{Text: text, Task: purpose})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return decodeVector(body)
}

func decodeVector(body []byte) ([]float32, error) {
	var wrapped struct {
		Vector    []float32 `json:"vector"`
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Vector) > 0 {
			return wrapped.Vector, nil
		}
		if len(wrapped.Embedding) > 0 {
			return wrapped.Embedding, nil
		}
	}

	var bare []float32
	if err := json.Unmarshal(body, &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}
	return nil, ErrEmptyVector
}
