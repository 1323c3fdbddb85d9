// Package provider is the client for the external embedding and
// chat-completion capability, consumed as an opaque OpenAI-compatible
// HTTP API. Failures are transient and isolated per call — the indexer
// and retrieval service decide what to do with them; nothing here
// retries.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the embedding/completion endpoints.
type Client struct {
	baseURL         string
	apiKey          string
	embeddingModel  string
	completionModel string
	embeddingDim    int
	httpClient      *http.Client
}

// Embedder turns batches of texts into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer answers a message list with text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// New creates a provider client.
func New(baseURL, apiKey, embeddingModel, completionModel string, embeddingDim int) *Client {
	return &Client{
		baseURL:         baseURL,
		apiKey:          apiKey,
		embeddingModel:  embeddingModel,
		completionModel: completionModel,
		embeddingDim:    embeddingDim,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
	}
}

// ─── Embeddings ──────────────────────────────────────────────────────────────

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	err := c.post(ctx, "/embeddings", embeddingRequest{
		Model:      c.embeddingModel,
		Input:      texts,
		Dimensions: c.embeddingDim,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("provider: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("provider: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// ─── Completions ─────────────────────────────────────────────────────────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends system+user messages and returns the answer verbatim.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var resp completionResponse
	err := c.post(ctx, "/chat/completions", completionRequest{
		Model: c.completionModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ─── Transport ───────────────────────────────────────────────────────────────

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("provider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider: %s: status %d: %s", path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decode %s response: %w", path, err)
	}
	return nil
}
