package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Embedder turns text into a fixed-dimension vector. Implementations never
// return an error: recall is an enhancement, and an embedding outage must not
// block the conversation. On failure they return a zero vector, which scores
// 0 against everything downstream.
type Embedder interface {
	Embed(ctx context.Context, text string) []float64
	Dimension() int
}

// EmbeddingClient calls an OpenAI-compatible /embeddings endpoint.
type EmbeddingClient struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	maxChars   int
	httpClient *http.Client
}

type EmbeddingConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	MaxChars  int
	Timeout   time.Duration
}

func NewEmbeddingClient(cfg EmbeddingConfig) *EmbeddingClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = 1536
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &EmbeddingClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:      cfg.Model,
		dimension:  dimension,
		maxChars:   maxChars,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *EmbeddingClient) Dimension() int {
	return c.dimension
}

// Embed requests an embedding for text. Whitespace-only input short-circuits
// to a zero vector without a network call; input beyond the provider limit is
// truncated. Any failure logs and falls back to a zero vector.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) []float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zeroVector(c.dimension)
	}
	if runes := []rune(trimmed); len(runes) > c.maxChars {
		trimmed = string(runes[:c.maxChars])
	}

	vec, err := c.requestEmbedding(ctx, trimmed)
	if err != nil {
		log.Printf("[embedding] request failed, using zero vector: %v", err)
		return zeroVector(c.dimension)
	}
	return vec
}

func (c *EmbeddingClient) requestEmbedding(ctx context.Context, text string) ([]float64, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("missing api key")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("missing base url")
	}

	payload, err := json.Marshal(map[string]any{
		"model": c.model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return decoded.Data[0].Embedding, nil
}

func zeroVector(dimension int) []float64 {
	return make([]float64, dimension)
}
