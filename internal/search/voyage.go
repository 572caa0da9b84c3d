package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const voyageAPI = "https://api.voyageai.com/v1/embeddings"

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Voyage is an Embedder backed by the Voyage AI embeddings API.
type Voyage struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// VoyageOption customises a Voyage client.
type VoyageOption func(*Voyage)

// WithVoyageBaseURL points the client at another endpoint.
func WithVoyageBaseURL(url string) VoyageOption {
	return func(v *Voyage) { v.baseURL = url }
}

// WithVoyageHTTPClient replaces the HTTP client.
func WithVoyageHTTPClient(c *http.Client) VoyageOption {
	return func(v *Voyage) { v.client = c }
}

// NewVoyage creates a Voyage client.
func NewVoyage(apiKey, model string, opts ...VoyageOption) (*Voyage, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("voyage api key not set")
	}
	if model == "" {
		model = "voyage-3-lite"
	}
	v := &Voyage{
		apiKey:  apiKey,
		model:   model,
		baseURL: voyageAPI,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Model returns the embedding model name.
func (v *Voyage) Model() string {
	return v.model
}

// Embed generates one vector per text.
func (v *Voyage) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(embeddingRequest{Input: texts, Model: v.model, InputType: "document"})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	vectors := make([][]float32, len(apiResp.Data))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		vectors[d.Index] = vec
	}
	return vectors, nil
}

type embeddingRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}
