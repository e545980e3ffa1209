package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds configuration for the Ollama embedding backend.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Timeout bounds each HTTP request (default: 10s).
	Timeout time.Duration

	// Breaker tunes the circuit breaker guarding backend calls.
	Breaker BreakerConfig
}

// OllamaProvider generates embeddings through a local Ollama instance.
// All calls go through a circuit breaker so an unreachable daemon fails
// fast after the first few timeouts.
type OllamaProvider struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	breaker *breaker
}

// NewOllamaProvider creates an Ollama-backed provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &OllamaProvider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("ollama-embeddings", cfg.Breaker),
	}
}

// ollamaEmbedRequest is the request body for POST /api/embed. Input
// accepts either a single string or a list of strings.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the response body from POST /api/embed.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Available reports whether the Ollama daemon answers /api/version.
// A tripped circuit breaker short-circuits the probe.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	if p.breaker.open() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Embed returns the embedding vector for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embed(ctx, text, 1)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Op: "embed", Err: err}
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in input order. Ollama
// accepts the whole batch in a single request.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := p.embed(ctx, texts, len(texts))
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Op: "embed_batch", Err: err}
	}
	return vectors, nil
}

func (p *OllamaProvider) embed(ctx context.Context, input any, want int) ([][]float32, error) {
	result, err := p.breaker.execute(ctx, func() (interface{}, error) {
		return p.doEmbed(ctx, input, want)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

func (p *OllamaProvider) doEmbed(ctx context.Context, input any, want int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	var respData ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(respData.Embeddings) != want {
		return nil, fmt.Errorf("ollama returned %d embeddings, want %d", len(respData.Embeddings), want)
	}
	for i, vec := range respData.Embeddings {
		if len(vec) == 0 {
			return nil, fmt.Errorf("ollama returned empty embedding at index %d", i)
		}
	}
	return respData.Embeddings, nil
}

// Model returns the configured model name.
func (p *OllamaProvider) Model() string {
	return p.model
}

var _ Provider = (*OllamaProvider)(nil)
