package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIConfig holds configuration for the OpenAI embedding backend.
type OpenAIConfig struct {
	// APIKey authenticates requests. The provider reports unavailable
	// when empty.
	APIKey string

	// Model is the embedding model (default: text-embedding-3-small).
	Model string

	// BaseURL is the API base URL (default: https://api.openai.com).
	BaseURL string

	// Timeout bounds each HTTP request (default: 30s).
	Timeout time.Duration

	// RequestsPerSecond caps the outbound request rate (default: 5).
	RequestsPerSecond float64

	// Breaker tunes the circuit breaker guarding backend calls.
	Breaker BreakerConfig
}

// OpenAIProvider generates embeddings through the OpenAI embeddings
// API. Requests are rate-limited client-side and wrapped in a circuit
// breaker.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	breaker *breaker
	limiter *rate.Limiter
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	return &OpenAIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("openai-embeddings", cfg.Breaker),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// openAIEmbedRequest is the request body for POST /v1/embeddings. Input
// accepts either a single string or a list of strings.
type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// openAIEmbedResponse is the response body from POST /v1/embeddings.
// Entries carry an index because the API does not guarantee order.
type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Available reports whether the provider is configured and the circuit
// is not open. There is no cheap remote probe for the OpenAI API, so
// availability is a local check.
func (p *OpenAIProvider) Available(context.Context) bool {
	return p.cfg.APIKey != "" && !p.breaker.open()
}

// Embed returns the embedding vector for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embed(ctx, text, 1)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Op: "embed", Err: err}
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in input order. The
// whole batch goes out as a single API request.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := p.embed(ctx, texts, len(texts))
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Op: "embed_batch", Err: err}
	}
	return vectors, nil
}

func (p *OpenAIProvider) embed(ctx context.Context, input any, want int) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := p.breaker.execute(ctx, func() (interface{}, error) {
		return p.doEmbed(ctx, input, want)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

func (p *OpenAIProvider) doEmbed(ctx context.Context, input any, want int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(openAIEmbedRequest{Model: p.cfg.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(msg))
	}

	var respData openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(respData.Data) != want {
		return nil, fmt.Errorf("openai returned %d embeddings, want %d", len(respData.Data), want)
	}

	vectors := make([][]float32, want)
	for _, entry := range respData.Data {
		if entry.Index < 0 || entry.Index >= want {
			return nil, fmt.Errorf("openai returned out-of-range index %d", entry.Index)
		}
		if len(entry.Embedding) == 0 {
			return nil, fmt.Errorf("openai returned empty embedding at index %d", entry.Index)
		}
		vectors[entry.Index] = entry.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("openai response missing embedding for index %d", i)
		}
	}
	return vectors, nil
}

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string {
	return p.cfg.Model
}

var _ Provider = (*OpenAIProvider)(nil)
