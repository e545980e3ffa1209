// Package embedding adapts external embedding backends behind a single
// Provider interface. Providers are optional: callers probe Available
// before embedding and fall back to keyword search when no backend is
// configured or reachable.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnconfigured is returned by the disabled provider for every embed
// call. Callers treat it like any other provider failure.
var ErrUnconfigured = errors.New("no embedding provider configured")

// ProviderError wraps a backend failure with the provider and operation
// that produced it. The service layer catches these and degrades to
// keyword search instead of failing the request.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Provider generates vector embeddings for memory content.
type Provider interface {
	// Available reports whether the backend is reachable and ready to
	// serve embeddings. It must be cheap enough to call per request.
	Available(ctx context.Context) bool

	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the backend model identifier, recorded alongside
	// stored vectors so stale embeddings can be detected.
	Model() string
}

// Disabled is the no-op provider used when no backend is configured.
// Available always reports false and every embed call fails with
// ErrUnconfigured.
type Disabled struct{}

// NewDisabled returns the no-op provider.
func NewDisabled() *Disabled {
	return &Disabled{}
}

func (*Disabled) Available(context.Context) bool {
	return false
}

func (*Disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, &ProviderError{Provider: "disabled", Op: "embed", Err: ErrUnconfigured}
}

func (*Disabled) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, &ProviderError{Provider: "disabled", Op: "embed_batch", Err: ErrUnconfigured}
}

func (*Disabled) Model() string {
	return "none"
}

var _ Provider = (*Disabled)(nil)
