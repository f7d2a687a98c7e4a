// Package provider defines the downstream completion capability and the
// closed error classification the dispatcher retries and falls back on.
package provider

import (
	"context"

	"github.com/pario-ai/sendchat/pkg/models"
)

// Provider performs a single chat completion against an upstream model API.
// Streaming requests are accumulated into a complete response.
type Provider interface {
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)
}

// Func adapts an ordinary function to the Provider interface.
type Func func(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	return f(ctx, req)
}
