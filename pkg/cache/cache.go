// Package cache defines the response cache consulted by the dispatcher and
// the deterministic key requests are stored under.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pario-ai/sendchat/pkg/models"
)

// Cache stores completion responses by request key.
type Cache interface {
	// Get returns the stored response for key, if any.
	Get(ctx context.Context, key string) (*models.CompletionResponse, bool, error)
	// Put stores resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp *models.CompletionResponse) error
}

// Key computes the SHA-256 hex digest of the canonical JSON encoding of the
// request's supplied parameters. Object keys are sorted at every level, so
// requests that are equal by value always share a key.
func Key(req *models.CompletionRequest) (string, error) {
	data, err := canonicalJSON(req.Params())
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-encodes v through a generic representation. encoding/json
// writes map keys in sorted order, which struct fields do not get.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
