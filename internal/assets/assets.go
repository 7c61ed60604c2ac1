// Package assets implements the Asset Handler: serving a static file body
// straight from blob storage for a path that matches one of a deployment's
// asset entries, without invoking an isolate.
package assets

import (
	"context"
	"fmt"
)

// Fetcher is the blob-store capability this package needs.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Handler serves deployment assets from a blob store.
type Handler struct {
	fetcher Fetcher
}

// New returns a Handler backed by fetcher.
func New(fetcher Fetcher) *Handler {
	return &Handler{fetcher: fetcher}
}

// Serve returns the bytes for the asset at path within deploymentID's
// deployment. The asset's blob-store key is namespaced under the
// deployment id so assets from different deployments never collide even
// if they share a relative path.
func (h *Handler) Serve(ctx context.Context, deploymentID, path string) ([]byte, error) {
	key := fmt.Sprintf("assets/%s/%s", deploymentID, path)
	body, err := h.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("assets: fetch %q: %w", key, err)
	}
	return body, nil
}
