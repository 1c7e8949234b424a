package domain

import (
	"context"
	"errors"
	"fmt"
)

// Client fetches spectral-index aggregates from the imagery service.
type Client interface {
	FetchIndex(ctx context.Context, req FetchRequest) (*IndexResult, error)
}

// TokenSource provides a valid bearer token for the imagery service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops the cached token so the next call refreshes.
	Invalidate()
}

// FetchError marks a single index as unavailable. The orchestrator
// absorbs it; sibling fetches continue.
type FetchError struct {
	Index      IndexKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Index, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Index, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var (
	// ErrTokenUnavailable is fatal to the in-flight fetch batch.
	ErrTokenUnavailable = errors.New("imagery_token_unavailable")
	ErrEmptyRaster      = errors.New("imagery_empty_raster")
	ErrInvalidIndex     = errors.New("imagery_invalid_index")
)
