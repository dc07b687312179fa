// Package interfaces defines the seams between the crawler, the HLS
// pipeline and the portal transport, so each can be tested in isolation.
package interfaces

import (
	"context"

	"course-portal-go/pkg/types"
)

// ContentExtractor parses one listing page into content records.
//
// The probe supplies the parent context (parent id, parent title, depth and
// section) that every returned record inherits. A page with no items yields
// an empty slice and no error. Items that cannot be parsed are skipped.
type ContentExtractor interface {
	Extract(page []byte, parent types.Probe) ([]*types.ContentRecord, error)
}

// PageFetcher retrieves the listing page a probe points at.
type PageFetcher interface {
	FetchPage(ctx context.Context, probe types.Probe) ([]byte, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, probe types.Probe) ([]byte, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, probe types.Probe) ([]byte, error) {
	return f(ctx, probe)
}

// ByteFetcher retrieves the body of an absolute URL.
type ByteFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// ByteFetcherFunc adapts a function to ByteFetcher.
type ByteFetcherFunc func(ctx context.Context, url string) ([]byte, error)

// FetchBytes calls f.
func (f ByteFetcherFunc) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}
