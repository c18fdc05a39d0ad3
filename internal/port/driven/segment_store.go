package driven

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSegmentNotFound indicates no cached copy exists for the URL.
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrSegmentExpired indicates the cached copy is older than the store TTL.
	ErrSegmentExpired = errors.New("segment expired")
)

// Segment is a cached media segment keyed by its absolute origin URL.
type Segment struct {
	URL         string
	ContentType string
	Data        []byte
	StoredAt    time.Time
}

// SegmentStore persists prefetched segments.
type SegmentStore interface {
	Get(ctx context.Context, url string) (Segment, error)
	Put(ctx context.Context, seg Segment) error
	// DeleteExpired removes entries older than the store TTL and returns how
	// many were removed.
	DeleteExpired(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
