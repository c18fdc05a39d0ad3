package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/alorle/hls-proxy/internal/port/driven"
	"github.com/alorle/hls-proxy/metrics"
)

// SegmentStream is an open media segment, served from the prefetch cache or
// straight from the origin. Callers must close Body.
type SegmentStream struct {
	ContentType string
	Body        io.ReadCloser
	// Cached is true when the bytes come from the segment store.
	Cached bool
}

// SegmentService serves media segments, preferring prefetched copies.
type SegmentService struct {
	store    driven.SegmentStore
	upstream driven.Upstream
	logger   *slog.Logger
}

// NewSegmentService creates a new SegmentService. store may be nil when
// prebuffering is disabled; every request then goes to the origin.
func NewSegmentService(store driven.SegmentStore, upstream driven.Upstream, logger *slog.Logger) *SegmentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentService{
		store:    store,
		upstream: upstream,
		logger:   logger,
	}
}

// Lookup returns the cached copy of destination, if there is a fresh one.
// Store failures count as a miss.
func (s *SegmentService) Lookup(ctx context.Context, destination string) (*SegmentStream, bool) {
	if s.store == nil {
		return nil, false
	}

	seg, err := s.store.Get(ctx, destination)
	if err != nil {
		if !errors.Is(err, driven.ErrSegmentNotFound) && !errors.Is(err, driven.ErrSegmentExpired) {
			s.logger.Warn("segment store lookup failed", "destination", destination, "error", err)
		}
		metrics.RecordSegmentCache(false)
		return nil, false
	}

	metrics.RecordSegmentCache(true)
	return &SegmentStream{
		ContentType: seg.ContentType,
		Body:        io.NopCloser(bytes.NewReader(seg.Data)),
		Cached:      true,
	}, true
}

// Open returns the segment at destination, from the store when possible.
// Returns ErrMissingDestination or ErrInvalidDestination for bad input, and
// the upstream error otherwise.
func (s *SegmentService) Open(ctx context.Context, destination string, headers map[string]string) (*SegmentStream, error) {
	if err := validateDestination(destination); err != nil {
		return nil, err
	}

	if stream, ok := s.Lookup(ctx, destination); ok {
		return stream, nil
	}

	resp, err := s.upstream.Fetch(ctx, destination, headers)
	if err != nil {
		return nil, err
	}

	return &SegmentStream{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}
