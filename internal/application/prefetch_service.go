package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"
	"github.com/karlseguin/ccache/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"

	"github.com/alorle/hls-proxy/circuitbreaker"
	"github.com/alorle/hls-proxy/internal/hls"
	"github.com/alorle/hls-proxy/internal/port/driven"
	"github.com/alorle/hls-proxy/logging"
	"github.com/alorle/hls-proxy/metrics"
)

// ErrSegmentTooLarge is returned when a segment exceeds the configured size cap.
var ErrSegmentTooLarge = errors.New("segment exceeds maximum size")

// errNoMediaPlaylist is returned when a master playlist has no usable variant.
var errNoMediaPlaylist = errors.New("no media playlist found")

// Prefetch job outcomes reported to metrics.
const (
	prefetchQueued       = "queued"
	prefetchDeduplicated = "deduplicated"
	prefetchDropped      = "dropped"
	prefetchCompleted    = "completed"
	prefetchFailed       = "failed"
)

const releaseTimeout = 10 * time.Second

// PrefetchConfig holds the prebuffering settings.
type PrefetchConfig struct {
	QueueSize int
	Workers   int
	// Segments is how many segments of a media playlist are fetched ahead.
	Segments int
	// RateLimit caps segment fetches per second across all workers.
	RateLimit      int
	DedupeWindow   time.Duration
	SweepInterval  time.Duration
	MaxSegmentSize int64
}

type prefetchJob struct {
	id          string
	playlistURL string
	headers     map[string]string
}

// PrefetchService warms the segment store for playlists that were just
// rewritten. Scheduling never blocks the rewrite path; failures are logged
// and counted and never reported back.
type PrefetchService struct {
	upstream driven.Upstream
	store    driven.SegmentStore
	breakers *circuitbreaker.Registry
	limiter  ratelimit.Limiter
	recent   *ccache.Cache
	jobs     chan prefetchJob
	cfg      PrefetchConfig
	logger   *slog.Logger

	// scheduleMu makes the dedupe check and the enqueue one step.
	scheduleMu sync.Mutex
	closeOnce  sync.Once
}

// NewPrefetchService creates a new PrefetchService. Close must be called once
// the service is no longer scheduled to.
func NewPrefetchService(
	upstream driven.Upstream,
	store driven.SegmentStore,
	breakers *circuitbreaker.Registry,
	cfg PrefetchConfig,
	logger *slog.Logger,
) *PrefetchService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Segments <= 0 {
		cfg.Segments = 3
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.MaxSegmentSize <= 0 {
		cfg.MaxSegmentSize = 16 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{Logger: logger})
	}

	return &PrefetchService{
		upstream: upstream,
		store:    store,
		breakers: breakers,
		limiter:  ratelimit.New(cfg.RateLimit),
		recent:   ccache.New(ccache.Configure().MaxSize(int64(cfg.QueueSize) * 16)),
		jobs:     make(chan prefetchJob, cfg.QueueSize),
		cfg:      cfg,
		logger:   logger,
	}
}

// Schedule queues playlistURL for prefetching. The request is dropped when
// the queue is full or the same playlist was queued within the dedupe window.
func (s *PrefetchService) Schedule(playlistURL string, headers map[string]string) {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()

	if s.cfg.DedupeWindow > 0 {
		if item := s.recent.Get(playlistURL); item != nil && !item.Expired() {
			metrics.RecordPrefetchJob(prefetchDeduplicated)
			return
		}
	}

	job := prefetchJob{
		id:          uuid.NewString(),
		playlistURL: playlistURL,
		headers:     copyHeaders(headers),
	}

	select {
	case s.jobs <- job:
		if s.cfg.DedupeWindow > 0 {
			s.recent.Set(playlistURL, job.id, s.cfg.DedupeWindow)
		}
		metrics.RecordPrefetchJob(prefetchQueued)
		metrics.SetPrefetchQueueLength(len(s.jobs))
	default:
		metrics.RecordPrefetchJob(prefetchDropped)
		logging.LogPrefetchDropped(s.logger, playlistURL, "queue full")
	}
}

// QueueLen returns the number of jobs waiting to be processed.
func (s *PrefetchService) QueueLen() int {
	return len(s.jobs)
}

// QueueCap returns the queue capacity.
func (s *PrefetchService) QueueCap() int {
	return cap(s.jobs)
}

// Run processes queued jobs and sweeps expired segments until ctx is done.
// Segment downloads run on a bounded worker pool that is drained before Run
// returns.
func (s *PrefetchService) Run(ctx context.Context) error {
	pool, err := ants.NewPool(s.cfg.Workers)
	if err != nil {
		return fmt.Errorf("failed to create prefetch worker pool: %w", err)
	}
	defer func() {
		if err := pool.ReleaseTimeout(releaseTimeout); err != nil {
			s.logger.Warn("prefetch workers did not stop in time", "error", err)
		}
	}()

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	s.logger.Info("prefetch worker started",
		"workers", s.cfg.Workers,
		"queue_size", s.cfg.QueueSize,
		"segments", s.cfg.Segments)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("prefetch worker stopped")
			return nil

		case job := <-s.jobs:
			metrics.SetPrefetchQueueLength(len(s.jobs))
			s.process(ctx, pool, job)

		case <-sweep.C:
			s.sweep(ctx)
		}
	}
}

// Close stops the dedupe cache. Schedule must not be called afterwards.
func (s *PrefetchService) Close() {
	s.closeOnce.Do(s.recent.Stop)
}

func (s *PrefetchService) process(ctx context.Context, pool *ants.Pool, job prefetchJob) {
	segments, err := s.resolveSegments(ctx, job)
	if err != nil {
		metrics.RecordPrefetchJob(prefetchFailed)
		logging.LogPrefetchFailed(s.logger, job.id, job.playlistURL, err)
		return
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error

	for _, segURL := range segments {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := s.fetchSegment(ctx, job, segURL); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failures = append(failures, fmt.Errorf("failed to submit segment fetch: %w", submitErr))
			mu.Unlock()
			break
		}
	}
	wg.Wait()

	if len(failures) > 0 {
		metrics.RecordPrefetchJob(prefetchFailed)
		logging.LogPrefetchFailed(s.logger, job.id, job.playlistURL, errors.Join(failures...))
		return
	}

	metrics.RecordPrefetchJob(prefetchCompleted)
	s.logger.Debug("prefetch job completed",
		"job_id", job.id,
		"playlist_url", job.playlistURL,
		"segments", len(segments))
}

// resolveSegments returns the absolute URLs of the first segments of the
// job's playlist. A master playlist is followed one level down to its
// highest-bandwidth variant.
func (s *PrefetchService) resolveSegments(ctx context.Context, job prefetchJob) ([]string, error) {
	playlistURL := job.playlistURL

	for depth := 0; depth < 2; depth++ {
		pl, listType, base, err := s.fetchPlaylist(ctx, playlistURL, job.headers)
		if err != nil {
			return nil, err
		}

		switch listType {
		case m3u8.MEDIA:
			return s.mediaSegments(pl.(*m3u8.MediaPlaylist), base), nil

		case m3u8.MASTER:
			variant := bestVariant(pl.(*m3u8.MasterPlaylist))
			if variant == nil {
				return nil, errNoMediaPlaylist
			}
			playlistURL = hls.ResolveURL(variant.URI, base)
		}
	}

	return nil, errNoMediaPlaylist
}

func (s *PrefetchService) fetchPlaylist(ctx context.Context, playlistURL string, headers map[string]string) (m3u8.Playlist, m3u8.ListType, string, error) {
	var (
		pl       m3u8.Playlist
		listType m3u8.ListType
		base     string
	)

	err := s.breakers.ForURL(playlistURL).Execute(func() error {
		resp, err := s.upstream.Fetch(ctx, playlistURL, headers)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		base = resp.URL
		if base == "" {
			base = playlistURL
		}

		pl, listType, err = m3u8.DecodeFrom(resp.Body, false)
		if err != nil {
			return fmt.Errorf("failed to decode playlist: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, "", err
	}

	return pl, listType, base, nil
}

func (s *PrefetchService) mediaSegments(pl *m3u8.MediaPlaylist, base string) []string {
	urls := make([]string, 0, s.cfg.Segments)
	for _, seg := range pl.Segments {
		if seg == nil || len(urls) == s.cfg.Segments {
			break
		}
		if seg.URI == "" {
			continue
		}
		urls = append(urls, hls.ResolveURL(seg.URI, base))
	}
	return urls
}

func bestVariant(pl *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range pl.Variants {
		if v == nil || v.URI == "" || v.Iframe {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func (s *PrefetchService) fetchSegment(ctx context.Context, job prefetchJob, segURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.store.Get(ctx, segURL); err == nil {
		return nil
	}

	s.limiter.Take()

	var (
		data        []byte
		contentType string
	)
	err := s.breakers.ForURL(segURL).Execute(func() error {
		resp, err := s.upstream.Fetch(ctx, segURL, job.headers)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		contentType = resp.Header.Get("Content-Type")
		data, err = io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxSegmentSize+1))
		if err != nil {
			return fmt.Errorf("failed to read segment: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", segURL, err)
	}

	if int64(len(data)) > s.cfg.MaxSegmentSize {
		return fmt.Errorf("%s: %w", segURL, ErrSegmentTooLarge)
	}

	if err := s.store.Put(ctx, driven.Segment{
		URL:         segURL,
		ContentType: contentType,
		Data:        data,
	}); err != nil {
		return fmt.Errorf("failed to store segment %s: %w", segURL, err)
	}

	return nil
}

func (s *PrefetchService) sweep(ctx context.Context) {
	removed, err := s.store.DeleteExpired(ctx)
	if err != nil {
		s.logger.Warn("failed to remove expired segments", "error", err)
		return
	}
	if removed > 0 {
		logging.LogSegmentsSwept(s.logger, removed)
	}
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}
