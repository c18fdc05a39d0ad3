package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/alorle/hls-proxy/circuitbreaker"
	"github.com/alorle/hls-proxy/config"
	"github.com/alorle/hls-proxy/internal/adapter/driven"
	"github.com/alorle/hls-proxy/internal/adapter/driver"
	"github.com/alorle/hls-proxy/internal/api"
	"github.com/alorle/hls-proxy/internal/application"
	"github.com/alorle/hls-proxy/internal/hls"
	portdriven "github.com/alorle/hls-proxy/internal/port/driven"
	"github.com/alorle/hls-proxy/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("hlsproxy exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Resilience.LogLevel), os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting hlsproxy", cfg.LogArgs()...)

	policy, err := hls.ParseRoutingPolicy(cfg.HLS.ContentRouting)
	if err != nil {
		return err
	}

	codec, err := driven.NewProxyURLCodec(cfg.HLS.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create url codec: %w", err)
	}
	upstream := driven.NewUpstreamHTTPAdapter(cfg.Upstream.Timeout, cfg.Upstream.MaxRedirects, cfg.Upstream.UserAgent, logger)

	// Prebuffering is optional; the interfaces below stay untyped nil when off.
	var (
		store     portdriven.SegmentStore
		scheduler portdriven.PrefetchScheduler
		queue     application.QueueMonitor
		monitor   application.BreakerMonitor
		prefetch  *application.PrefetchService
	)
	if cfg.Prebuffer.Enabled {
		db, err := bbolt.Open(cfg.Prebuffer.DBPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}()

		segmentStore, err := driven.NewSegmentBoltDBStore(db, cfg.Prebuffer.SegmentTTL)
		if err != nil {
			return fmt.Errorf("failed to create segment store: %w", err)
		}

		breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: cfg.Resilience.CBFailureThreshold,
			Timeout:          cfg.Resilience.CBTimeout,
			HalfOpenRequests: cfg.Resilience.CBHalfOpenRequests,
			Logger:           logger,
		})

		prefetch = application.NewPrefetchService(upstream, segmentStore, breakers, application.PrefetchConfig{
			QueueSize:      cfg.Prebuffer.QueueSize,
			Workers:        cfg.Prebuffer.Workers,
			Segments:       cfg.Prebuffer.Segments,
			RateLimit:      cfg.Prebuffer.RateLimit,
			DedupeWindow:   cfg.Prebuffer.DedupeWindow,
			SweepInterval:  cfg.Prebuffer.SweepInterval,
			MaxSegmentSize: int64(cfg.Prebuffer.MaxSegmentSize),
		}, logger)
		defer prefetch.Close()

		store, scheduler, queue, monitor = segmentStore, prefetch, prefetch, breakers
	}

	segments := application.NewSegmentService(store, upstream, logger)
	manifests := application.NewManifestService(upstream, codec, driven.NewStremioEncoder(), scheduler, segments, application.ManifestConfig{
		Policy:       policy,
		ExternalBase: cfg.HLS.StremioProxyURL,
		Streaming:    cfg.HLS.StreamingRewrite,
	}, logger)
	health := application.NewHealthService(store, queue, monitor)

	swagger, err := api.GetSwagger()
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI document: %w", err)
	}

	// Bodies are streamed, so the server itself has no write timeout and the
	// handlers set a deadline per write instead.
	writeTimeout := cfg.HTTP.WriteTimeout
	router := driver.NewRouter(driver.Handlers{
		Manifest: driver.NewManifestHTTPHandler(manifests, codec, cfg.HTTP.PublicURL, writeTimeout, logger),
		Variants: driver.NewVariantsHTTPHandler(manifests, codec, logger),
		Stream:   driver.NewStreamHTTPHandler(segments, codec, writeTimeout, logger),
		Health:   driver.NewHealthHTTPHandler(health, logger),
	}, swagger, logger)

	server := &http.Server{
		Addr:        net.JoinHostPort(cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:     router,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout: cfg.HTTP.IdleTimeout,
		ErrorLog:    slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if prefetch != nil {
		g.Go(func() error {
			return prefetch.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
