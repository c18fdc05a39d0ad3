package application

import (
	"context"
	"fmt"

	"github.com/alorle/hls-proxy/internal/port/driven"
)

// QueueMonitor reports the fill level of the prefetch queue.
type QueueMonitor interface {
	QueueLen() int
	QueueCap() int
}

// BreakerMonitor lists upstream hosts whose circuit is open.
type BreakerMonitor interface {
	Open() []string
}

// HealthService orchestrates health checks for the application and its dependencies.
type HealthService struct {
	store    driven.SegmentStore
	queue    QueueMonitor
	breakers BreakerMonitor
}

// NewHealthService creates a new health check service. Any dependency may be
// nil when the matching feature is disabled.
func NewHealthService(store driven.SegmentStore, queue QueueMonitor, breakers BreakerMonitor) *HealthService {
	return &HealthService{
		store:    store,
		queue:    queue,
		breakers: breakers,
	}
}

// ComponentHealth represents the health status of a single component.
type ComponentHealth struct {
	Status string // "ok", "error" or "disabled"
	Error  string // empty unless status is "error"
}

// HealthStatus represents the overall health status of the application.
type HealthStatus struct {
	Status        string          // "ok" if all components are healthy, "degraded" otherwise
	SegmentStore  ComponentHealth // prefetched segment database
	PrefetchQueue ComponentHealth // background prefetch queue
	// OpenCircuits lists upstream hosts currently refused by the prefetcher.
	OpenCircuits []string
}

// Check performs health checks on all dependencies.
// Returns the overall health status and individual component statuses.
func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:        "ok",
		SegmentStore:  ComponentHealth{Status: "disabled"},
		PrefetchQueue: ComponentHealth{Status: "disabled"},
	}

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			status.SegmentStore = ComponentHealth{Status: "error", Error: err.Error()}
			status.Status = "degraded"
		} else {
			status.SegmentStore = ComponentHealth{Status: "ok"}
		}
	}

	if s.queue != nil {
		if n, capacity := s.queue.QueueLen(), s.queue.QueueCap(); capacity > 0 && n >= capacity {
			status.PrefetchQueue = ComponentHealth{
				Status: "error",
				Error:  fmt.Sprintf("queue full (%d/%d)", n, capacity),
			}
			status.Status = "degraded"
		} else {
			status.PrefetchQueue = ComponentHealth{Status: "ok"}
		}
	}

	// Open circuits only affect prefetching and do not degrade the status.
	if s.breakers != nil {
		status.OpenCircuits = s.breakers.Open()
	}

	return status
}
