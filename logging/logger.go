package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel converts a level name to a slog.Level. Unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a JSON logger writing to w at the given level
func New(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Event identifies a resilience or background-work event in the log stream
type Event string

// Event constants identify prefetch and circuit breaker events
const (
	EventCircuitBreakerChange Event = "circuit_breaker_change" // EventCircuitBreakerChange indicates circuit breaker state transition
	EventPrefetchDropped      Event = "prefetch_dropped"       // EventPrefetchDropped indicates a prefetch request that was not queued
	EventPrefetchFailed       Event = "prefetch_failed"        // EventPrefetchFailed indicates a prefetch job that gave up
	EventSegmentsSwept        Event = "segments_swept"         // EventSegmentsSwept indicates expired segments were removed
)

// LogCircuitBreakerChange logs a circuit breaker state change (WARN level)
func LogCircuitBreakerChange(logger *slog.Logger, oldState, newState, host string) {
	if logger == nil {
		return
	}
	args := []any{"event", EventCircuitBreakerChange, "old_state", oldState, "new_state", newState}
	if host != "" {
		args = append(args, "host", host)
	}
	logger.Warn("circuit breaker state changed", args...)
}

// LogPrefetchDropped logs a prefetch request that was discarded (WARN level)
func LogPrefetchDropped(logger *slog.Logger, playlistURL, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("prefetch request dropped", "event", EventPrefetchDropped, "playlist_url", playlistURL, "reason", reason)
}

// LogPrefetchFailed logs a prefetch job that could not complete (WARN level)
func LogPrefetchFailed(logger *slog.Logger, jobID, playlistURL string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("prefetch job failed", "event", EventPrefetchFailed, "job_id", jobID, "playlist_url", playlistURL, "error", err)
}

// LogSegmentsSwept logs the result of an expired segment sweep (DEBUG level)
func LogSegmentsSwept(logger *slog.Logger, removed int) {
	if logger == nil {
		return
	}
	logger.Debug("expired segments removed", "event", EventSegmentsSwept, "removed", removed)
}
