package streaming

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrWriteTimeout indicates a write operation timed out.
	ErrWriteTimeout = errors.New("write timeout")
)

// TimeoutWriter wraps an io.Writer and enforces a per-write deadline.
// When dst is an http.ResponseWriter every write also flushes, so rewritten
// playlist lines reach the player as soon as they are produced.
type TimeoutWriter struct {
	dst          io.Writer
	rc           *http.ResponseController
	timeout      time.Duration
	logger       *slog.Logger
	requestID    string
	bytesWritten int64
}

// NewTimeoutWriter creates a new timeout-aware writer. requestID is only used
// to correlate log lines.
func NewTimeoutWriter(dst io.Writer, timeout time.Duration, logger *slog.Logger, requestID string) *TimeoutWriter {
	if logger == nil {
		logger = slog.Default()
	}
	tw := &TimeoutWriter{
		dst:       dst,
		timeout:   timeout,
		logger:    logger,
		requestID: requestID,
	}
	if rw, ok := dst.(http.ResponseWriter); ok {
		tw.rc = http.NewResponseController(rw)
	}
	return tw
}

// Write writes p to the underlying writer. A write that fails because the
// deadline passed returns an error wrapping ErrWriteTimeout.
func (tw *TimeoutWriter) Write(p []byte) (n int, err error) {
	if tw.rc != nil && tw.timeout > 0 {
		if err := tw.rc.SetWriteDeadline(time.Now().Add(tw.timeout)); err != nil {
			// Not every ResponseWriter supports deadlines; the write goes ahead.
			tw.logger.Debug("failed to set write deadline",
				"request_id", tw.requestID,
				"error", err)
		}
	}

	n, err = tw.dst.Write(p)
	tw.bytesWritten += int64(n)

	if err != nil {
		if isTimeoutError(err) {
			tw.logger.Warn("slow client detected - write timeout",
				"request_id", tw.requestID,
				"timeout", tw.timeout,
				"bytes_written", tw.bytesWritten,
				"error", err)
			return n, fmt.Errorf("%w: %w", ErrWriteTimeout, err)
		}
		return n, err
	}

	if tw.rc != nil {
		if err := tw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return n, err
		}
	}

	return n, nil
}

// BytesWritten returns the total number of bytes written successfully.
func (tw *TimeoutWriter) BytesWritten() int64 {
	return tw.bytesWritten
}

// isTimeoutError checks if an error is a timeout error.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	type timeoutError interface {
		Timeout() bool
	}

	var te timeoutError
	if errors.As(err, &te) && te.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline")
}
