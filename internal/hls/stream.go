package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/alorle/hls-proxy/internal/port/driven"
)

// ErrStreamFinished is returned when a StreamProcessor is fed after Finish.
var ErrStreamFinished = errors.New("stream processor already finished")

const pipeChunkSize = 32 * 1024

// StreamProcessor rewrites a playlist that arrives as arbitrary byte chunks.
// Bytes of an incomplete UTF-8 sequence at the end of a chunk are carried to
// the next one, and so is the text after the last newline.
type StreamProcessor struct {
	rewriter  *Rewriter
	scheduler driven.PrefetchScheduler
	decoder   *encoding.Decoder

	carry     []byte
	partial   strings.Builder
	scheduled bool
	finished  bool
}

// NewStreamProcessor creates a streaming processor. A nil scheduler disables
// prebuffering.
func NewStreamProcessor(rewriter *Rewriter, scheduler driven.PrefetchScheduler) *StreamProcessor {
	return &StreamProcessor{
		rewriter:  rewriter,
		scheduler: scheduler,
		decoder:   unicode.UTF8.NewDecoder(),
	}
}

// Feed decodes chunk and returns every line it completes, rewritten and
// terminated by "\n". Invalid UTF-8 is replaced with U+FFFD.
func (s *StreamProcessor) Feed(chunk []byte) ([]string, error) {
	if s.finished {
		return nil, ErrStreamFinished
	}

	text, err := s.decode(chunk, false)
	if err != nil {
		return nil, err
	}

	return s.drainLines(text)
}

// Finish flushes the decoder and returns the remaining lines. A trailing
// fragment without newline is emitted once, rewritten and unterminated.
func (s *StreamProcessor) Finish() ([]string, error) {
	if s.finished {
		return nil, ErrStreamFinished
	}
	s.finished = true

	text, err := s.decode(nil, true)
	if err != nil {
		return nil, err
	}

	out, err := s.drainLines(text)
	if err != nil {
		return nil, err
	}

	fragment := s.partial.String()
	s.partial.Reset()
	if fragment == "" {
		return out, nil
	}

	s.observe(fragment)
	rewritten, err := s.rewriter.RewriteLine(fragment)
	if err != nil {
		return nil, err
	}
	return append(out, rewritten), nil
}

// Pipe reads r until EOF and passes every batch of rewritten output to emit.
// It stops at the first read, rewrite or emit error, or when ctx is done.
func (s *StreamProcessor) Pipe(ctx context.Context, r io.Reader, emit func(string) error) error {
	buf := make([]byte, pipeChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			lines, err := s.Feed(buf[:n])
			if err != nil {
				return err
			}
			if err := emitLines(lines, emit); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read playlist: %w", readErr)
		}
	}

	lines, err := s.Finish()
	if err != nil {
		return err
	}
	return emitLines(lines, emit)
}

func emitLines(lines []string, emit func(string) error) error {
	if len(lines) == 0 {
		return nil
	}
	return emit(strings.Join(lines, ""))
}

// drainLines appends text to the pending fragment and rewrites the lines it
// completes. Only text is searched for the line break.
func (s *StreamProcessor) drainLines(text string) ([]string, error) {
	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		s.partial.WriteString(text)
		return nil, nil
	}

	complete := text[:idx]
	if s.partial.Len() > 0 {
		complete = s.partial.String() + complete
		s.partial.Reset()
	}
	s.partial.WriteString(text[idx+1:])

	lines := strings.Split(complete, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		s.observe(line)
		rewritten, err := s.rewriter.RewriteLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rewritten+"\n")
	}
	return out, nil
}

// observe schedules a prefetch the first time the playlist header shows up.
func (s *StreamProcessor) observe(line string) {
	if s.scheduled || !strings.Contains(line, tagHeader) {
		return
	}
	s.scheduled = true
	schedulePrefetch(s.scheduler, s.rewriter.Context())
}

func (s *StreamProcessor) decode(chunk []byte, atEOF bool) (string, error) {
	src := chunk
	if len(s.carry) > 0 {
		src = append(s.carry, chunk...)
		s.carry = nil
	}
	if len(src) == 0 && !atEOF {
		return "", nil
	}

	// Every invalid byte may expand to the 3-byte replacement character.
	dst := make([]byte, len(src)*3+3)
	var out strings.Builder
	for {
		nDst, nSrc, err := s.decoder.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			dst = make([]byte, len(dst)*2)
		case errors.Is(err, transform.ErrShortSrc):
			s.carry = append([]byte(nil), src...)
			return out.String(), nil
		default:
			return "", fmt.Errorf("failed to decode playlist: %w", err)
		}
	}
}
