package hls

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"testing/iotest"
)

const streamFixture = "#EXTM3U\n" +
	"#EXT-X-VERSION:3\n" +
	"#EXT-X-STREAM-INF:BANDWIDTH=100,NAME=\"Spañol 日本\"\n" +
	"/v.m3u8\n" +
	`#EXT-X-KEY:METHOD=AES-128,URI="clé.bin"` + "\n" +
	"#EXTINF:4.0,Ünïcödé title\n" +
	"seg-€.ts\n" +
	"tail.ts"

func runChunks(t *testing.T, r *Rewriter, data []byte, size int) string {
	t.Helper()

	s := NewStreamProcessor(r, nil)
	var out strings.Builder
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		lines, err := s.Feed(data[start:end])
		if err != nil {
			t.Fatalf("unexpected feed error: %v", err)
		}
		for _, l := range lines {
			out.WriteString(l)
		}
	}
	lines, err := s.Finish()
	if err != nil {
		t.Fatalf("unexpected finish error: %v", err)
	}
	for _, l := range lines {
		out.WriteString(l)
	}
	return out.String()
}

func TestStreamMatchesBulkForEveryChunkSize(t *testing.T) {
	r := newTestRewriter(RoutingProxy, Context{})
	bulk, err := NewProcessor(r, nil).Process(streamFixture)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := []byte(streamFixture)
	for size := 1; size <= len(data); size++ {
		if got := runChunks(t, r, data, size); got != bulk {
			t.Fatalf("chunk size %d: expected %q, got %q", size, bulk, got)
		}
	}
}

func TestStreamMultiByteSplitAcrossChunks(t *testing.T) {
	r := newTestRewriter(RoutingDirect, Context{})
	s := NewStreamProcessor(r, nil)

	euro := []byte("€") // 3 bytes
	first := append([]byte("#EXTINF:1,"), euro[:1]...)
	second := append(append([]byte{}, euro[1:]...), []byte("\n")...)

	lines, err := s.Feed(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no complete lines, got %v", lines)
	}

	lines, err = s.Feed(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0] != "#EXTINF:1,€\n" {
		t.Errorf("expected decoded line, got %q", lines)
	}
}

func TestStreamInvalidUTF8IsReplaced(t *testing.T) {
	r := newTestRewriter(RoutingDirect, Context{})
	s := NewStreamProcessor(r, nil)

	if _, err := s.Feed([]byte("#EXTINF:1,\xff\n#EXTINF:2,\xe2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines, err := s.Finish()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0] != "#EXTINF:2,�" {
		t.Errorf("expected dangling bytes flushed as replacement, got %q", lines)
	}
}

func TestStreamTrailingFragment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"fragment without newline is emitted unterminated", "#EXTM3U\na.ts", "#EXTM3U\nhttps://o.example/live/a.ts"},
		{"terminated input emits nothing extra", "#EXTM3U\na.ts\n", "#EXTM3U\nhttps://o.example/live/a.ts\n"},
		{"empty input emits nothing", "", ""},
		{"blank lines are kept", "\n\n", "\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRewriter(RoutingDirect, Context{})
			if got := runChunks(t, r, []byte(tt.input), 2); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStreamLongLineAcrossManyChunks(t *testing.T) {
	name := strings.Repeat("a", 64*1024) + ".ts"
	input := "#EXTM3U\n#EXTINF:1,\n" + name + "\nb.ts\n"

	r := newTestRewriter(RoutingDirect, Context{})
	got := runChunks(t, r, []byte(input), 7)

	expected := "#EXTM3U\n#EXTINF:1,\nhttps://o.example/live/" + name + "\nhttps://o.example/live/b.ts\n"
	if got != expected {
		t.Errorf("expected %d bytes of output, got %d", len(expected), len(got))
	}
}

func TestStreamFeedAfterFinish(t *testing.T) {
	s := NewStreamProcessor(newTestRewriter(RoutingProxy, Context{}), nil)
	if _, err := s.Finish(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Feed([]byte("a")); !errors.Is(err, ErrStreamFinished) {
		t.Errorf("expected ErrStreamFinished, got %v", err)
	}
	if _, err := s.Finish(); !errors.Is(err, ErrStreamFinished) {
		t.Errorf("expected ErrStreamFinished, got %v", err)
	}
}

func TestStreamSchedulesPrefetchOnce(t *testing.T) {
	scheduler := &mockScheduler{}
	s := NewStreamProcessor(newTestRewriter(RoutingProxy, Context{}), scheduler)

	for _, chunk := range []string{"#EXT", "M3U\n#EXTINF:1,\n", "a.ts\n#EXTM3U\n"} {
		if _, err := s.Feed([]byte(chunk)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := s.Finish(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if scheduler.count() != 1 {
		t.Errorf("expected 1 scheduled job, got %d", scheduler.count())
	}
}

func TestStreamPipe(t *testing.T) {
	r := newTestRewriter(RoutingProxy, Context{})
	bulk, err := NewProcessor(r, nil).Process(streamFixture)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out bytes.Buffer
	reader := iotest.OneByteReader(strings.NewReader(streamFixture))
	err = NewStreamProcessor(r, nil).Pipe(context.Background(), reader, func(s string) error {
		out.WriteString(s)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != bulk {
		t.Errorf("expected %q, got %q", bulk, out.String())
	}
}

func TestStreamPipeErrors(t *testing.T) {
	t.Run("read error is returned", func(t *testing.T) {
		s := NewStreamProcessor(newTestRewriter(RoutingProxy, Context{}), nil)
		boom := errors.New("connection reset")
		reader := io.MultiReader(strings.NewReader("#EXTM3U\n"), iotest.ErrReader(boom))

		err := s.Pipe(context.Background(), reader, func(string) error { return nil })
		if !errors.Is(err, boom) {
			t.Errorf("expected read error, got %v", err)
		}
	})

	t.Run("emit error stops the pipe", func(t *testing.T) {
		s := NewStreamProcessor(newTestRewriter(RoutingProxy, Context{}), nil)
		closed := errors.New("client gone")

		err := s.Pipe(context.Background(), strings.NewReader("#EXTM3U\na.ts\n"), func(string) error { return closed })
		if !errors.Is(err, closed) {
			t.Errorf("expected emit error, got %v", err)
		}
	})

	t.Run("cancelled context stops before reading", func(t *testing.T) {
		s := NewStreamProcessor(newTestRewriter(RoutingProxy, Context{}), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := s.Pipe(ctx, strings.NewReader("#EXTM3U\n"), func(string) error {
			t.Error("emit should not be called")
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("encode failure mid-stream is returned", func(t *testing.T) {
		r := NewRewriter(Options{
			ProxyBase: testProxyBase,
			Encoder: &mockEncoder{EncodeFunc: func(string, string, url.Values, bool) (string, error) {
				return "", errors.New("no key")
			}},
		}, Context{BaseURL: testBase})

		var emitted []string
		err := NewStreamProcessor(r, nil).Pipe(context.Background(), iotest.OneByteReader(strings.NewReader("#EXTM3U\n#EXTINF:1,\nseg.ts\n")), func(s string) error {
			emitted = append(emitted, s)
			return nil
		})
		if !errors.Is(err, ErrEncode) {
			t.Errorf("expected ErrEncode, got %v", err)
		}
		if len(emitted) == 0 {
			t.Error("expected header lines to be emitted before the failure")
		}
	})
}
