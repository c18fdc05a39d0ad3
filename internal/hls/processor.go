package hls

import (
	"strings"

	"github.com/alorle/hls-proxy/internal/port/driven"
)

// Processor rewrites whole playlists held in memory.
type Processor struct {
	rewriter  *Rewriter
	scheduler driven.PrefetchScheduler
}

// NewProcessor creates a bulk processor. A nil scheduler disables prebuffering.
func NewProcessor(rewriter *Rewriter, scheduler driven.PrefetchScheduler) *Processor {
	return &Processor{rewriter: rewriter, scheduler: scheduler}
}

// Process rewrites every line of content and joins the result with "\n",
// keeping the line count and order of the input. A playlist carrying the
// #EXTM3U header is handed to the prefetch scheduler once every line was
// rewritten.
func (p *Processor) Process(content string) (string, error) {
	lines := strings.Split(content, "\n")
	var result strings.Builder
	result.Grow(len(content))

	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}
		rewritten, err := p.rewriter.RewriteLine(line)
		if err != nil {
			return "", err
		}
		result.WriteString(rewritten)
	}

	if strings.Contains(content, tagHeader) {
		schedulePrefetch(p.scheduler, p.rewriter.Context())
	}

	return result.String(), nil
}

// schedulePrefetch hands the playlist to the scheduler without waiting on it.
func schedulePrefetch(scheduler driven.PrefetchScheduler, c Context) {
	if scheduler == nil || c.BaseURL == "" {
		return
	}
	scheduler.Schedule(c.BaseURL, c.Headers)
}
