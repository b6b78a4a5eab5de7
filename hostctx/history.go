// Package hostctx answers the kernel's context requests with the shell's
// recent command history.
package hostctx

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	aish "github.com/Paranoid-AF/aish"
)

// DefaultSize is the number of command lines kept when no size is given.
const DefaultSize = 20

// History is a bounded record of accepted command lines.
type History struct {
	log      *slog.Logger
	redactor *Redactor

	mu    sync.Mutex
	lines []string
	size  int
}

// Option configures a History.
type Option func(*History)

// WithRedaction redacts lines before they are shared, memoizing results for ttl.
func WithRedaction(ttl time.Duration) Option {
	return func(h *History) { h.redactor = NewRedactor(ttl) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *History) { h.log = log }
}

// NewHistory returns a History keeping the last size lines. A size of zero
// uses DefaultSize; a negative size keeps nothing.
func NewHistory(size int, opts ...Option) *History {
	if size == 0 {
		size = DefaultSize
	}
	h := &History{size: max(size, 0), log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "hostctx")
	return h
}

// Add records an accepted line. Blank lines and repeats of the previous line
// are skipped.
func (h *History) Add(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || h.size == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.lines); n > 0 && h.lines[n-1] == line {
		return
	}
	if len(h.lines) == h.size {
		h.lines = append(h.lines[:0:0], h.lines[1:]...)
	}
	h.lines = append(h.lines, line)
}

// Lines returns the recorded lines, oldest first.
func (h *History) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

// Context answers a context request. It returns nil when nothing has been
// recorded, which the channel sends as an empty context.
func (h *History) Context(*aish.AskContext) *aish.PostContext {
	lines := h.Lines()
	if len(lines) == 0 {
		return nil
	}
	if h.redactor != nil {
		lines = h.redactor.RedactAll(lines)
	}
	h.log.Debug("sharing history", "lines", len(lines))
	return &aish.PostContext{CommandHistory: lines}
}

// Close releases the redaction memo.
func (h *History) Close() {
	if h.redactor != nil {
		h.redactor.Close()
	}
}
