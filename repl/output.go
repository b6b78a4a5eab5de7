package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	"github.com/Paranoid-AF/aish/integration"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// Entry is one transcript record.
type Entry struct {
	Timestamp time.Time `toml:"timestamp"`
	Kind      string    `toml:"kind"`
	Query     string    `toml:"query,omitempty"`
	Agent     string    `toml:"agent,omitempty"`
	Code      string    `toml:"code,omitempty"`
}

// Transcript writes queries and inserted code to w as TOML
// [[entry]] tables.
type Transcript struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewTranscript returns a transcript writing to w. A nil w discards.
func NewTranscript(w io.Writer) *Transcript {
	if w == nil {
		w = io.Discard
	}
	return &Transcript{w: w, now: time.Now}
}

func (t *Transcript) write(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.Timestamp = t.now().UTC().Truncate(time.Second)
	return toml.NewEncoder(t.w).Encode(struct {
		Entry []Entry `toml:"entry"`
	}{[]Entry{e}})
}

// Query records a query sent to the kernel.
func (t *Transcript) Query(query, agent string) error {
	return t.write(Entry{Kind: "query", Query: query, Agent: agent})
}

// Code records text the kernel inserted into the line.
func (t *Transcript) Code(code string) error {
	return t.write(Entry{Kind: "code", Code: code})
}

// recordingEditor logs every insert to a transcript before passing it on.
type recordingEditor struct {
	*Editor
	transcript *Transcript
}

var (
	_ integration.LineEditor    = (*recordingEditor)(nil)
	_ integration.InputCapturer = (*recordingEditor)(nil)
)

func (r *recordingEditor) Insert(text string) {
	r.transcript.Code(text)
	r.Editor.Insert(text)
}
