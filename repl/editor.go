package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/Paranoid-AF/aish/predict"
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// Editor is a minimal line editor with cursor tracking. The channel may
// insert text into the line from another goroutine while ReadLine runs.
type Editor struct {
	in     io.Reader
	out    io.Writer
	closer func()

	keys    chan byte
	readErr error // set before keys is closed

	accept chan struct{}

	mu        sync.Mutex
	buf       []byte
	pos       int // cursor byte offset into buf
	prompt    string
	capturing bool
	predictor *predict.Manager
	filter    string // text typed before Tab cycling started
	shown     string // candidate Tab last placed in buf
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	e := newEditor(tty, tty)
	e.closer = func() {
		term.Restore(int(tty.Fd()), old)
		tty.Close()
	}
	return e, nil
}

func newEditor(in io.Reader, out io.Writer) *Editor {
	e := &Editor{
		in:     in,
		out:    out,
		keys:   make(chan byte, 64),
		accept: make(chan struct{}, 1),
	}
	go e.readKeys()
	return e
}

// readKeys forwards input bytes so ReadLine can also wait for AcceptLine.
func (e *Editor) readKeys() {
	var chunk [64]byte
	for {
		n, err := e.in.Read(chunk[:])
		for _, b := range chunk[:n] {
			e.keys <- b
		}
		if err != nil {
			e.readErr = err
			close(e.keys)
			return
		}
	}
}

// Close restores terminal state and closes the tty.
func (e *Editor) Close() {
	if e.closer != nil {
		e.closer()
	}
}

// Output returns the writer used for prompts and UI.
func (e *Editor) Output() io.Writer {
	return e.out
}

// SetPredictor enables Tab to cycle through m's candidates.
func (e *Editor) SetPredictor(m *predict.Manager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predictor = m
}

// Printf writes UI text above the prompt and redraws the line being edited.
// Line breaks are written as CRLF.
func (e *Editor) Printf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capturing {
		fmt.Fprint(e.out, "\r\x1b[K")
	}
	fmt.Fprint(e.out, crlf(fmt.Sprintf(format, args...)))
	if e.capturing {
		e.redraw()
	}
}

// CapturingInput reports whether ReadLine is waiting for input.
func (e *Editor) CapturingInput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capturing
}

// Insert inserts text at the cursor.
func (e *Editor) Insert(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insert([]byte(text))
	if e.capturing {
		e.redraw()
	}
}

// RevertLine discards the line being edited.
func (e *Editor) RevertLine() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = e.buf[:0]
	e.pos = 0
	if e.capturing {
		e.redraw()
	}
}

// AcceptLine makes the pending ReadLine return the current line.
func (e *Editor) AcceptLine() {
	select {
	case e.accept <- struct{}{}:
	default:
	}
}

// ReadLine displays the prompt and reads a line with full cursor tracking.
// Returns io.EOF when the user presses Ctrl-D on empty input.
func (e *Editor) ReadLine(prompt string) (string, error) {
	e.mu.Lock()
	e.buf = e.buf[:0]
	e.shown = ""
	e.pos = 0
	e.prompt = prompt
	e.capturing = true
	e.redraw()
	e.mu.Unlock()

	// A stale accept request must not end this line.
	select {
	case <-e.accept:
	default:
	}

	defer func() {
		e.mu.Lock()
		e.capturing = false
		e.mu.Unlock()
	}()

	for {
		select {
		case <-e.accept:
			return e.finish(), nil
		case b, ok := <-e.keys:
			if !ok {
				return "", e.readErr
			}
			line, done, err := e.handleKey(b)
			if done {
				return line, err
			}
		}
	}
}

func (e *Editor) finish() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprint(e.out, "\r\n")
	return string(e.buf)
}

// next reads one more byte of a multi-byte key.
func (e *Editor) next() (byte, bool) {
	b, ok := <-e.keys
	return b, ok
}

func (e *Editor) handleKey(b byte) (line string, done bool, err error) {
	switch b {
	case 3: // Ctrl-C
		e.mu.Lock()
		fmt.Fprint(e.out, "\r\n")
		e.mu.Unlock()
		return "", true, ErrInterrupt

	case 4: // Ctrl-D
		e.mu.Lock()
		empty := len(e.buf) == 0
		e.mu.Unlock()
		if empty {
			e.mu.Lock()
			fmt.Fprint(e.out, "\r\n")
			e.mu.Unlock()
			return "", true, io.EOF
		}
		return "", false, nil

	case 13, 10: // Enter
		return e.finish(), true, nil

	case 9: // Tab
		e.cycleCandidate()
		return "", false, nil

	case 27: // Escape sequence
		e.handleEscape()
		return "", false, nil
	}

	// Collect the rest of a UTF-8 sequence before taking the lock.
	ch := []byte{b}
	for i := 1; i < utf8RuneLen(b); i++ {
		c, ok := e.next()
		if !ok {
			break
		}
		ch = append(ch, c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch b {
	case 127, 8: // Backspace / Ctrl-H
		if e.pos > 0 {
			_, size := prevRune(e.buf, e.pos)
			copy(e.buf[e.pos-size:], e.buf[e.pos:])
			e.buf = e.buf[:len(e.buf)-size]
			e.pos -= size
		}

	case 1: // Ctrl-A (Home)
		e.pos = 0

	case 5: // Ctrl-E (End)
		e.pos = len(e.buf)

	case 21: // Ctrl-U (clear line)
		e.buf = e.buf[:0]
		e.pos = 0

	default: // Printable character
		if b < 32 {
			return "", false, nil
		}
		e.insert(ch)
	}
	e.redraw()
	return "", false, nil
}

func (e *Editor) handleEscape() {
	b, ok := e.next()
	if !ok || b != '[' {
		return
	}
	code, ok := e.next()
	if !ok {
		return
	}
	// \x1b[3~, \x1b[1~ and \x1b[4~ carry a trailing '~'
	if code == '3' || code == '1' || code == '4' {
		e.next()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch code {
	case 'D': // Left
		if e.pos > 0 {
			_, size := prevRune(e.buf, e.pos)
			e.pos -= size
		}
	case 'C': // Right
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			e.pos += size
		}
	case 'H', '1': // Home
		e.pos = 0
	case 'F', '4': // End
		e.pos = len(e.buf)
	case '3': // Delete
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			copy(e.buf[e.pos:], e.buf[e.pos+size:])
			e.buf = e.buf[:len(e.buf)-size]
		}
	}
	e.redraw()
}

// cycleCandidate replaces the line with the next prediction candidate. With
// text typed, only candidates starting with that text take part.
func (e *Editor) cycleCandidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.predictor == nil {
		return
	}
	if e.shown == "" || string(e.buf) != e.shown {
		e.filter = string(e.buf)
	}

	var c predict.Candidate
	if e.filter == "" {
		next, ok := e.predictor.Next()
		if !ok {
			return
		}
		c = next
	} else {
		matches := e.predictor.Suggest(e.filter)
		if len(matches) == 0 {
			return
		}
		i := slices.IndexFunc(matches, func(m predict.Candidate) bool { return m.Code == e.shown })
		c = matches[(i+1)%len(matches)]
	}

	e.shown = c.Code
	e.buf = append(e.buf[:0], c.Code...)
	e.pos = len(e.buf)
	e.redraw()
	if c.Tooltip != "" {
		fmt.Fprintf(e.out, "\x1b7\r\n\x1b[K  # %s\x1b8", c.Tooltip)
	}
}

// insert splices p into buf at the cursor. Callers hold e.mu.
func (e *Editor) insert(p []byte) {
	e.buf = append(e.buf, make([]byte, len(p))...)
	copy(e.buf[e.pos+len(p):], e.buf[e.pos:len(e.buf)-len(p)])
	copy(e.buf[e.pos:], p)
	e.pos += len(p)
}

// redraw clears the current line and redraws prompt + buffer with cursor.
// Callers hold e.mu.
func (e *Editor) redraw() {
	// Multi-line inserts are shown with CRLF so raw mode keeps the column.
	fmt.Fprintf(e.out, "\r\x1b[K%s%s", e.prompt, crlf(string(e.buf)))

	// Move cursor back to the correct position
	tailLen := utf8.RuneCount(e.buf[e.pos:])
	if tailLen > 0 {
		fmt.Fprintf(e.out, "\x1b[%dD", tailLen)
	}
}

// prevRune returns the rune and byte size of the rune before pos.
func prevRune(buf []byte, pos int) (rune, int) {
	if pos <= 0 {
		return 0, 0
	}
	// Walk back to find the start of the rune
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	return utf8.DecodeRune(buf[i:pos])
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}
