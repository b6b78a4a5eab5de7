package pipe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	aish "github.com/Paranoid-AF/aish"
)

// WriteTimeout bounds a single message write so a stalled peer cannot block
// the caller indefinitely.
const WriteTimeout = 10 * time.Second

var (
	// ErrNotConnected is returned when sending on an endpoint that is not open.
	ErrNotConnected = errors.New("pipe is not connected or has been closed")
	// ErrHandshakeTimeout is returned when the peer does not connect in time.
	ErrHandshakeTimeout = errors.New("peer did not connect within the timeout period")
	// ErrUnexpectedMessage is returned when a message arrives out of protocol order.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrUnknownMessageType is returned for frames outside the vocabulary.
	ErrUnknownMessageType = aish.ErrUnknownType
)

// endpoint is one end of a socket connection carrying NDJSON envelopes.
type endpoint struct {
	name string
	log  *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool // Close was called
	hungUp bool // the peer went away

	writeMu sync.Mutex
}

// Name returns the endpoint name.
func (e *endpoint) Name() string { return e.name }

// Connected reports whether the endpoint holds a live connection.
func (e *endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil && !e.closed && !e.hungUp
}

// attach binds conn to the endpoint. It fails if the endpoint was closed meanwhile.
func (e *endpoint) attach(conn net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.conn = conn
	e.reader = bufio.NewReader(conn)
	return true
}

func (e *endpoint) markHungUp() {
	e.mu.Lock()
	e.hungUp = true
	e.mu.Unlock()
}

func (e *endpoint) current() (net.Conn, *bufio.Reader, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn, e.reader, e.conn != nil && !e.closed && !e.hungUp
}

// Close closes the connection. It is safe to call more than once.
func (e *endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close %s: %w", e.name, err)
	}
	return nil
}

// send writes one envelope followed by a newline.
func (e *endpoint) send(payload any) error {
	msg := aish.Wrap(payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	conn, _, ok := e.current()
	if !ok {
		return ErrNotConnected
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			e.markHungUp()
		}
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	e.log.Debug("sent", "type", msg.Type, "bytes", len(data))
	return nil
}

// receive reads the next envelope. It returns io.EOF once the peer hangs up.
// Only one goroutine may receive on an endpoint at a time.
func (e *endpoint) receive() (*aish.Message, error) {
	_, reader, ok := e.current()
	if reader == nil || !ok {
		return nil, ErrNotConnected
	}

	line, err := reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			e.markHungUp()
			return nil, io.EOF
		}
		return nil, err
	}
	return e.decode(line)
}

// decode parses and validates one frame.
func (e *endpoint) decode(line []byte) (*aish.Message, error) {
	var msg aish.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	e.log.Debug("received", "type", msg.Type, "bytes", len(line))
	return &msg, nil
}

// setReadDeadlineFromContext applies ctx's deadline to the next reads and
// interrupts them when ctx is cancelled. The returned func undoes both.
func (e *endpoint) setReadDeadlineFromContext(ctx context.Context) func() {
	conn, _, _ := e.current()
	if conn == nil {
		return func() {}
	}
	if d, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(d)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	return func() {
		stop()
		conn.SetReadDeadline(time.Time{})
	}
}

// closedErr reports whether err means the endpoint was closed or the peer left.
func closedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrNotConnected)
}

// handshakeErr translates an error hit while waiting for the peer.
func handshakeErr(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", step, ErrHandshakeTimeout)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// listener is the accepting half of a server endpoint. A server endpoint
// accepts exactly one connection and stops listening afterwards.
type listener struct {
	endpoint

	path       string
	ln         *net.UnixListener
	listenedAt time.Time
	lnOnce     sync.Once
	lnErr      error
}

func listen(name string, log *slog.Logger) (*listener, error) {
	if log == nil {
		log = slog.Default()
	}
	path, err := SocketPath(name)
	if err != nil {
		return nil, err
	}

	// Remove stale socket file if it exists
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, err
	}

	log.Debug("listening", "socket", path)
	return &listener{
		endpoint:   endpoint{name: name, log: log},
		path:       path,
		ln:         ln,
		listenedAt: time.Now(),
	}, nil
}

// Path returns the socket path.
func (l *listener) Path() string { return l.path }

// accept waits for one connection until deadline (zero means no deadline),
// then stops listening.
func (l *listener) accept(ctx context.Context, deadline time.Time) error {
	l.ln.SetDeadline(deadline)
	conn, err := l.ln.Accept()
	l.stopListening()
	if err != nil {
		return handshakeErr(ctx, "accept", err)
	}
	if !l.attach(conn) {
		conn.Close()
		return handshakeErr(ctx, "accept", net.ErrClosed)
	}
	l.log.Debug("connection accepted", "socket", l.path)
	return nil
}

func (l *listener) stopListening() error {
	l.lnOnce.Do(func() {
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.lnErr = err
		}
	})
	return l.lnErr
}

// Close stops listening and closes any accepted connection.
func (l *listener) Close() error {
	return errors.Join(l.stopListening(), l.endpoint.Close())
}

// dial connects to the endpoint named name until deadline (zero means none).
func dial(ctx context.Context, name string, deadline time.Time) (net.Conn, error) {
	path, err := SocketPath(name)
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Deadline: deadline}
	return d.DialContext(ctx, "unix", path)
}
