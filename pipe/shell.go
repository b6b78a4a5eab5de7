package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	aish "github.com/Paranoid-AF/aish"
)

// ShellHandler receives the events of a ShellServer. Methods are called from
// the serving goroutine, one at a time, in frame order.
type ShellHandler interface {
	// OnAskConnection is called once per Serve: with the connected client on
	// success, or with a nil client and the failure cause.
	OnAskConnection(client *ShellClient, err error)
	// OnAskContext answers a context request. A nil result sends aish.NoContext.
	OnAskContext(req *aish.AskContext) *aish.PostContext
	// OnPostCode receives code blocks posted by the kernel.
	OnPostCode(code *aish.PostCode)
}

// ShellServer is the shell's server endpoint. The kernel dials it, announces
// its own endpoint with AskConnection, then sends requests on it.
type ShellServer struct {
	*listener
}

// ListenShell binds the shell endpoint named name. The handshake window
// starts now.
func ListenShell(name string, log *slog.Logger) (*ShellServer, error) {
	if log == nil {
		log = slog.Default()
	}
	l, err := listen(name, log.With("endpoint", "shell-server"))
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", name, err)
	}
	return &ShellServer{listener: l}, nil
}

// Serve runs the handshake and then the message loop until the kernel hangs
// up, the endpoint is closed, or ctx is cancelled. The handshake must finish
// within timeout of ListenShell; zero disables the limit.
//
// Serve returns nil when the loop ends because the peer or the endpoint went
// away, and the cause otherwise.
func (s *ShellServer) Serve(ctx context.Context, timeout time.Duration, h ShellHandler) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	client, err := s.handshake(ctx, timeout)
	if err != nil {
		s.log.Debug("handshake failed", "error", err)
		s.notifyConnection(h, nil, err)
		return err
	}
	s.log.Debug("handshake complete", "kernel", client.Name())
	s.notifyConnection(h, client, nil)

	for {
		msg, err := s.receive()
		if err != nil {
			if closedErr(err) || ctx.Err() != nil {
				return nil
			}
			// Undecodable or unknown frames drop the connection.
			s.log.Warn("dropping connection", "error", err)
			s.endpoint.Close()
			return err
		}

		switch msg.Type {
		case aish.TypeAskContext:
			reply := s.askContext(h, msg.AskContext)
			if err := s.send(reply); err != nil {
				if closedErr(err) {
					return nil
				}
				s.log.Warn("context reply failed", "error", err)
			}
		case aish.TypePostCode:
			s.postCode(h, msg.PostCode)
		default:
			s.log.Debug("ignoring message", "type", msg.Type)
		}
	}
}

func (s *ShellServer) handshake(ctx context.Context, timeout time.Duration) (*ShellClient, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = s.listenedAt.Add(timeout)
	}

	if err := s.accept(ctx, deadline); err != nil {
		return nil, err
	}

	conn, _, _ := s.current()
	conn.SetReadDeadline(deadline)
	msg, err := s.receive()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.endpoint.Close()
		return nil, handshakeErr(ctx, "await ask_connection", err)
	}
	if msg.Type != aish.TypeAskConnection {
		s.endpoint.Close()
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, msg.Type, aish.TypeAskConnection)
	}

	kernelName := msg.AskConnection.PipeName
	kconn, err := dial(ctx, kernelName, deadline)
	if err != nil {
		s.endpoint.Close()
		return nil, handshakeErr(ctx, "connect to "+kernelName, err)
	}
	return newShellClient(kernelName, kconn, s.log), nil
}

func (s *ShellServer) notifyConnection(h ShellHandler, client *ShellClient, err error) {
	defer s.recoverHandler("OnAskConnection")
	h.OnAskConnection(client, err)
}

func (s *ShellServer) askContext(h ShellHandler, req *aish.AskContext) (reply *aish.PostContext) {
	reply = aish.NoContext
	defer s.recoverHandler("OnAskContext")
	if r := h.OnAskContext(req); r != nil {
		reply = r
	}
	return reply
}

func (s *ShellServer) postCode(h ShellHandler, code *aish.PostCode) {
	defer s.recoverHandler("OnPostCode")
	h.OnPostCode(code)
}

func (s *ShellServer) recoverHandler(name string) {
	if r := recover(); r != nil {
		s.log.Error("handler panicked", "handler", name, "panic", r)
	}
}

// ShellClient is the shell's client endpoint, connected to the kernel's
// server endpoint. It carries queries to the kernel.
type ShellClient struct {
	endpoint
	done chan struct{}
}

func newShellClient(name string, conn net.Conn, log *slog.Logger) *ShellClient {
	c := &ShellClient{
		endpoint: endpoint{name: name, log: log.With("endpoint", "shell-client")},
		done:     make(chan struct{}),
	}
	c.attach(conn)
	go c.watch()
	return c
}

// watch drains the connection so a kernel hang-up is noticed without a write.
func (c *ShellClient) watch() {
	defer close(c.done)
	_, reader, _ := c.current()
	n, err := io.Copy(io.Discard, reader)
	if n > 0 {
		c.log.Debug("discarded unexpected bytes from kernel", "bytes", n)
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Debug("kernel connection error", "error", err)
	}
	c.markHungUp()
}

// PostQuery sends a query to the kernel.
func (c *ShellClient) PostQuery(q *aish.PostQuery) error {
	if q == nil || q.Query == "" {
		return aish.ErrEmptyQuery
	}
	return c.send(q)
}

// Close closes the connection and waits for the watcher to exit.
func (c *ShellClient) Close() error {
	err := c.endpoint.Close()
	<-c.done
	return err
}
