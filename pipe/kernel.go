package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	aish "github.com/Paranoid-AF/aish"
)

// KernelClient is the kernel's client endpoint, connected to a shell's
// server endpoint.
type KernelClient struct {
	endpoint

	askMu   sync.Mutex
	owed    int    // post_context replies due, including abandoned requests
	partial []byte // start of a reply whose read was interrupted
}

// DialShell connects to the shell endpoint named name within timeout.
func DialShell(ctx context.Context, name string, timeout time.Duration, log *slog.Logger) (*KernelClient, error) {
	if log == nil {
		log = slog.Default()
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	conn, err := dial(ctx, name, deadline)
	if err != nil {
		return nil, handshakeErr(ctx, "connect to "+name, err)
	}
	c := &KernelClient{endpoint: endpoint{name: name, log: log.With("endpoint", "kernel-client")}}
	c.attach(conn)
	return c, nil
}

// AskConnection announces the kernel's endpoint so the shell connects back.
func (c *KernelClient) AskConnection(kernelName string) error {
	return c.send(&aish.AskConnection{PipeName: kernelName})
}

// PostCode sends code blocks to the shell.
func (c *KernelClient) PostCode(blocks []string) error {
	if blocks == nil {
		blocks = []string{}
	}
	return c.send(&aish.PostCode{CodeBlocks: blocks})
}

// AskContext requests context from the shell and waits for the reply.
// When ctx ends first the connection stays open: the reply is still owed and
// the next AskContext skips it. Any reply other than PostContext closes the
// connection.
func (c *KernelClient) AskContext(ctx context.Context) (*aish.PostContext, error) {
	c.askMu.Lock()
	defer c.askMu.Unlock()

	if err := c.send(&aish.AskContext{}); err != nil {
		return nil, err
	}
	c.owed++

	undo := c.setReadDeadlineFromContext(ctx)
	defer undo()
	for {
		msg, err := c.readReply()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// The only read deadline comes from ctx.
			return nil, context.DeadlineExceeded
		}
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("await post_context: %w", err)
		}
		if msg.Type != aish.TypePostContext {
			c.Close()
			return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, msg.Type, aish.TypePostContext)
		}
		c.owed--
		if c.owed == 0 {
			return msg.PostContext, nil
		}
		c.log.Debug("skipped reply to an abandoned context request", "owed", c.owed)
	}
}

// readReply reads the next frame. Bytes read before an interruption are kept
// so the following read resumes at the same stream position. Callers hold askMu.
func (c *KernelClient) readReply() (*aish.Message, error) {
	_, reader, ok := c.current()
	if reader == nil || !ok {
		return nil, ErrNotConnected
	}
	line, err := reader.ReadBytes('\n')
	if err != nil {
		c.partial = append(c.partial, line...)
		if errors.Is(err, io.EOF) {
			c.markHungUp()
			return nil, io.EOF
		}
		return nil, err
	}
	if len(c.partial) > 0 {
		line = append(c.partial, line...)
		c.partial = nil
	}
	return c.decode(line)
}

// KernelServer is the kernel's server endpoint. The shell dials it after
// AskConnection and sends queries on it.
type KernelServer struct {
	*listener
}

// ListenKernel binds the kernel endpoint named name.
func ListenKernel(name string, log *slog.Logger) (*KernelServer, error) {
	if log == nil {
		log = slog.Default()
	}
	l, err := listen(name, log.With("endpoint", "kernel-server"))
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", name, err)
	}
	return &KernelServer{listener: l}, nil
}

// Serve waits for the shell to connect within timeout of ListenKernel, calls
// onConnect, then hands each PostQuery to onQuery until the shell hangs up or
// ctx is cancelled.
func (s *KernelServer) Serve(ctx context.Context, timeout time.Duration, onConnect func(), onQuery func(*aish.PostQuery)) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	var deadline time.Time
	if timeout > 0 {
		deadline = s.listenedAt.Add(timeout)
	}
	if err := s.accept(ctx, deadline); err != nil {
		return err
	}
	if onConnect != nil {
		onConnect()
	}

	for {
		msg, err := s.receive()
		if err != nil {
			if closedErr(err) || ctx.Err() != nil {
				return nil
			}
			s.log.Warn("dropping connection", "error", err)
			s.endpoint.Close()
			return err
		}
		if msg.Type != aish.TypePostQuery {
			s.log.Debug("ignoring message", "type", msg.Type)
			continue
		}
		if onQuery != nil {
			onQuery(msg.PostQuery)
		}
	}
}
