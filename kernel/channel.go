// Package kernel is the kernel's side of the shell channel: it connects to a
// shell's published endpoint, receives queries, and posts code back.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	aish "github.com/Paranoid-AF/aish"
	"github.com/Paranoid-AF/aish/pipe"
)

// DefaultTimeout bounds the connection to the shell in both directions.
const DefaultTimeout = 5000 * time.Millisecond

// ErrClosed is returned by operations on a closed Channel.
var ErrClosed = errors.New("kernel channel closed")

// Query is a question received from the shell.
type Query aish.PostQuery

// Prompt returns the query text with its context appended.
func (q Query) Prompt() string {
	if q.Context == nil {
		return q.Query
	}
	return q.Query + "\n\nBelow is some context information regarding this query:\n" + *q.Context
}

// AgentName returns the requested agent, or "".
func (q Query) AgentName() string {
	if q.Agent == nil {
		return ""
	}
	return *q.Agent
}

type options struct {
	name      string
	timeout   time.Duration
	queueSize int
	log       *slog.Logger
}

// Option configures Dial.
type Option func(*options)

// WithName overrides the kernel endpoint name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithTimeout bounds the handshake.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithQueueSize sets how many queries may wait unread.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// Channel is a connected kernel channel.
type Channel struct {
	client  *pipe.KernelClient
	server  *pipe.KernelServer
	queries chan Query
	done    chan struct{}
	log     *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects to the shell endpoint hostName and waits until the shell has
// connected back.
func Dial(ctx context.Context, hostName string, opts ...Option) (*Channel, error) {
	o := options{timeout: DefaultTimeout, queueSize: 16, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = pipe.KernelName()
	}
	log := o.log.With("component", "kernel")

	server, err := pipe.ListenKernel(o.name, log)
	if err != nil {
		return nil, err
	}
	client, err := pipe.DialShell(ctx, hostName, o.timeout, log)
	if err != nil {
		server.Close()
		return nil, err
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		client:  client,
		server:  server,
		queries: make(chan Query, max(o.queueSize, 0)),
		done:    make(chan struct{}),
		log:     log,
		cancel:  cancel,
	}

	connected := make(chan struct{})
	serveErr := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		defer close(c.queries)
		serveErr <- server.Serve(serveCtx, o.timeout, func() { close(connected) }, func(q *aish.PostQuery) {
			select {
			case c.queries <- Query(*q):
			case <-serveCtx.Done():
			}
		})
	}()

	if err := client.AskConnection(o.name); err != nil {
		c.Close()
		return nil, fmt.Errorf("ask connection: %w", err)
	}

	select {
	case <-connected:
		log.Info("connected to shell", "shell", hostName, "kernel", o.name)
		return c, nil
	case err := <-serveErr:
		c.Close()
		if err == nil {
			err = ErrClosed
		}
		return nil, fmt.Errorf("wait for shell: %w", err)
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// Queries delivers queries from the shell. It is closed when the shell
// disconnects or the channel is closed.
func (c *Channel) Queries() <-chan Query { return c.queries }

// Done is closed once the shell has disconnected or the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// PostCode sends code blocks to the shell's input line.
func (c *Channel) PostCode(blocks []string) error {
	if err := c.client.PostCode(blocks); err != nil {
		if errors.Is(err, pipe.ErrNotConnected) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// AskContext asks the shell for its context.
func (c *Channel) AskContext(ctx context.Context) (*aish.PostContext, error) {
	reply, err := c.client.AskContext(ctx)
	if errors.Is(err, pipe.ErrNotConnected) {
		return nil, ErrClosed
	}
	return reply, err
}

// Close disconnects from the shell and waits for the receive loop to stop.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = errors.Join(c.client.Close(), c.server.Close())
		c.wg.Wait()
	})
	return err
}
