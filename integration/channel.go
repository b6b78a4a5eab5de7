// Package integration connects a shell to the aish kernel. A Channel owns
// the shell's endpoints, runs the handshake in the background, and applies
// what the kernel sends to the shell's line editor.
package integration

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

// DefaultTimeout bounds the handshake, measured from when the shell starts
// listening.
const DefaultTimeout = 7000 * time.Millisecond

// State is the handshake state of the current setup attempt.
type State int

const (
	NotStarted State = iota
	SettingUp
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case SettingUp:
		return "setting up"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// attempt is one StartSetup cycle. Its fields after done are written under
// Channel.mu before done is closed.
type attempt struct {
	server *pipe.ShellServer
	cancel context.CancelFunc
	wg     sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once

	state  State
	client *pipe.ShellClient
	err    error
}

func (a *attempt) signal() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Channel coordinates one shell's connection to the kernel.
type Channel struct {
	editor    LineEditor
	predictor Predictor
	provider  ContextProvider
	name      string
	timeout   time.Duration
	log       *slog.Logger

	setupMu sync.Mutex // serializes StartSetup, Reset and Dispose

	mu       sync.Mutex
	attempt  *attempt
	disposed bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithName overrides the endpoint name published to the kernel.
func WithName(name string) Option {
	return func(c *Channel) { c.name = name }
}

// WithTimeout sets the handshake timeout. Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) { c.timeout = d }
}

// WithPredictor enables prediction for multi-block code posts.
func WithPredictor(p Predictor) Option {
	return func(c *Channel) { c.predictor = p }
}

// WithContextProvider sets who answers the kernel's context requests.
func WithContextProvider(p ContextProvider) Option {
	return func(c *Channel) {
		if p != nil {
			c.provider = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// New returns a Channel driving editor. A nil editor drops code posts.
func New(editor LineEditor, opts ...Option) *Channel {
	c := &Channel{
		editor:   editor,
		provider: noContext,
		timeout:  DefaultTimeout,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		c.name = pipe.HostName()
	}
	c.log = c.log.With("component", "integration")
	return c
}

// Name returns the endpoint name the kernel must be started with.
func (c *Channel) Name() string { return c.name }

// State returns the state of the current attempt.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt == nil {
		return NotStarted
	}
	return c.attempt.state
}

// StartSetup starts listening for the kernel and returns the endpoint name
// to hand to it. A previous attempt that is not connected is torn down first.
func (c *Channel) StartSetup() (string, error) {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return "", ErrDisposed
	}
	if connected, _ := c.CheckConnection(false); connected {
		return "", ErrAlreadySetUp
	}
	c.reset()

	server, err := pipe.ListenShell(c.name, c.log)
	if err != nil {
		return "", fmt.Errorf("start setup: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		server: server,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  SettingUp,
	}

	c.mu.Lock()
	c.attempt = a
	c.mu.Unlock()

	a.wg.Add(1)
	go c.run(ctx, a)

	c.log.Info("channel setup started", "name", c.name, "timeout", c.timeout)
	return c.name, nil
}

func (c *Channel) run(ctx context.Context, a *attempt) {
	defer a.wg.Done()
	err := a.server.Serve(ctx, c.timeout, &dispatcher{channel: c, attempt: a})
	switch {
	case err == nil:
		c.log.Debug("channel loop ended")
	case errors.Is(err, context.Canceled):
		c.log.Debug("channel loop cancelled")
	default:
		c.log.Warn("channel loop ended", "error", err)
	}
}

// CheckConnection reports whether the channel is connected. Before any
// StartSetup it returns (false, false). Otherwise it waits for the handshake
// to finish, or returns (false, true) at once if blocking is false and the
// handshake is still running. A finished handshake counts as connected only
// while both endpoints are open.
func (c *Channel) CheckConnection(blocking bool) (connected, setupInProgress bool) {
	c.mu.Lock()
	a := c.attempt
	c.mu.Unlock()
	if a == nil {
		return false, false
	}

	if blocking {
		<-a.done
	} else {
		select {
		case <-a.done:
		default:
			return false, true
		}
	}

	c.mu.Lock()
	state, client := a.state, a.client
	c.mu.Unlock()
	return state == Connected && client != nil && client.Connected() && a.server.Connected(), false
}

// Connected waits for the handshake and reports whether the channel is usable.
func (c *Channel) Connected() bool {
	connected, _ := c.CheckConnection(true)
	return connected
}

// PostQuery sends a query to the kernel. It never waits for the handshake;
// failures are *NotConnectedError values matching ErrNotConnected.
func (c *Channel) PostQuery(q *aish.PostQuery) error {
	c.mu.Lock()
	a := c.attempt
	c.mu.Unlock()
	if a == nil {
		return &NotConnectedError{Reason: SetupNotStarted}
	}

	select {
	case <-a.done:
	default:
		return &NotConnectedError{Reason: SetupPending}
	}

	c.mu.Lock()
	state, client, cause := a.state, a.client, a.err
	c.mu.Unlock()

	switch state {
	case Failed:
		return &NotConnectedError{Reason: HandshakeFailed, Err: cause}
	case Connected:
		if client == nil {
			return &NotConnectedError{Reason: RemoteClosed, ServerOpen: a.server.Connected()}
		}
	default:
		// Signalled by a teardown that raced with this call.
		return &NotConnectedError{Reason: SetupNotStarted}
	}

	serverOpen, clientOpen := a.server.Connected(), client.Connected()
	if !serverOpen || !clientOpen {
		return &NotConnectedError{Reason: RemoteClosed, ServerOpen: serverOpen, ClientOpen: clientOpen}
	}
	if err := client.PostQuery(q); err != nil {
		if errors.Is(err, pipe.ErrNotConnected) {
			return &NotConnectedError{Reason: RemoteClosed, ServerOpen: a.server.Connected()}
		}
		return fmt.Errorf("post query: %w", err)
	}
	return nil
}

// Reset tears down the current attempt and clears prediction candidates.
// It returns once the background loop has stopped. Safe in any state.
func (c *Channel) Reset() {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()
	c.reset()
}

func (c *Channel) reset() {
	c.mu.Lock()
	a := c.attempt
	c.attempt = nil
	c.mu.Unlock()

	if a != nil {
		if err := c.teardown(a); err != nil {
			c.log.Warn("channel teardown", "error", err)
		}
		c.log.Debug("channel reset")
	}
	if c.predictor != nil {
		c.predictor.SetCandidates(nil)
	}
}

// teardown closes both endpoints, releases waiters and joins the loop.
func (c *Channel) teardown(a *attempt) error {
	a.cancel()
	errs := []error{a.server.Close()}

	c.mu.Lock()
	client := a.client
	c.mu.Unlock()
	if client != nil {
		errs = append(errs, client.Close())
	}

	a.signal()
	a.wg.Wait()

	// The handshake may have produced a client while the loop unwound.
	c.mu.Lock()
	late := a.client
	c.mu.Unlock()
	if late != nil && late != client {
		errs = append(errs, late.Close())
	}
	return errors.Join(errs...)
}

// Dispose resets the channel and unregisters the predictor. Later
// StartSetup calls fail with ErrDisposed. Safe to call more than once.
func (c *Channel) Dispose() {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	c.reset()

	c.mu.Lock()
	first := !c.disposed
	c.disposed = true
	c.mu.Unlock()
	if first && c.predictor != nil {
		c.predictor.Unregister()
	}
}

// current reports whether a is still the live attempt.
func (c *Channel) current(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt == a
}
