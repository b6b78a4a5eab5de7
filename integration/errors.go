package integration

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySetUp is returned by StartSetup while a connected channel exists.
	ErrAlreadySetUp = errors.New("channel is already set up and connected")
	// ErrDisposed is returned by StartSetup after Dispose.
	ErrDisposed = errors.New("channel has been disposed")
	// ErrNotConnected matches every *NotConnectedError.
	ErrNotConnected = errors.New("channel is not connected")
	// ErrRemoteClosed matches a *NotConnectedError whose endpoints closed after
	// a successful handshake.
	ErrRemoteClosed = errors.New("channel endpoints closed")
)

// Reason tells why a channel is not connected.
type Reason int

const (
	// SetupNotStarted means StartSetup was never called (or Reset since).
	SetupNotStarted Reason = iota + 1
	// SetupPending means the handshake has not finished yet.
	SetupPending
	// RemoteClosed means an endpoint closed after a successful handshake.
	RemoteClosed
	// HandshakeFailed means the handshake failed; the cause is wrapped.
	HandshakeFailed
)

func (r Reason) String() string {
	switch r {
	case SetupNotStarted:
		return "setup not started"
	case SetupPending:
		return "setup pending"
	case RemoteClosed:
		return "remote closed"
	case HandshakeFailed:
		return "handshake failed"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// NotConnectedError is returned by PostQuery when the channel cannot carry
// a query.
type NotConnectedError struct {
	Reason Reason
	// ServerOpen and ClientOpen report the endpoints for RemoteClosed.
	ServerOpen, ClientOpen bool
	// Err is the handshake failure for HandshakeFailed.
	Err error
}

func (e *NotConnectedError) Error() string {
	switch e.Reason {
	case SetupNotStarted:
		return "not connected: channel setup was never started; run setup first"
	case SetupPending:
		return "not connected: channel setup is still in progress; try again shortly"
	case RemoteClosed:
		return fmt.Sprintf("not connected: channel closed by the remote side (server open: %t, client open: %t); run setup again",
			e.ServerOpen, e.ClientOpen)
	case HandshakeFailed:
		return "not connected: channel handshake failed: " + errString(e.Err)
	}
	return "not connected: " + e.Reason.String()
}

// Unwrap exposes ErrNotConnected, ErrRemoteClosed when applicable, and the
// handshake cause.
func (e *NotConnectedError) Unwrap() []error {
	errs := []error{ErrNotConnected}
	if e.Reason == RemoteClosed {
		errs = append(errs, ErrRemoteClosed)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
