package session

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. A *PhaseError unwraps to exactly one of these plus its cause.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrProtocol      = errors.New("protocol error")
	ErrStream        = errors.New("stream error")
	ErrCanceled      = errors.New("session canceled")
)

// PhaseError records which phase and which RPC failed, and how.
type PhaseError struct {
	Phase Phase
	Op    string // RPC name, e.g. "setPreferredProviders"
	Kind  error  // one of the Err* kinds above
	Err   error  // underlying cause; nil for protocol errors without detail
}

func (e *PhaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %v", e.Phase, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v: %v", e.Phase, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *PhaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func transportError(p Phase, op string, err error) *PhaseError {
	return &PhaseError{Phase: p, Op: op, Kind: ErrTransport, Err: err}
}

// protocolError is used when the gateway answered but reported success=false.
func protocolError(p Phase, op, message string) *PhaseError {
	var cause error
	if message != "" {
		cause = errors.New(message)
	}
	return &PhaseError{Phase: p, Op: op, Kind: ErrProtocol, Err: cause}
}

func streamError(p Phase, op string, err error) *PhaseError {
	return &PhaseError{Phase: p, Op: op, Kind: ErrStream, Err: err}
}

// rpcError classifies a failed call. When the session context has ended the failure is a
// cancellation whatever the transport reported.
func rpcError(ctx context.Context, p Phase, op string, err error) *PhaseError {
	if ctx.Err() != nil {
		return &PhaseError{Phase: p, Op: op, Kind: ErrCanceled, Err: err}
	}
	return transportError(p, op, err)
}

func canceledError(p Phase, err error) *PhaseError {
	return &PhaseError{Phase: p, Op: "begin", Kind: ErrCanceled, Err: err}
}
