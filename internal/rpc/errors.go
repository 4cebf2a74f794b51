package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/protocol"
)

// ErrorKind names an error class on the wire.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindNotConnected  ErrorKind = "not_connected"
	KindConnection    ErrorKind = "connection"
	KindCommunication ErrorKind = "communication"
	KindProtocol      ErrorKind = "protocol"
	KindCanceled      ErrorKind = "canceled"
	KindInternal      ErrorKind = "internal"
	KindBadRequest    ErrorKind = "bad_request"
	KindUnknownMethod ErrorKind = "unknown_method"
)

var (
	ErrBadRequest    = errors.New("rpc: bad request")
	ErrUnknownMethod = errors.New("rpc: unknown method")
	ErrInternal      = errors.New("rpc: internal error")
	ErrClientClosed  = errors.New("rpc: client closed")
)

// KindOf classifies err. A context error wins over the device error wrapping
// it, so a caller can tell its own cancel from a pump that stopped answering.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, device.ErrValidation):
		return KindValidation
	case errors.Is(err, device.ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, device.ErrConnection):
		return KindConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the caller's own deadline, even mid-exchange; pump timeouts stay communication
		return KindCanceled
	case errors.Is(err, device.ErrDeviceCommunication):
		return KindCommunication
	case errors.Is(err, protocol.ErrInvalidResponse):
		return KindProtocol
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrUnknownMethod):
		return KindUnknownMethod
	default:
		return KindInternal
	}
}

// Sentinel returns the error a kind maps back to.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindValidation:
		return device.ErrValidation
	case KindNotConnected:
		return device.ErrNotConnected
	case KindConnection:
		return device.ErrConnection
	case KindCommunication:
		return device.ErrDeviceCommunication
	case KindProtocol:
		return protocol.ErrInvalidResponse
	case KindCanceled:
		return context.Canceled
	case KindBadRequest:
		return ErrBadRequest
	case KindUnknownMethod:
		return ErrUnknownMethod
	default:
		return ErrInternal
	}
}

// RemoteError is a failure reported by the server. It unwraps to the
// sentinel for its kind so errors.Is works on the client side.
type RemoteError struct {
	Method  string
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Method, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Kind.Sentinel()
}
