package device

import "errors"

var (
	// ErrValidation rejects bad arguments before any I/O.
	ErrValidation = errors.New("device: validation failed")
	// ErrNotConnected is returned by exchanges attempted without an open transport.
	ErrNotConnected = errors.New("device: not connected")
	// ErrConnection wraps a transport that could not be opened.
	ErrConnection = errors.New("device: connection failed")
	// ErrDeviceCommunication wraps I/O failures and timeouts mid-exchange.
	ErrDeviceCommunication = errors.New("device: communication failed")

	ErrTimeout         = errors.New("device: reply timeout")
	ErrTransportClosed = errors.New("device: transport closed")
	ErrLineTooLong     = errors.New("device: reply exceeds max line length")
)
