package protocol

import "errors"

var (
	// ErrInvalidResponse marks a device reply that could not be parsed as the expected type.
	ErrInvalidResponse = errors.New("protocol: invalid response")
	ErrEmptyResponse   = errors.New("protocol: empty response")
)
