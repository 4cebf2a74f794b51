// Package device owns the ion pump session.
//
// Ownership boundary:
// - transport handle lifecycle (open, framed read loop, close)
// - connection state machine: disconnected -> connecting -> connected
// - one request/response exchange at a time over the protocol codec
// - pump address state
//
// A Session is not safe for concurrent exchanges. Callers serialize through
// guard.Mutex; only Info may be called from anywhere.
package device
