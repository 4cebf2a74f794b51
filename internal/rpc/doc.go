// Package rpc exposes the pump command namespace to remote clients.
//
// Ownership boundary:
// - Namespace: one guarded device.Session operation per method
// - error kinds carried across the wire and rebuilt client-side
// - newline-delimited JSON request/response streams (Server, Client)
// - listener transport security (TCP or TLS/mTLS)
package rpc
