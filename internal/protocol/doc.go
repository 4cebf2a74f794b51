// Package protocol owns the ion pump wire contract.
//
// Ownership boundary:
// - command packet construction and checksum
// - response trimming and parsing
// - command code table
//
// The package performs no I/O. Address validation belongs to the caller.
package protocol
