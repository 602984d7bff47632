// Package session runs request/response exchanges over one byte stream.
//
// Ownership boundary:
// - client send (sync and async) with exclusive stream access
// - server handler table and sequential dispatch loop
// - dial/listen helpers: backoff, TLS, per-operation deadlines
//
// A stream carries one logical exchange at a time. There is no correlation
// id on the wire; the response to a request is simply the next frame.
package session
