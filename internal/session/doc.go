// Package session tracks which devices currently hold an authenticated
// AgentStream on this server.
//
// A device has at most one tracked Session. Add always wins: a device that
// reconnects replaces its old session. Remove is compare-and-delete on the
// session id, so when the old stream finally ends its cleanup cannot remove
// the new session. Only the caller whose Remove returned true should mark the
// device offline.
//
// Session.Send serializes writes to the underlying gRPC stream, which is what
// lets the dispatcher push jobs from request goroutines while the stream
// handler owns the receive side.
package session
