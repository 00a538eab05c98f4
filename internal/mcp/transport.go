package mcp

import "context"

// Transport carries JSON-RPC messages to one tool process. Implementations
// own the process lifecycle and the framing of messages on the wire.
type Transport interface {
	// Start launches the tool process and verifies it survives its
	// startup grace period.
	Start(ctx context.Context) error

	// Send writes one request and reads exactly one reply. Concurrent
	// calls are serialized; a second request is never written before
	// the previous reply has been read.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify writes a notification. No reply is read.
	Notify(ctx context.Context, notif *Notification) error

	// Alive reports whether the tool process has been started and has
	// not exited.
	Alive() bool

	// Close terminates the tool process and releases resources. It is
	// safe to call more than once.
	Close() error
}
