package stream

import "context"

// Transport is the bidirectional connection a [Session] reads chunks from
// and writes messages to.
//
// Receive and Send are only ever called from the session's run goroutine.
// Close may be called once, from the same goroutine, during teardown.
type Transport interface {
	// Receive blocks until the next chunk arrives. It returns io.EOF when the
	// peer ends the stream cleanly and ctx.Err() promptly once ctx is done.
	// A malformed inbound frame is reported as an [*Error] of kind
	// [KindInvalidWindow].
	Receive(ctx context.Context) ([]byte, error)

	// Send writes one message. It may block on flow control until ctx is
	// done.
	Send(ctx context.Context, msg Message) error

	// Close releases the connection. cause is nil for a normal close or the
	// error that terminated the session.
	Close(cause error) error
}
