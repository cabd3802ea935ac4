// Package stream implements the real-time audio analysis core.
//
// A [Session] owns one client connection. Its run goroutine is the only
// writer of the session's byte buffer: it receives chunks from a [Transport],
// accumulates them, slices every complete window in arrival order, extracts
// features, classifies, and sends one [Message] per window back through the
// transport. A partial trailing window stays buffered until more bytes arrive
// and is discarded when the session closes.
//
// A [Manager] supervises all sessions. It enforces the concurrent-session
// cap, reaps idle sessions, and drains sessions on shutdown. All sessions
// share one [Budget] that bounds received but unprocessed bytes; a session
// whose chunk does not fit waits for space without affecting other sessions.
//
// Lifecycle of a session:
//
//	Open → Receiving ⇄ Processing → Closing → Closed
//	         (any non-terminal state) → Faulted
//
// Teardown runs exactly once on the session's own goroutine. It releases the
// session's budget reservation, deregisters from the manager, and closes the
// transport.
package stream
