// Package ws adapts github.com/coder/websocket connections to the
// [stream.Transport] interface and serves the streaming endpoint.
//
// Inbound binary frames are raw audio chunks. An inbound text frame
// {"type":"close"} ends the stream gracefully; any other text frame is a
// protocol violation reported as an invalid window. Outbound messages are
// JSON text frames, or msgpack binary frames when the client negotiated
// [SubprotocolMsgpack].
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/auralyze/internal/stream"
)

// maxCloseReason is the longest close reason the protocol allows.
const maxCloseReason = 123

type frame struct {
	data []byte
	err  error
}

// Transport is a [stream.Transport] over one websocket connection.
//
// Reads happen on a dedicated goroutine bound to the connection's lifetime:
// cancelling a Read context closes a coder/websocket connection, so
// Receive waits on a channel instead and can be cancelled freely.
type Transport struct {
	conn  *websocket.Conn
	codec codec

	frames chan frame
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
	closeErr  error
}

// NewTransport wraps conn and starts reading. readLimit caps the size of one
// inbound frame; frames above it close the connection with 1009. A
// non-positive readLimit keeps the library default.
func NewTransport(conn *websocket.Conn, readLimit int64) *Transport {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:   conn,
		codec:  codecFor(conn.Subprotocol()),
		frames: make(chan frame, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer close(t.frames)
	for {
		typ, data, err := t.conn.Read(t.ctx)
		if err != nil {
			t.setReadErr(t.mapReadErr(err))
			return
		}

		var f frame
		switch typ {
		case websocket.MessageBinary:
			f.data = data
		case websocket.MessageText:
			if isCloseRequest(data) {
				t.setReadErr(io.EOF)
				return
			}
			f.err = stream.NewError(stream.KindInvalidWindow, errors.New("unexpected text frame"))
		}

		select {
		case t.frames <- f:
		case <-t.ctx.Done():
			return
		}
		if f.err != nil {
			return
		}
	}
}

func isCloseRequest(data []byte) bool {
	var ctl struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &ctl) == nil && ctl.Type == "close"
}

func (t *Transport) mapReadErr(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return io.EOF
	}
	if t.ctx.Err() != nil {
		return net.ErrClosed
	}
	return fmt.Errorf("ws: read: %w", err)
}

func (t *Transport) setReadErr(err error) {
	t.mu.Lock()
	t.readErr = err
	t.mu.Unlock()
}

// Receive implements [stream.Transport].
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			t.mu.Lock()
			defer t.mu.Unlock()
			return nil, t.readErr
		}
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements [stream.Transport].
func (t *Transport) Send(ctx context.Context, msg stream.Message) error {
	data, err := t.codec.encode(msg)
	if err != nil {
		return fmt.Errorf("ws: encode: %w", err)
	}
	if err := t.conn.Write(ctx, t.codec.frame, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Close implements [stream.Transport]. The close status is derived from
// cause; see [CloseStatus].
func (t *Transport) Close(cause error) error {
	t.closeOnce.Do(func() {
		status, reason := CloseStatus(cause)
		t.closeErr = t.conn.Close(status, reason)
		t.cancel()
	})
	return t.closeErr
}

// CloseStatus maps a session's terminating error to a websocket close code
// and reason.
func CloseStatus(cause error) (websocket.StatusCode, string) {
	if cause == nil {
		return websocket.StatusNormalClosure, "stream closed"
	}
	reason := cause.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	if errors.Is(cause, stream.ErrManagerClosed) {
		return websocket.StatusGoingAway, reason
	}
	kind, _ := stream.KindOf(cause)
	switch kind {
	case stream.KindInvalidWindow:
		return websocket.StatusUnsupportedData, reason
	case stream.KindResourceExhausted:
		return websocket.StatusTryAgainLater, reason
	}
	return websocket.StatusInternalError, reason
}

var _ stream.Transport = (*Transport)(nil)
