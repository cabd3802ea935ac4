package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/auralyze/internal/stream"
)

// rejectTimeout bounds delivery of the rejection message to a client turned
// away at capacity.
const rejectTimeout = 5 * time.Second

// Handler upgrades HTTP requests to websocket streaming sessions.
type Handler struct {
	manager   *stream.Manager
	readLimit int64
	accept    websocket.AcceptOptions
	log       *slog.Logger
}

// Option configures a [Handler].
type Option func(*Handler)

// WithReadLimit caps the size of one inbound frame.
func WithReadLimit(n int64) Option {
	return func(h *Handler) { h.readLimit = n }
}

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// given patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.accept.OriginPatterns = patterns }
}

// WithInsecureSkipVerify disables the origin check entirely. Intended for
// tests and trusted networks.
func WithInsecureSkipVerify() Option {
	return func(h *Handler) { h.accept.InsecureSkipVerify = true }
}

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// NewHandler returns a handler that registers every accepted connection with
// m.
func NewHandler(m *stream.Manager, opts ...Option) *Handler {
	h := &Handler{
		manager: m,
		accept: websocket.AcceptOptions{
			Subprotocols: []string{SubprotocolJSON, SubprotocolMsgpack},
		},
		log: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements [http.Handler]. It returns once the session has
// ended.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &h.accept)
	if err != nil {
		h.log.Warn("ws: upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	t := NewTransport(conn, h.readLimit)

	sess, err := h.manager.CreateSession(t)
	if err != nil {
		h.reject(t, err)
		return
	}
	h.log.Info("ws: session accepted",
		"session_id", sess.ID(),
		"remote_addr", r.RemoteAddr,
		"subprotocol", conn.Subprotocol(),
	)

	select {
	case <-sess.Done():
	case <-r.Context().Done():
		sess.Close()
		<-sess.Done()
	}
}

// reject tells the client why no session was created and closes.
func (h *Handler) reject(t *Transport, err error) {
	h.log.Warn("ws: session rejected", "err", err)

	serr := stream.NewError(stream.KindResourceExhausted, err)
	var se *stream.Error
	if errors.As(err, &se) {
		serr = se
	}
	ctx, cancel := context.WithTimeout(context.Background(), rejectTimeout)
	defer cancel()
	msg := stream.Message{Type: stream.MessageError, Error: serr, Terminal: true}
	if sendErr := t.Send(ctx, msg); sendErr != nil {
		h.log.Debug("ws: rejection not delivered", "err", sendErr)
	}
	_ = t.Close(err)
}
