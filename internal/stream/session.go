package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/auralyze/internal/observe"
	"github.com/MrWong99/auralyze/pkg/audio"
	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

// State is a session lifecycle state.
type State int32

const (
	StateOpen State = iota
	StateReceiving
	StateProcessing
	StateClosing
	StateClosed
	StateFaulted
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReceiving:
		return "receiving"
	case StateProcessing:
		return "processing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFaulted
}

// SessionConfig holds the per-session processing parameters.
type SessionConfig struct {
	// Format is the encoding of inbound chunk bytes.
	Format audio.SampleFormat

	// Features configures extraction. Features.WindowSize is the window
	// length in samples.
	Features features.Config

	// MaxChunkBytes rejects larger chunks with [KindResourceExhausted].
	// 0 disables the check.
	MaxChunkBytes int

	// ClassifierTimeout bounds each classifier call.
	ClassifierTimeout time.Duration

	// MaxConsecutiveFailures is how many recoverable classifier failures in
	// a row a session tolerates. The next one faults the session.
	MaxConsecutiveFailures int

	// SendTimeout bounds each outbound message.
	SendTimeout time.Duration
}

// WindowBytes returns the encoded length of one window.
func (c SessionConfig) WindowBytes() int {
	return c.Features.WindowSize * c.Format.BytesPerSample()
}

// Recorder receives every successful result after it has been sent.
// Record must not block.
type Recorder interface {
	Record(sessionID string, sequence uint64, r ClassificationResult)
}

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	ID           string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time

	// Windows is the number of windows processed so far, including windows
	// that produced an error result.
	Windows uint64
}

// Session is one streaming connection. Create sessions with
// [Manager.CreateSession].
//
// Exported methods are safe for concurrent use. All buffer state is owned by
// the session's run goroutine.
type Session struct {
	id         string
	cfg        SessionConfig
	transport  Transport
	extractor  *features.Extractor
	classifier classifier.Classifier
	budget     *Budget
	recorder   Recorder
	metrics    *observe.Metrics
	log        *slog.Logger
	onClose    func(*Session)

	createdAt    time.Time
	state        atomic.Int32
	lastActivity atomic.Int64
	waitingSince atomic.Int64 // unix nanos; 0 while not blocked on the budget
	windows      atomic.Uint64

	// recvCtx is a child of sessCtx. Cancelling recvCtx stops intake and lets
	// already buffered windows finish; cancelling sessCtx aborts everything.
	sessCtx    context.Context
	sessCancel context.CancelFunc
	recvCtx    context.Context
	recvCancel context.CancelCauseFunc

	// Owned by the run goroutine.
	buf      []byte
	samples  []float64
	seq      uint64
	cursor   uint64
	failures int
	reserved int64

	teardownOnce sync.Once
	done         chan struct{}
	err          error // set before done is closed
}

type sessionParams struct {
	id         string
	cfg        SessionConfig
	transport  Transport
	extractor  *features.Extractor
	classifier classifier.Classifier
	budget     *Budget
	recorder   Recorder
	metrics    *observe.Metrics
	log        *slog.Logger
	onClose    func(*Session)
}

func newSession(p sessionParams) *Session {
	sessCtx, sessCancel := context.WithCancel(context.Background())
	recvCtx, recvCancel := context.WithCancelCause(sessCtx)
	now := time.Now()
	s := &Session{
		id:         p.id,
		cfg:        p.cfg,
		transport:  p.transport,
		extractor:  p.extractor,
		classifier: p.classifier,
		budget:     p.budget,
		recorder:   p.recorder,
		metrics:    p.metrics,
		log:        p.log.With("session_id", p.id),
		onClose:    p.onClose,
		createdAt:  now,
		sessCtx:    sessCtx,
		sessCancel: sessCancel,
		recvCtx:    recvCtx,
		recvCancel: recvCancel,
		done:       make(chan struct{}),
	}
	s.state.Store(int32(StateOpen))
	s.lastActivity.Store(now.UnixNano())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:           s.id,
		State:        s.State(),
		CreatedAt:    s.createdAt,
		LastActivity: time.Unix(0, s.lastActivity.Load()),
		Windows:      s.windows.Load(),
	}
}

// Done is closed after teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the session, or nil for a clean
// close. Only meaningful after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop requests a graceful close: intake stops, every complete window
// already buffered is processed and sent, then the session closes. Stop does
// not wait; use Done.
func (s *Session) Stop() { s.recvCancel(nil) }

// Close aborts the session immediately, cancelling any in-flight receive,
// classification, or send. Close does not wait; use Done.
func (s *Session) Close() { s.sessCancel() }

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActivity.Load()))
}

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// waitingFor reports how long the session has been blocked on the global
// budget, or 0 if it is not blocked.
func (s *Session) waitingFor(now time.Time) time.Duration {
	since := s.waitingSince.Load()
	if since == 0 {
		return 0
	}
	return max(now.Sub(time.Unix(0, since)), 1)
}

// evict stops intake of a session stuck on the global budget. The session
// faults with [KindResourceExhausted] so the client learns its pending chunk
// was not accepted.
func (s *Session) evict(waited time.Duration) {
	s.recvCancel(NewError(KindResourceExhausted,
		fmt.Errorf("no buffer space after waiting %s", waited.Round(time.Millisecond))))
}

// stopCause is the error to end the session with once recvCtx is done: the
// eviction error if the session was evicted, otherwise nil.
func (s *Session) stopCause() error {
	var serr *Error
	if errors.As(context.Cause(s.recvCtx), &serr) {
		return serr
	}
	return nil
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) run() {
	s.log.Debug("stream: session started")
	err := s.loop()
	s.teardown(err)
}

func (s *Session) loop() error {
	s.setState(StateReceiving)
	for {
		chunk, err := s.transport.Receive(s.recvCtx)
		if err != nil {
			if s.recvCtx.Err() != nil {
				return s.stopCause()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			var se *Error
			if errors.As(err, &se) {
				return se
			}
			return NewError(KindTransport, fmt.Errorf("receive: %w", err))
		}
		s.touch()
		if len(chunk) == 0 {
			continue
		}
		if err := s.accept(chunk); err != nil {
			if s.recvCtx.Err() != nil {
				return s.stopCause()
			}
			return err
		}
		if err := s.drain(); err != nil {
			return err
		}
	}
}

// accept reserves budget for chunk and appends it to the buffer.
func (s *Session) accept(chunk []byte) error {
	n := int64(len(chunk))
	if s.cfg.MaxChunkBytes > 0 && len(chunk) > s.cfg.MaxChunkBytes {
		return NewError(KindResourceExhausted,
			fmt.Errorf("chunk of %d bytes exceeds limit of %d", len(chunk), s.cfg.MaxChunkBytes))
	}
	s.waitingSince.Store(time.Now().UnixNano())
	waited, err := s.budget.Reserve(s.recvCtx, n)
	s.waitingSince.Store(0)
	s.touch()
	if waited {
		s.metrics.BackpressureWaits.Add(s.sessCtx, 1)
		s.log.Debug("stream: chunk delayed by buffer cap", "bytes", n, "buffered_total", s.budget.Used())
	}
	if err != nil {
		if errors.Is(err, ErrResourceExhausted) {
			return NewError(KindResourceExhausted, err)
		}
		return err
	}
	s.reserved += n
	s.metrics.BufferedBytes.Add(s.sessCtx, n)
	s.buf = append(s.buf, chunk...)
	return nil
}

// drain processes every complete window in the buffer in order and keeps the
// remainder.
func (s *Session) drain() error {
	wb := s.cfg.WindowBytes()
	if len(s.buf) < wb {
		return nil
	}
	s.setState(StateProcessing)
	off := 0
	var err error
	for len(s.buf)-off >= wb {
		if err = s.processWindow(s.buf[off : off+wb]); err != nil {
			break
		}
		off += wb
		s.release(int64(wb))
	}
	n := copy(s.buf, s.buf[off:])
	s.buf = s.buf[:n]
	if err != nil {
		return err
	}
	s.setState(StateReceiving)
	return nil
}

func (s *Session) release(n int64) {
	if n > s.reserved {
		n = s.reserved
	}
	s.reserved -= n
	s.budget.Release(n)
	s.metrics.BufferedBytes.Add(context.Background(), -n)
}

// processWindow decodes, extracts, classifies and emits one window. A
// returned error terminates the session; recoverable classifier failures are
// emitted in place and return nil.
func (s *Session) processWindow(data []byte) error {
	seq := s.seq
	start := time.Now()

	ctx, span := observe.StartWindowSpan(s.sessCtx, s.id, seq)

	outcome, err := s.analyze(ctx, seq, data)
	if err != nil {
		observe.EndWindowSpan(span, "fault", err)
		return err
	}
	s.windows.Add(1)
	s.cursor += uint64(s.cfg.Features.WindowSize)
	s.seq++

	s.metrics.WindowDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.RecordResult(ctx, outcome.OK())
	if outcome.OK() {
		observe.EndWindowSpan(span, "ok", nil)
	} else {
		observe.EndWindowSpan(span, "error", outcome.Err)
	}

	if err := s.send(OutcomeMessage(outcome)); err != nil {
		return err
	}
	if outcome.OK() && s.recorder != nil {
		s.recorder.Record(s.id, seq, *outcome.Result)
	}
	return nil
}

// analyze produces the outcome for one window. It returns an error only for
// terminal conditions.
func (s *Session) analyze(ctx context.Context, seq uint64, data []byte) (Outcome, error) {
	samples, err := audio.Decode(s.samples[:0], s.cfg.Format, data)
	if err != nil {
		return Outcome{}, NewError(KindInvalidWindow, fmt.Errorf("window %d: %w", seq, err))
	}
	s.samples = samples

	vec, err := s.extractor.Extract(samples)
	if err != nil {
		return Outcome{}, NewError(KindInvalidWindow, fmt.Errorf("window %d: %w", seq, err))
	}

	callStart := time.Now()
	pred, err := s.classify(ctx, vec)
	name := s.classifier.Info().Name

	if err != nil {
		if s.sessCtx.Err() != nil {
			return Outcome{}, s.sessCtx.Err()
		}
		kind := KindClassifierFailed
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindClassifierTimeout
			status = "timeout"
		}
		s.metrics.RecordClassifier(ctx, name, status, time.Since(callStart))
		serr := NewError(kind, fmt.Errorf("window %d: %w", seq, err))

		s.failures++
		if s.failures > s.cfg.MaxConsecutiveFailures {
			s.log.Warn("stream: too many consecutive classifier failures",
				"sequence", seq, "failures", s.failures, "err", err)
			return Outcome{}, serr
		}
		s.log.Warn("stream: window classification failed",
			"sequence", seq, "kind", kind, "failures", s.failures, "err", err)
		return Outcome{Sequence: seq, Err: serr}, nil
	}
	s.metrics.RecordClassifier(ctx, name, "ok", time.Since(callStart))
	s.failures = 0

	return Outcome{
		Sequence: seq,
		Result: &ClassificationResult{
			Prediction:   pred.Label,
			Confidence:   pred.Confidence,
			Timestamp:    time.Now().UTC(),
			FeaturesUsed: s.extractor.Names(),
		},
	}, nil
}

type classifyResult struct {
	pred classifier.Prediction
	err  error
}

// classify runs the classifier under the per-window timeout. The call runs on
// its own goroutine so a classifier that ignores its context cannot hold the
// session past the deadline; a late result is dropped.
func (s *Session) classify(ctx context.Context, vec features.Vector) (classifier.Prediction, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifierTimeout)
	defer cancel()

	done := make(chan classifyResult, 1)
	go func() {
		pred, err := s.classifier.Classify(cctx, vec)
		done <- classifyResult{pred: pred, err: err}
	}()

	select {
	case r := <-done:
		return r.pred, r.err
	case <-cctx.Done():
		return classifier.Prediction{}, cctx.Err()
	}
}

func (s *Session) send(msg Message) error {
	ctx := s.sessCtx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		if s.sessCtx.Err() != nil {
			return s.sessCtx.Err()
		}
		return NewError(KindTransport, fmt.Errorf("send sequence %d: %w", msg.Sequence, err))
	}
	return nil
}

// teardown ends the session. It runs once, on the run goroutine.
func (s *Session) teardown(cause error) {
	s.teardownOnce.Do(func() {
		aborted := s.sessCtx.Err() != nil
		var serr *Error
		faulted := cause != nil && !aborted && errors.As(cause, &serr)

		if faulted {
			s.setState(StateFaulted)
			s.metrics.RecordSessionFault(context.Background(), string(serr.Kind))
			s.log.Warn("stream: session faulted", "kind", serr.Kind, "sequence", s.seq, "err", serr.Err)
			if serr.Kind != KindTransport {
				s.notifyFault(serr)
			}
		} else {
			s.setState(StateClosing)
			if len(s.buf) > 0 {
				s.log.Debug("stream: discarding partial window", "bytes", len(s.buf))
			}
			cause = nil
		}

		s.buf = nil
		s.samples = nil
		s.release(s.reserved)

		var closeCause error
		if faulted {
			closeCause = serr
		}
		if err := s.transport.Close(closeCause); err != nil {
			s.log.Debug("stream: transport close error", "err", err)
		}

		if s.onClose != nil {
			s.onClose(s)
		}
		s.sessCancel()

		if !faulted {
			s.setState(StateClosed)
		}
		s.err = cause
		close(s.done)

		s.log.Info("stream: session ended",
			"state", s.State(),
			"windows", s.windows.Load(),
			"samples", s.cursor,
			"duration", time.Since(s.createdAt),
		)
	})
}

// notifyFault sends the terminal error message on a fresh context since the
// session context may already be winding down.
func (s *Session) notifyFault(serr *Error) {
	timeout := s.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	msg := Message{Type: MessageError, Sequence: s.seq, Error: serr, Terminal: true}
	if err := s.transport.Send(ctx, msg); err != nil {
		s.log.Debug("stream: terminal message not delivered", "err", err)
	}
}
