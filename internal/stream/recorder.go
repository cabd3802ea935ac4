package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/auralyze/pkg/store"
)

// defaultGuardDepth is the queue length used when NewResultGuard is given a
// non-positive depth.
const defaultGuardDepth = 1024

// guardWriteTimeout bounds each write to the underlying log.
const guardWriteTimeout = 5 * time.Second

// ResultGuard wraps a [store.ResultLog] and makes persistence non-fatal.
// Results are queued and written by a background goroutine; store failures
// are logged and swallowed, and the guard is marked as degraded until the
// next successful write. A full queue drops the record instead of blocking
// the session.
//
// ResultGuard implements [Recorder]. All methods are safe for concurrent use.
type ResultGuard struct {
	log      store.ResultLog
	queue    chan store.ResultRecord
	degraded atomic.Bool
	dropped  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewResultGuard starts a guard writing to log with a queue of depth records.
func NewResultGuard(log store.ResultLog, depth int) *ResultGuard {
	if depth <= 0 {
		depth = defaultGuardDepth
	}
	g := &ResultGuard{
		log:   log,
		queue: make(chan store.ResultRecord, depth),
		done:  make(chan struct{}),
	}
	go g.loop()
	return g
}

// Record enqueues one result. It never blocks.
func (g *ResultGuard) Record(sessionID string, sequence uint64, r ClassificationResult) {
	rec := store.ResultRecord{
		SessionID:    sessionID,
		Sequence:     sequence,
		Label:        r.Prediction,
		Confidence:   r.Confidence,
		Timestamp:    r.Timestamp,
		FeaturesUsed: r.FeaturesUsed,
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return
	}
	select {
	case g.queue <- rec:
	default:
		g.dropped.Add(1)
		g.degraded.Store(true)
		slog.Warn("result guard: queue full, dropping result",
			"session_id", sessionID,
			"sequence", sequence,
		)
	}
}

func (g *ResultGuard) loop() {
	defer close(g.done)
	for rec := range g.queue {
		ctx, cancel := context.WithTimeout(context.Background(), guardWriteTimeout)
		err := g.log.WriteResult(ctx, rec)
		cancel()
		if err != nil {
			g.degraded.Store(true)
			slog.Warn("result guard: WriteResult failed, swallowing error",
				"session_id", rec.SessionID,
				"sequence", rec.Sequence,
				"error", err,
			)
			continue
		}
		g.degraded.Store(false)
	}
}

// Close stops accepting records and waits until queued records are written
// or ctx is done.
func (g *ResultGuard) Close(ctx context.Context) error {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		close(g.queue)
	}
	g.mu.Unlock()

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDegraded reports whether the most recent write failed or a record was
// dropped since the last successful write.
func (g *ResultGuard) IsDegraded() bool { return g.degraded.Load() }

// Dropped returns the number of records discarded because the queue was full.
func (g *ResultGuard) Dropped() int64 { return g.dropped.Load() }

var _ Recorder = (*ResultGuard)(nil)
