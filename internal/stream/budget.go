package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Budget bounds the total number of received but unprocessed bytes across
// all sessions. Sessions reserve bytes before buffering a chunk and release
// them as windows are consumed.
//
// All methods are safe for concurrent use.
type Budget struct {
	limit int64
	used  atomic.Int64

	mu     sync.Mutex
	notify chan struct{} // closed and replaced on every Release
}

// NewBudget returns a budget capped at limit bytes. A non-positive limit
// disables the cap.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit, notify: make(chan struct{})}
}

// Limit returns the configured cap.
func (b *Budget) Limit() int64 { return b.limit }

// Used returns the number of currently reserved bytes.
func (b *Budget) Used() int64 { return b.used.Load() }

// Reserve claims n bytes, blocking while the claim would exceed the cap.
// waited reports whether the caller had to wait. A request larger than the
// whole cap can never succeed and fails with [ErrResourceExhausted]. If ctx
// is done first, Reserve returns ctx.Err() and claims nothing.
func (b *Budget) Reserve(ctx context.Context, n int64) (waited bool, err error) {
	if n <= 0 {
		return false, nil
	}
	if b.limit <= 0 {
		b.used.Add(n)
		return false, nil
	}
	if n > b.limit {
		return false, fmt.Errorf("%w: %d bytes exceeds global buffer cap of %d", ErrResourceExhausted, n, b.limit)
	}
	for {
		// Grab the channel before checking so a Release between the check
		// and the wait is not missed.
		b.mu.Lock()
		ch := b.notify
		b.mu.Unlock()

		cur := b.used.Load()
		if cur+n <= b.limit {
			if b.used.CompareAndSwap(cur, cur+n) {
				return waited, nil
			}
			continue
		}

		waited = true
		select {
		case <-ch:
		case <-ctx.Done():
			return waited, ctx.Err()
		}
	}
}

// Release returns n bytes to the budget and wakes all waiters.
func (b *Budget) Release(n int64) {
	if n <= 0 {
		return
	}
	b.used.Add(-n)
	b.mu.Lock()
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}
