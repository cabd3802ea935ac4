package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBudget_ReserveWithinLimit(t *testing.T) {
	t.Parallel()

	b := NewBudget(100)
	waited, err := b.Reserve(context.Background(), 60)
	if err != nil || waited {
		t.Fatalf("Reserve(60) = %v, %v", waited, err)
	}
	if waited, err = b.Reserve(context.Background(), 40); err != nil || waited {
		t.Fatalf("Reserve(40) = %v, %v", waited, err)
	}
	if b.Used() != 100 {
		t.Errorf("Used = %d, want 100", b.Used())
	}
	b.Release(100)
	if b.Used() != 0 {
		t.Errorf("Used after release = %d", b.Used())
	}
}

func TestBudget_LargerThanLimit(t *testing.T) {
	t.Parallel()

	b := NewBudget(10)
	_, err := b.Reserve(context.Background(), 11)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Reserve(11) = %v, want ErrResourceExhausted", err)
	}
	if b.Used() != 0 {
		t.Errorf("Used = %d", b.Used())
	}
}

func TestBudget_WaitsForRelease(t *testing.T) {
	t.Parallel()

	b := NewBudget(10)
	if _, err := b.Reserve(context.Background(), 8); err != nil {
		t.Fatal(err)
	}

	type result struct {
		waited bool
		err    error
	}
	done := make(chan result, 1)
	go func() {
		w, err := b.Reserve(context.Background(), 5)
		done <- result{w, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("Reserve returned early: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	b.Release(8)
	select {
	case r := <-done:
		if r.err != nil || !r.waited {
			t.Errorf("Reserve = %+v, want waited without error", r)
		}
	case <-time.After(testTimeout):
		t.Fatal("Reserve did not wake after Release")
	}
	if b.Used() != 5 {
		t.Errorf("Used = %d, want 5", b.Used())
	}
}

func TestBudget_CancelWhileWaiting(t *testing.T) {
	t.Parallel()

	b := NewBudget(10)
	if _, err := b.Reserve(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	waited, err := b.Reserve(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) || !waited {
		t.Errorf("Reserve = %v, %v", waited, err)
	}
	if b.Used() != 10 {
		t.Errorf("Used = %d, cancelled reservation leaked", b.Used())
	}
}

func TestBudget_Unlimited(t *testing.T) {
	t.Parallel()

	b := NewBudget(0)
	if _, err := b.Reserve(context.Background(), 1<<40); err != nil {
		t.Fatalf("unlimited Reserve: %v", err)
	}
}

func TestBudget_NeverExceedsLimitUnderContention(t *testing.T) {
	t.Parallel()

	const limit = 64
	b := NewBudget(limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := int64(0)

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if _, err := b.Reserve(context.Background(), 7); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				peak = max(peak, b.Used())
				mu.Unlock()
				b.Release(7)
			}
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Errorf("peak usage %d exceeded limit %d", peak, limit)
	}
	if b.Used() != 0 {
		t.Errorf("Used = %d after all releases", b.Used())
	}
}
