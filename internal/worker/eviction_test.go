package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeCache records EvictBefore calls.
type fakeCache struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
	err     error
}

func (c *fakeCache) EvictBefore(_ context.Context, cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.cutoffs = append(c.cutoffs, cutoff)
	if c.err != nil {
		return 0, c.err
	}
	return 3, nil
}

func (c *fakeCache) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestEvictionCoordinator_EvictsOnTick(t *testing.T) {
	cache := &fakeCache{}
	coordinator := NewEvictionCoordinator(cache, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for cache.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("coordinator never ticked")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	cache.mu.Lock()
	defer cache.mu.Unlock()
	for _, cutoff := range cache.cutoffs {
		age := time.Since(cutoff)
		if age < 55*time.Minute || age > 65*time.Minute {
			t.Errorf("cutoff %v is not roughly TTL ago", cutoff)
		}
	}
}

func TestEvictionCoordinator_ContinuesAfterError(t *testing.T) {
	cache := &fakeCache{err: errors.New("database locked")}
	coordinator := NewEvictionCoordinator(cache, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for cache.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("coordinator stopped retrying after an eviction error")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestEvictionCoordinator_StopsOnCancel(t *testing.T) {
	cache := &fakeCache{}
	coordinator := NewEvictionCoordinator(cache, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop on context cancellation")
	}
}
