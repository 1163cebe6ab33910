package preprocess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/encoderhq/encoderd/internal/types"
)

// slowFirstDecoder delays the first item so later items finish preprocessing
// before it, exercising the order-preservation guarantee.
type slowFirstDecoder struct {
	delay time.Duration
}

func (d slowFirstDecoder) Decode(_ context.Context, item types.Item) (types.Tensor, error) {
	if item.Index == 0 {
		time.Sleep(d.delay)
	}
	return types.Tensor{Shape: []int{1}, Data: []float32{float32(item.Index)}, Text: item.Text}, nil
}

// failingDecoder fails items whose index is in the fail set.
type failingDecoder struct {
	fail map[int]bool
}

func (d failingDecoder) Decode(_ context.Context, item types.Item) (types.Tensor, error) {
	if d.fail[item.Index] {
		return types.Tensor{}, errors.New("malformed content")
	}
	return types.Tensor{Shape: []int{1}, Data: []float32{float32(item.Index)}}, nil
}

// trackingDecoder records the maximum number of concurrent Decode calls.
type trackingDecoder struct {
	current atomic.Int32
	max     atomic.Int32
}

func (d *trackingDecoder) Decode(_ context.Context, item types.Item) (types.Tensor, error) {
	cur := d.current.Add(1)
	for {
		max := d.max.Load()
		if cur <= max || d.max.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	d.current.Add(-1)
	return types.Tensor{Data: []float32{1}}, nil
}

func makeItems(n int) []types.Item {
	items := make([]types.Item, n)
	for i := range items {
		items[i] = types.Item{Index: i, Text: fmt.Sprintf("item %d", i)}
	}
	return items
}

func TestPool_ProcessPreservesOrder(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	items := makeItems(8)
	tensors, errs := pool.Process(context.Background(), items, slowFirstDecoder{delay: 20 * time.Millisecond})

	if len(tensors) != 8 || len(errs) != 8 {
		t.Fatalf("got %d tensors / %d errs, want 8 / 8", len(tensors), len(errs))
	}
	for i := range items {
		if errs[i] != nil {
			t.Fatalf("item %d unexpectedly failed: %v", i, errs[i])
		}
		if tensors[i].Data[0] != float32(i) {
			t.Errorf("slot %d carries tensor for item %v", i, tensors[i].Data[0])
		}
	}
}

func TestPool_ProcessEmptyBatch(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	tensors, errs := pool.Process(context.Background(), nil, TextDecoder{})
	if len(tensors) != 0 || len(errs) != 0 {
		t.Errorf("empty batch produced %d tensors / %d errs", len(tensors), len(errs))
	}
}

func TestPool_PartialDecodeFailure(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	items := makeItems(5)
	tensors, errs := pool.Process(context.Background(), items, failingDecoder{fail: map[int]bool{2: true}})

	for i := range items {
		if i == 2 {
			var decodeErr *DecodeError
			if !errors.As(errs[i], &decodeErr) {
				t.Fatalf("slot 2: expected *DecodeError, got %v", errs[i])
			}
			if decodeErr.Index != 2 {
				t.Errorf("DecodeError.Index = %d, want 2", decodeErr.Index)
			}
			continue
		}
		if errs[i] != nil {
			t.Errorf("slot %d should have succeeded: %v", i, errs[i])
		}
		if tensors[i].Data[0] != float32(i) {
			t.Errorf("slot %d has wrong tensor", i)
		}
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool(workers)
	defer pool.Close()

	dec := &trackingDecoder{}
	pool.Process(context.Background(), makeItems(20), dec)

	if max := dec.max.Load(); max > workers {
		t.Errorf("observed %d concurrent decodes, pool size is %d", max, workers)
	}
}

func TestPool_SharedAcrossConcurrentRequests(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items := makeItems(6)
			tensors, errs := pool.Process(context.Background(), items, slowFirstDecoder{delay: time.Millisecond})
			for i := range items {
				if errs[i] != nil || tensors[i].Data[0] != float32(i) {
					t.Errorf("request saw wrong result at slot %d", i)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPool_CancelledContextMarksItems(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, errs := pool.Process(ctx, makeItems(3), TextDecoder{})
	for i, err := range errs {
		if err == nil {
			t.Errorf("slot %d should carry a cancellation error", i)
		}
	}
}
