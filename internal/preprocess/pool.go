package preprocess

import (
	"context"
	"log/slog"
	"sync"

	"github.com/encoderhq/encoderd/internal/types"
)

// Pool is a bounded set of reusable preprocessing workers. It is constructed
// once at process start and shared by every request for the lifetime of the
// server; workers are never spawned per request. Excess batches queue on the
// task channel until a worker frees up, which bounds memory under load.
type Pool struct {
	tasks chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
}

type task struct {
	ctx     context.Context
	item    types.Item
	slot    int
	dec     Decoder
	tensors []types.Tensor
	errs    []error
	done    *sync.WaitGroup
}

// NewPool creates a pool with n long-lived workers. n must be at least 1;
// configuration validation enforces this before the pool is built.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		tasks: make(chan task),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	slog.Info("preprocessing pool started", "component", "preprocess", "workers", n)
	return p
}

// Process distributes the batch's items across idle workers and waits for all
// of them. Tensors come back in input order. A failed item occupies only its
// own error slot; the rest of the batch proceeds.
func (p *Pool) Process(ctx context.Context, items []types.Item, dec Decoder) ([]types.Tensor, []error) {
	tensors := make([]types.Tensor, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return tensors, errs
	}

	var done sync.WaitGroup
	submitted := 0
	for i := range items {
		t := task{
			ctx:     ctx,
			item:    items[i],
			slot:    i,
			dec:     dec,
			tensors: tensors,
			errs:    errs,
			done:    &done,
		}
		done.Add(1)
		select {
		case p.tasks <- t:
			submitted++
		case <-ctx.Done():
			done.Done()
			errs[i] = ctx.Err()
		}
	}
	done.Wait()
	return tensors, errs
}

// worker pulls tasks until the pool is closed.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(t)
	}
	slog.Debug("preprocess worker stopped", "component", "preprocess", "worker", id)
}

func (p *Pool) run(t task) {
	defer t.done.Done()

	if err := t.ctx.Err(); err != nil {
		t.errs[t.slot] = err
		return
	}

	tensor, err := t.dec.Decode(t.ctx, t.item)
	if err != nil {
		t.errs[t.slot] = &DecodeError{Index: t.item.Index, Err: err}
		return
	}
	t.tensors[t.slot] = tensor
}

// Close stops the workers after in-flight tasks finish. Process must not be
// called after Close.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
