package worker

import (
	"context"
	"sync"

	"github.com/retailhub/lottery-sync/internal/domain"
)

// Pool manages the lifecycle of the sync workers, one per direction.
type Pool struct {
	workers map[domain.Direction]*SyncWorker
	wg      sync.WaitGroup
}

func NewPool(workers ...*SyncWorker) *Pool {
	p := &Pool{workers: make(map[domain.Direction]*SyncWorker, len(workers))}
	for _, w := range workers {
		p.workers[w.Direction()] = w
	}
	return p
}

// Start launches all workers as goroutines. Cancelling ctx stops them.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *SyncWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled, so an
// in-flight cycle finishes its database writes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Trigger asks the worker for dir to run now. It returns
// domain.ErrUnknownDirection when no such worker exists, and false when a
// request is already pending.
func (p *Pool) Trigger(dir domain.Direction) (bool, error) {
	w, ok := p.workers[dir]
	if !ok {
		return false, domain.ErrUnknownDirection
	}
	return w.Trigger(), nil
}
