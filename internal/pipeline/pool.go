package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the
	// queue has no free slot.
	ErrQueueFull = errors.New("pipeline: queue full")
	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = errors.New("pipeline: pool stopped")
)

// Pool runs background jobs on a fixed number of workers. Submissions never
// block: when the queue is saturated the job is refused.
type Pool struct {
	pool pond.Pool

	stopOnce sync.Once
	drained  chan struct{}
}

// NewPool starts a pool of workers with a bounded queue. Both sizes are
// clamped to at least 1; a zero queue would make pond unbounded.
func NewPool(workers, queueSize int) *Pool {
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)
	return &Pool{
		pool:    pond.NewPool(workers, pond.WithQueueSize(queueSize), pond.WithNonBlocking(true)),
		drained: make(chan struct{}),
	}
}

func (p *Pool) Submit(task func()) error {
	const op = "pipeline.Pool.Submit"

	err := p.pool.Go(task)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pond.ErrQueueFull):
		return ErrQueueFull
	case errors.Is(err, pond.ErrPoolStopped):
		return ErrStopped
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Shutdown stops accepting work and waits for queued and running jobs to
// finish, or for ctx to expire. Draining continues after ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		go func() {
			p.pool.StopAndWait()
			close(p.drained)
		}()
	})

	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
