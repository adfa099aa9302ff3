// Package dispatcher fans refresh requests out to the worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/worker"
)

// Queue is a refresh queue that also supports a non-blocking push.
type Queue interface {
	assignment.Queue
	Offer(req assignment.RefreshRequest) error
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	ids     assignment.IDGenerator
	clock   assignment.Clock
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker, ids assignment.IDGenerator, clock assignment.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Trigger requests a refresh without blocking. When the queue is already full
// a refresh is pending anyway, so the request is coalesced and queued is false.
func (d *Dispatcher) Trigger(reason assignment.RefreshReason) (assignment.RefreshRequest, bool, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return assignment.RefreshRequest{}, false, fmt.Errorf("refresh id: %w", err)
	}
	req := assignment.RefreshRequest{ID: id, Reason: reason, RequestedAt: d.clock.Now()}
	if err := d.queue.Offer(req); err != nil {
		if errors.Is(err, assignment.ErrQueueFull) {
			return req, false, nil
		}
		return req, false, fmt.Errorf("queue offer: %w", err)
	}
	return req, true, nil
}
