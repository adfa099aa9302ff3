package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/clock/system"
	"github.com/JakeFAU/canvaspal/internal/id/uuid"
	queuememory "github.com/JakeFAU/canvaspal/internal/queue/memory"
	"github.com/JakeFAU/canvaspal/internal/worker"
)

// blockingQueue signals when a worker starts dequeuing and then waits for cancel.
type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, assignment.RefreshRequest) error {
	return errors.New("enqueue failed")
}

func (q *blockingQueue) Offer(assignment.RefreshRequest) error {
	return errors.New("offer failed")
}

func (q *blockingQueue) Dequeue(ctx context.Context) (assignment.RefreshRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return assignment.RefreshRequest{}, ctx.Err()
}

var fixed = system.Fixed(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w}, uuid.NewUUIDGenerator(), fixed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherTriggerForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&blockingQueue{started: make(chan struct{}, 1)}, nil, uuid.NewUUIDGenerator(), fixed)
	_, queued, err := dispatch.Trigger(assignment.ReasonAPI)
	require.ErrorContains(t, err, "offer failed")
	require.False(t, queued)
}

func TestDispatcherTriggerCoalesces(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	dispatch := New(queue, nil, uuid.NewUUIDGenerator(), fixed)

	req, queued, err := dispatch.Trigger(assignment.ReasonAPI)
	require.NoError(t, err)
	require.True(t, queued)
	require.True(t, uuid.Valid(req.ID))
	require.Equal(t, assignment.ReasonAPI, req.Reason)
	require.Equal(t, time.Time(fixed), req.RequestedAt)

	_, queued, err = dispatch.Trigger(assignment.ReasonSchedule)
	require.NoError(t, err)
	require.False(t, queued)
	require.Equal(t, 1, queue.Len())
}
