package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/metrics"
	pubmemory "github.com/JakeFAU/canvaspal/internal/publisher/memory"
	queuememory "github.com/JakeFAU/canvaspal/internal/queue/memory"
)

type fakeRunner struct {
	mu    sync.Mutex
	snaps []assignment.Snapshot
	err   error
	calls int
}

func (r *fakeRunner) Run(context.Context) (assignment.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return assignment.Snapshot{}, r.err
	}
	snap := r.snaps[0]
	if len(r.snaps) > 1 {
		r.snaps = r.snaps[1:]
	}
	return snap, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeSnapshots struct {
	mu         sync.Mutex
	latest     string
	persisted  []string
	persistErr error
}

func (s *fakeSnapshots) Swap(_ context.Context, snap assignment.Snapshot) (assignment.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.latest != snap.Fingerprint
	s.latest = snap.Fingerprint
	return snap, changed
}

func (s *fakeSnapshots) Persist(_ context.Context, snap assignment.Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return "", s.persistErr
	}
	s.persisted = append(s.persisted, snap.ID)
	return "memory://snapshots/latest.json", nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("pubsub unavailable")
}

func snap(id, fp string, pending int) assignment.Snapshot {
	return assignment.Snapshot{
		ID:          id,
		GeneratedAt: time.Unix(100, 0).UTC(),
		Fingerprint: fp,
		Counts:      assignment.Counts{Pending: pending},
	}
}

func TestWorkerPublishesOnlyOnFingerprintChange(t *testing.T) {
	metrics.Init()
	runner := &fakeRunner{snaps: []assignment.Snapshot{
		snap("s1", "fp-a", 3),
		snap("s2", "fp-a", 3),
		snap("s3", "fp-b", 2),
	}}
	snaps := &fakeSnapshots{}
	pub := pubmemory.New()
	w := New(queuememory.NewQueue(1), runner, snaps, pub, Config{}, zap.NewNop())

	ctx := context.Background()
	for range 3 {
		_, err := w.Process(ctx, assignment.RefreshRequest{Reason: assignment.ReasonSchedule})
		require.NoError(t, err)
	}

	require.Equal(t, []string{"s1", "s2", "s3"}, snaps.persisted)
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, DefaultTopic, msgs[0].Topic)

	event, ok := msgs[1].Payload.(assignment.UpdateEvent)
	require.True(t, ok)
	require.Equal(t, "s3", event.SnapshotID)
	require.Equal(t, 2, event.Counts.Pending)
}

func TestWorkerRunnerFailure(t *testing.T) {
	metrics.Init()
	runner := &fakeRunner{err: errors.New("all assignment sources failed")}
	snaps := &fakeSnapshots{}
	w := New(queuememory.NewQueue(1), runner, snaps, nil, Config{}, nil)

	_, err := w.Process(context.Background(), assignment.RefreshRequest{Reason: assignment.ReasonAPI})
	require.ErrorContains(t, err, "run pipeline")
	require.Empty(t, snaps.persisted)
	require.Empty(t, snaps.latest)
}

func TestWorkerPersistAndPublishFailuresAreReported(t *testing.T) {
	metrics.Init()
	runner := &fakeRunner{snaps: []assignment.Snapshot{snap("s1", "fp", 1)}}
	snaps := &fakeSnapshots{persistErr: errors.New("bucket gone")}
	w := New(queuememory.NewQueue(1), runner, snaps, failingPublisher{}, Config{}, zap.NewNop())

	got, err := w.Process(context.Background(), assignment.RefreshRequest{Reason: assignment.ReasonCLI})
	require.Error(t, err)
	require.ErrorContains(t, err, "bucket gone")
	require.ErrorContains(t, err, "pubsub unavailable")
	require.Equal(t, "s1", got.ID)
	require.Equal(t, "fp", snaps.latest)
}

func TestWorkerRunConsumesQueue(t *testing.T) {
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(2)
	runner := &fakeRunner{snaps: []assignment.Snapshot{snap("s1", "fp", 0)}}
	w := New(queue, runner, &fakeSnapshots{}, nil, Config{Timeout: time.Second}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, queue.Enqueue(ctx, assignment.RefreshRequest{ID: "r1", Reason: assignment.ReasonStartup}))
	require.NoError(t, queue.Enqueue(ctx, assignment.RefreshRequest{ID: "r2", Reason: assignment.ReasonAPI}))

	require.Eventually(t, func() bool { return runner.count() == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
