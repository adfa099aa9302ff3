package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

type recordingTrigger struct {
	mu      sync.Mutex
	reasons []assignment.RefreshReason
	queued  bool
	err     error
}

func (r *recordingTrigger) Trigger(reason assignment.RefreshReason) (assignment.RefreshRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return assignment.RefreshRequest{ID: "req", Reason: reason}, r.queued, r.err
}

func (r *recordingTrigger) calls() []assignment.RefreshReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]assignment.RefreshReason(nil), r.reasons...)
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("every so often", time.UTC, &recordingTrigger{}, nil)
	require.Error(t, err)

	_, err = New("@every 1h", time.UTC, nil, nil)
	require.Error(t, err)
}

func TestFireTriggersScheduleRefresh(t *testing.T) {
	trigger := &recordingTrigger{queued: true}
	s, err := New("@every 1h", time.UTC, trigger, zap.NewNop())
	require.NoError(t, err)

	s.fire()
	require.Equal(t, []assignment.RefreshReason{assignment.ReasonSchedule}, trigger.calls())
}

func TestFireLogsTriggerErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	trigger := &recordingTrigger{err: errors.New("queue closed")}
	s, err := New("@every 1h", time.UTC, trigger, zap.New(core))
	require.NoError(t, err)

	s.fire()
	require.Equal(t, 1, logs.FilterMessage("scheduled refresh not queued").Len())
}

func TestStartComputesNext(t *testing.T) {
	s, err := New("@every 1h", time.UTC, &recordingTrigger{queued: true}, zap.NewNop())
	require.NoError(t, err)
	require.True(t, s.Next().IsZero())

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 10*time.Millisecond)
	require.WithinDuration(t, time.Now().Add(time.Hour), s.Next(), time.Minute)
}

func TestEveryRunsJob(t *testing.T) {
	trigger := &recordingTrigger{queued: true}
	s, err := New("@every 1s", time.UTC, trigger, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return len(trigger.calls()) > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestFireCoalescesIntoPendingRefresh(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	trigger := &recordingTrigger{queued: false}
	s, err := New("@every 1h", time.UTC, trigger, zap.New(core))
	require.NoError(t, err)

	s.fire()
	s.fire()
	require.Len(t, trigger.calls(), 2)
	require.Equal(t, 2, logs.FilterMessage("scheduled refresh coalesced with pending request").Len())
	require.Zero(t, logs.FilterMessage("scheduled refresh queued").Len())
}
