// Package scheduler triggers periodic refreshes with robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// Trigger requests a refresh without blocking. *dispatcher.Dispatcher satisfies it.
type Trigger interface {
	Trigger(reason assignment.RefreshReason) (assignment.RefreshRequest, bool, error)
}

// Scheduler fires schedule refreshes on a cron spec.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	spec    string
	trigger Trigger
	logger  *zap.Logger
}

// New parses spec (standard five-field cron or descriptors like "@every 1h")
// and registers the refresh job.
func New(spec string, loc *time.Location, trigger Trigger, logger *zap.Logger) (*Scheduler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("scheduler requires a trigger")
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Sugar()}
	// fire only offers to the queue, which coalesces overlapping refreshes.
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		spec:    spec,
		trigger: trigger,
		logger:  logger,
	}
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("add cron entry %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("refresh schedule started",
		zap.String("spec", s.spec),
		zap.Time("next", s.Next()),
	)
}

// Stop halts the cron loop; the returned context is done once a running job finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next reports the next scheduled activation, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) fire() {
	req, queued, err := s.trigger.Trigger(assignment.ReasonSchedule)
	if err != nil {
		s.logger.Error("scheduled refresh not queued", zap.Error(err))
		return
	}
	if !queued {
		s.logger.Debug("scheduled refresh coalesced with pending request")
		return
	}
	s.logger.Debug("scheduled refresh queued", zap.String("request_id", req.ID))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
