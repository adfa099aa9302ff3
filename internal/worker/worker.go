// Package worker implements the refresh execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/metrics"
)

// DefaultTopic is the event name published when the assignment list changes.
const DefaultTopic = "assignments.updated"

const tracerName = "github.com/JakeFAU/canvaspal/internal/worker"

// Refresh outcome labels.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Runner produces one snapshot. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context) (assignment.Snapshot, error)
}

// Snapshots receives finished snapshots. *snapshot.Service satisfies it.
type Snapshots interface {
	Swap(ctx context.Context, snap assignment.Snapshot) (assignment.Snapshot, bool)
	Persist(ctx context.Context, snap assignment.Snapshot) (string, error)
}

// Config controls Worker behavior.
type Config struct {
	Topic   string
	Timeout time.Duration
}

// Worker consumes refresh requests and runs the pipeline for each.
type Worker struct {
	queue     assignment.Queue
	runner    Runner
	snapshots Snapshots
	publisher assignment.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	queue assignment.Queue,
	runner Runner,
	snapshots Snapshots,
	publisher assignment.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		runner:    runner,
		snapshots: snapshots,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming refresh requests until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued refresh",
			zap.String("request_id", req.ID),
			zap.String("reason", string(req.Reason)),
		)
		if _, err := w.Process(ctx, req); err != nil {
			w.logger.Error("refresh failed",
				zap.String("request_id", req.ID),
				zap.String("reason", string(req.Reason)),
				zap.Error(err),
			)
		}
	}
}

// Process runs one refresh, installs and persists the snapshot and publishes
// an update event when the fingerprint changed.
func (w *Worker) Process(ctx context.Context, req assignment.RefreshRequest) (assignment.Snapshot, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker.refresh", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.reason", string(req.Reason)),
	))
	defer span.End()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	snap, err := w.runner.Run(runCtx)
	if err != nil {
		metrics.ObserveRefresh(string(req.Reason), StatusFailed, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		return assignment.Snapshot{}, fmt.Errorf("run pipeline: %w", err)
	}

	snap, changed := w.snapshots.Swap(ctx, snap)

	var errs []error
	uri, err := w.snapshots.Persist(ctx, snap)
	if err != nil {
		errs = append(errs, err)
		w.logger.Warn("persist snapshot failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
	}

	if changed {
		if err := w.publish(ctx, snap); err != nil {
			errs = append(errs, err)
			w.logger.Warn("publish update failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		}
	}

	status := StatusSucceeded
	if len(snap.SourceErrors) > 0 || len(errs) > 0 {
		status = StatusPartial
	}
	metrics.ObserveRefresh(string(req.Reason), status, time.Since(start))
	span.SetAttributes(
		attribute.String("refresh.status", status),
		attribute.Bool("snapshot.changed", changed),
	)

	w.logger.Info("refresh stored",
		zap.String("request_id", req.ID),
		zap.String("snapshot_id", snap.ID),
		zap.String("status", status),
		zap.Bool("changed", changed),
		zap.String("blob_uri", uri),
		zap.Int("pending", snap.Counts.Pending),
	)
	return snap, errors.Join(errs...)
}

func (w *Worker) publish(ctx context.Context, snap assignment.Snapshot) error {
	if w.publisher == nil {
		return nil
	}
	event := assignment.UpdateEvent{
		SnapshotID:  snap.ID,
		GeneratedAt: snap.GeneratedAt,
		Fingerprint: snap.Fingerprint,
		Counts:      snap.Counts,
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("update published",
		zap.String("snapshot_id", snap.ID),
		zap.String("message_id", id),
		zap.Int("badge", snap.Counts.Pending),
	)
	return nil
}
