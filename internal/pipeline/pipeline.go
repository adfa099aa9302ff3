// Package pipeline runs one refresh: collect from every source, merge,
// attach completed flags, score and fingerprint.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/metrics"
	"github.com/JakeFAU/canvaspal/internal/priority"
)

// ErrAllSourcesFailed is returned when no collector produced a batch.
var ErrAllSourcesFailed = errors.New("all assignment sources failed")

// CompletionSourceKey labels completion store failures in SourceErrors.
const CompletionSourceKey = "completion_store"

const tracerName = "github.com/JakeFAU/canvaspal/internal/pipeline"

// Options wires a Pipeline.
type Options struct {
	Collectors  []assignment.Collector
	Completions assignment.CompletionStore
	Scorer      *priority.Scorer
	Clock       assignment.Clock
	IDs         assignment.IDGenerator
	Hasher      assignment.Hasher
	Logger      *zap.Logger
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Pipeline produces snapshots.
type Pipeline struct {
	collectors  []assignment.Collector
	completions assignment.CompletionStore
	scorer      *priority.Scorer
	clock       assignment.Clock
	ids         assignment.IDGenerator
	hasher      assignment.Hasher
	logger      *zap.Logger
	tracer      trace.Tracer
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if len(opts.Collectors) == 0 {
		return nil, errors.New("pipeline requires at least one collector")
	}
	if opts.Completions == nil || opts.Scorer == nil || opts.Clock == nil || opts.IDs == nil || opts.Hasher == nil {
		return nil, errors.New("pipeline requires completions, scorer, clock, ids and hasher")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{
		collectors:  opts.Collectors,
		completions: opts.Completions,
		scorer:      opts.Scorer,
		clock:       opts.Clock,
		ids:         opts.IDs,
		hasher:      opts.Hasher,
		logger:      logger,
		tracer:      tracer,
	}, nil
}

// Run executes one refresh. Individual source failures are recorded in
// Snapshot.SourceErrors; Run fails only when every source fails.
func (p *Pipeline) Run(ctx context.Context) (assignment.Snapshot, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	snap, err := p.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return snap, err
	}
	span.SetAttributes(
		attribute.String("snapshot.id", snap.ID),
		attribute.Int("snapshot.assignments", len(snap.Assignments)),
		attribute.Int("snapshot.source_errors", len(snap.SourceErrors)),
	)
	return snap, nil
}

func (p *Pipeline) run(ctx context.Context) (assignment.Snapshot, error) {
	start := time.Now()
	batches := make([][]assignment.Assignment, len(p.collectors))
	errs := make([]error, len(p.collectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range p.collectors {
		g.Go(func() error {
			sctx, sspan := p.tracer.Start(gctx, "pipeline.collect",
				trace.WithAttributes(attribute.String("source", string(c.Source()))))
			defer sspan.End()
			items, err := c.Collect(sctx)
			metrics.ObserveSource(string(c.Source()), len(items), err)
			sspan.SetAttributes(attribute.Int("items", len(items)))
			if err != nil {
				sspan.RecordError(err)
				sspan.SetStatus(codes.Error, err.Error())
				errs[i] = err
				p.logger.Warn("source failed",
					zap.String("source", string(c.Source())),
					zap.Error(err),
				)
				return nil
			}
			batches[i] = items
			p.logger.Debug("source collected",
				zap.String("source", string(c.Source())),
				zap.Int("items", len(items)),
			)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return assignment.Snapshot{}, fmt.Errorf("refresh canceled: %w", err)
	}

	sourceErrors := map[string]string{}
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			sourceErrors[string(p.collectors[i].Source())] = err.Error()
		}
	}
	if failed == len(p.collectors) {
		return assignment.Snapshot{}, fmt.Errorf("%w: %v", ErrAllSourcesFailed, errors.Join(errs...))
	}

	items := Merge(batches...)

	urls := make([]string, 0, len(items))
	for _, a := range items {
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	completed, err := p.completions.CompletedSet(ctx, urls)
	if err != nil {
		p.logger.Warn("completion lookup failed; treating all items as pending", zap.Error(err))
		sourceErrors[CompletionSourceKey] = err.Error()
	}
	for i := range items {
		items[i].Completed = completed[items[i].URL]
	}

	id, err := p.ids.NewID()
	if err != nil {
		return assignment.Snapshot{}, fmt.Errorf("snapshot id: %w", err)
	}
	now := p.clock.Now()
	snap := assignment.Snapshot{
		ID:           id,
		GeneratedAt:  now,
		Assignments:  items,
		SourceErrors: sourceErrors,
	}
	if len(sourceErrors) == 0 {
		snap.SourceErrors = nil
	}
	if err := p.finalize(&snap, now); err != nil {
		return assignment.Snapshot{}, err
	}

	p.logger.Info("refresh complete",
		zap.String("snapshot_id", snap.ID),
		zap.Int("assignments", len(snap.Assignments)),
		zap.Int("pending", snap.Counts.Pending),
		zap.Int("high", snap.Counts.High),
		zap.Int("failed_sources", failed),
		zap.Duration("duration", time.Since(start)),
	)
	return snap, nil
}

// Apply re-applies one completed flag to a snapshot without re-scraping. It
// returns the updated copy and whether the URL was present.
func (p *Pipeline) Apply(snap assignment.Snapshot, rawURL string, completed bool) (assignment.Snapshot, bool, error) {
	key, err := assignment.NormalizeURL(rawURL)
	if err != nil {
		return snap, false, fmt.Errorf("apply completion: %w", err)
	}
	items := append([]assignment.Assignment(nil), snap.Assignments...)
	found := false
	for i := range items {
		if items[i].URL == key {
			items[i].Completed = completed
			found = true
		}
	}
	if !found {
		return snap, false, nil
	}
	out := snap
	out.Assignments = items
	if err := p.finalize(&out, p.clock.Now()); err != nil {
		return snap, false, err
	}
	return out, true, nil
}

// Rescore recomputes priorities of a stored snapshot for the current time.
func (p *Pipeline) Rescore(snap assignment.Snapshot) (assignment.Snapshot, error) {
	out := snap
	out.Assignments = append([]assignment.Assignment(nil), snap.Assignments...)
	if err := p.finalize(&out, p.clock.Now()); err != nil {
		return snap, err
	}
	return out, nil
}

func (p *Pipeline) finalize(snap *assignment.Snapshot, now time.Time) error {
	p.scorer.Apply(snap.Assignments, now)
	snap.Counts = priority.Tally(snap.Assignments)
	fp, err := Fingerprint(p.hasher, snap.Assignments)
	if err != nil {
		return err
	}
	snap.Fingerprint = fp
	metrics.SetAssignmentCounts(snap.Counts.High, snap.Counts.Medium, snap.Counts.Low, snap.Counts.Completed)
	return nil
}

type fingerprintItem struct {
	URL       string           `json:"u"`
	Title     string           `json:"t"`
	DueAt     *time.Time       `json:"d,omitempty"`
	DueText   string           `json:"dt,omitempty"`
	Points    *float64         `json:"p,omitempty"`
	Course    string           `json:"c,omitempty"`
	Kind      assignment.Kind  `json:"k"`
	Submitted bool             `json:"s"`
	Completed bool             `json:"x"`
	Level     assignment.Level `json:"l"`
}

// Fingerprint hashes the ordered, user-visible content of a batch. Raw
// priority scores drift with the clock and are left out; levels are kept.
func Fingerprint(h assignment.Hasher, items []assignment.Assignment) (string, error) {
	view := make([]fingerprintItem, 0, len(items))
	for _, a := range items {
		var due *time.Time
		if a.DueAt != nil {
			u := a.DueAt.UTC()
			due = &u
		}
		view = append(view, fingerprintItem{
			URL:       a.URL,
			Title:     a.Title,
			DueAt:     due,
			DueText:   a.DueText,
			Points:    a.Points,
			Course:    a.Course,
			Kind:      a.Kind,
			Submitted: a.Submitted,
			Completed: a.Completed,
			Level:     a.Level,
		})
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint: %w", err)
	}
	sum, err := h.Hash(raw)
	if err != nil {
		return "", fmt.Errorf("hash fingerprint: %w", err)
	}
	return sum, nil
}
