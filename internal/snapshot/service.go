// Package snapshot holds the latest refresh result, persists it as JSON blobs
// and applies completion toggles to it.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/metrics"
)

// LatestName is the object name of the most recent snapshot under the prefix.
const LatestName = "latest.json"

const contentType = "application/json"

// Scorer re-applies completion flags and current-time scores to a snapshot.
// *pipeline.Pipeline satisfies it.
type Scorer interface {
	Apply(snap assignment.Snapshot, rawURL string, completed bool) (assignment.Snapshot, bool, error)
	Rescore(snap assignment.Snapshot) (assignment.Snapshot, error)
}

// Options wires a Service. BaseURL resolves relative completion URLs.
type Options struct {
	BaseURL     *url.URL
	Blobs       assignment.BlobStore
	Prefix      string
	Completions assignment.CompletionStore
	Scorer      Scorer
	Clock       assignment.Clock
	Logger      *zap.Logger
}

// Service is the single owner of the latest snapshot.
type Service struct {
	mu     sync.RWMutex
	latest *assignment.Snapshot

	base        *url.URL
	blobs       assignment.BlobStore
	prefix      string
	completions assignment.CompletionStore
	scorer      Scorer
	clock       assignment.Clock
	logger      *zap.Logger
}

// New validates opts and builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Completions == nil || opts.Scorer == nil || opts.Clock == nil {
		return nil, errors.New("snapshot service requires completions, scorer and clock")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		base:        opts.BaseURL,
		blobs:       opts.Blobs,
		prefix:      strings.Trim(opts.Prefix, "/"),
		completions: opts.Completions,
		scorer:      opts.Scorer,
		clock:       opts.Clock,
		logger:      logger,
	}, nil
}

// Latest returns a copy of the current snapshot and whether one exists.
func (s *Service) Latest() (assignment.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return assignment.Snapshot{}, false
	}
	return cloneSnapshot(*s.latest), true
}

// Ready reports whether a snapshot is available to serve.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest != nil
}

// Swap installs snap as the latest and reports whether its fingerprint
// differs from the one it replaced. Completed flags are re-read under the
// lock, so a toggle stored while the pipeline ran is carried over; the
// installed snapshot is returned.
func (s *Service) Swap(ctx context.Context, snap assignment.Snapshot) (assignment.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap = s.reconcile(ctx, snap)
	changed := s.latest == nil || s.latest.Fingerprint != snap.Fingerprint
	c := cloneSnapshot(snap)
	s.latest = &c
	return cloneSnapshot(snap), changed
}

func (s *Service) reconcile(ctx context.Context, snap assignment.Snapshot) assignment.Snapshot {
	urls := make([]string, 0, len(snap.Assignments))
	for _, a := range snap.Assignments {
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	if len(urls) == 0 {
		return snap
	}
	set, err := s.completions.CompletedSet(ctx, urls)
	if err != nil {
		s.logger.Warn("completion recheck failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		return snap
	}
	var stale []assignment.Assignment
	for _, a := range snap.Assignments {
		if a.URL != "" && a.Completed != set[a.URL] {
			stale = append(stale, a)
		}
	}
	for _, a := range stale {
		updated, _, err := s.scorer.Apply(snap, a.URL, set[a.URL])
		if err != nil {
			s.logger.Warn("apply completion failed", zap.String("url", a.URL), zap.Error(err))
			continue
		}
		snap = updated
	}
	return snap
}

// Persist writes snap to <prefix>/<id>.json and <prefix>/latest.json and
// returns the URI of the latest object.
func (s *Service) Persist(ctx context.Context, snap assignment.Snapshot) (string, error) {
	if s.blobs == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if snap.ID != "" {
		if _, err := s.put(ctx, snap.ID+".json", data); err != nil {
			return "", err
		}
	}
	return s.put(ctx, LatestName, data)
}

// LoadLatest restores the last persisted snapshot, rescored for the current
// time. A missing object is not an error; the bool reports whether one was loaded.
func (s *Service) LoadLatest(ctx context.Context) (bool, error) {
	if s.blobs == nil {
		return false, nil
	}
	data, err := s.blobs.GetObject(ctx, s.objectPath(LatestName))
	if err != nil {
		if errors.Is(err, assignment.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load latest snapshot: %w", err)
	}
	var snap assignment.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("decode latest snapshot: %w", err)
	}
	rescored, err := s.scorer.Rescore(snap)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.latest == nil {
		s.latest = &rescored
	}
	s.mu.Unlock()

	s.logger.Info("restored snapshot",
		zap.String("snapshot_id", rescored.ID),
		zap.Time("generated_at", rescored.GeneratedAt),
		zap.Int("assignments", len(rescored.Assignments)),
	)
	return true, nil
}

// SetCompleted persists a completed flag for rawURL and applies it to the
// latest snapshot. It returns the normalized key and whether the snapshot
// contained the URL. Relative URLs resolve against the Canvas base URL.
func (s *Service) SetCompleted(ctx context.Context, rawURL string, completed bool) (string, bool, error) {
	key, err := assignment.CompletionKey(s.base, rawURL)
	if err != nil {
		return "", false, err
	}
	if err := s.completions.SetCompleted(ctx, key, completed, s.clock.Now()); err != nil {
		return key, false, fmt.Errorf("set completed: %w", err)
	}
	metrics.ObserveCompletion(completed)

	s.mu.Lock()
	if s.latest == nil {
		s.mu.Unlock()
		return key, false, nil
	}
	updated, found, err := s.scorer.Apply(*s.latest, key, completed)
	if err != nil {
		s.mu.Unlock()
		return key, false, err
	}
	if found {
		s.latest = &updated
	}
	s.mu.Unlock()

	if found && s.blobs != nil {
		if _, err := s.putLatest(ctx, updated); err != nil {
			s.logger.Warn("persist latest snapshot failed", zap.Error(err))
		}
	}
	s.logger.Debug("completion updated",
		zap.String("url", key),
		zap.Bool("completed", completed),
		zap.Bool("in_snapshot", found),
	)
	return key, found, nil
}

// Completions lists persisted completed flags.
func (s *Service) Completions(ctx context.Context) ([]assignment.Completion, error) {
	out, err := s.completions.ListCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return out, nil
}

func (s *Service) putLatest(ctx context.Context, snap assignment.Snapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.put(ctx, LatestName, data)
}

func (s *Service) put(ctx context.Context, name string, data []byte) (string, error) {
	uri, err := s.blobs.PutObject(ctx, s.objectPath(name), contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return uri, nil
}

func (s *Service) objectPath(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func cloneSnapshot(in assignment.Snapshot) assignment.Snapshot {
	out := in
	out.Assignments = append([]assignment.Assignment(nil), in.Assignments...)
	if in.SourceErrors != nil {
		out.SourceErrors = make(map[string]string, len(in.SourceErrors))
		for k, v := range in.SourceErrors {
			out.SourceErrors[k] = v
		}
	}
	return out
}
