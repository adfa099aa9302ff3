package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// CompletionStore keeps completed flags in a map keyed by normalized URL.
type CompletionStore struct {
	mu   sync.RWMutex
	done map[string]time.Time
}

// NewCompletionStore constructs a CompletionStore.
func NewCompletionStore() *CompletionStore {
	return &CompletionStore{done: make(map[string]time.Time)}
}

// SetCompleted marks or clears one URL.
func (s *CompletionStore) SetCompleted(_ context.Context, url string, completed bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !completed {
		delete(s.done, url)
		return nil
	}
	if _, exists := s.done[url]; !exists {
		s.done[url] = at.UTC()
	}
	return nil
}

// CompletedSet reports which of urls are completed.
func (s *CompletionStore) CompletedSet(_ context.Context, urls []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(urls))
	for _, u := range urls {
		if _, ok := s.done[u]; ok {
			out[u] = true
		}
	}
	return out, nil
}

// ListCompleted returns every completed flag, newest first.
func (s *CompletionStore) ListCompleted(_ context.Context) ([]assignment.Completion, error) {
	s.mu.RLock()
	out := make([]assignment.Completion, 0, len(s.done))
	for u, at := range s.done {
		out = append(out, assignment.Completion{URL: u, CompletedAt: at})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].URL < out[j].URL
	})
	return out, nil
}

// Close is a no-op.
func (s *CompletionStore) Close() error {
	return nil
}
