package assignment

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a rendered fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Limiter paces outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Collector produces assignments from one source.
type Collector interface {
	Source() Source
	Collect(ctx context.Context) ([]Assignment, error)
}

// CompletionStore persists completed flags keyed by normalized URL.
type CompletionStore interface {
	SetCompleted(ctx context.Context, url string, completed bool, at time.Time) error
	CompletedSet(ctx context.Context, urls []string) (map[string]bool, error)
	ListCompleted(ctx context.Context) ([]Completion, error)
	Close() error
}

// BlobStore writes and reads snapshot artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes update events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for refresh requests.
type Queue interface {
	Enqueue(ctx context.Context, req RefreshRequest) error
	Dequeue(ctx context.Context) (RefreshRequest, error)
}

// Hasher computes digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces snapshot and request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
