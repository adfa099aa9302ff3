// Package simple contains the unlimited pacing policy used when rate
// limiting is switched off.
package simple

import (
	"context"
	"time"
)

// Policy satisfies assignment.Limiter without pacing.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait only reports context cancellation.
func (Policy) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}

// Penalize is a no-op.
func (Policy) Penalize(_ string, _ time.Duration) {}
