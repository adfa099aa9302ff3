package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// ErrDisabled is returned when headless rendering is switched off.
var ErrDisabled = errors.New("headless fetcher not configured")

// Noop implements assignment.Fetcher for deployments without Chrome.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ assignment.FetchRequest) (assignment.FetchResponse, error) {
	return assignment.FetchResponse{}, ErrDisabled
}
