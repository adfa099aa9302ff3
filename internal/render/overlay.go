package render

//go:generate templ generate -f overlay.templ

import (
	"time"

	"github.com/a-h/templ"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// OverlayOptions controls the overlay fragment.
type OverlayOptions struct {
	Now              time.Time
	Location         *time.Location
	IncludeCompleted bool
}

// Overlay renders the floating toggle button and the assignment panel. Each
// item carries data-url so a client can PUT the completion toggle.
func Overlay(snap assignment.Snapshot, opts OverlayOptions) templ.Component {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	return overlayPanel(snap, Visible(snap.Assignments, "", opts.IncludeCompleted), now, opts.Location)
}
