package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/pipeline"
)

func TestMergePrecedenceAndFill(t *testing.T) {
	due := time.Date(2026, 10, 21, 23, 59, 0, 0, time.UTC)
	pts := 25.0

	dom := []assignment.Assignment{{
		Title:   "Essay 2",
		URL:     "https://Canvas.example.edu/courses/1/assignments/9/?module_item_id=4#top",
		DueText: "Oct 21 at 11:59pm",
		Points:  &pts,
		Course:  "ENG 101",
		Source:  assignment.SourceDashboardDOM,
		Kind:    assignment.KindAssignment,
	}}
	planner := []assignment.Assignment{{
		ID:     "9",
		Title:  "Essay 2 (planner)",
		URL:    "https://canvas.example.edu/courses/1/assignments/9",
		DueAt:  &due,
		Source: assignment.SourcePlanner,
		Kind:   assignment.KindUnknown,
	}}
	missing := []assignment.Assignment{{
		Title:     "Essay 2",
		URL:       "https://canvas.example.edu/courses/1/assignments/9",
		DueAt:     &due,
		Source:    assignment.SourceMissing,
		Kind:      assignment.KindMissing,
		Submitted: true,
	}}

	got := pipeline.Merge(dom, missing, planner)
	require.Len(t, got, 1)

	a := got[0]
	require.Equal(t, "Essay 2 (planner)", a.Title)
	require.Equal(t, assignment.SourcePlanner, a.Source)
	require.Equal(t, "https://canvas.example.edu/courses/1/assignments/9", a.URL)
	require.Equal(t, "ENG 101", a.Course)
	require.Equal(t, "Oct 21 at 11:59pm", a.DueText)
	require.NotNil(t, a.Points)
	require.InDelta(t, 25.0, *a.Points, 1e-9)
	require.Equal(t, assignment.KindMissing, a.Kind)
	require.True(t, a.Submitted)
}

func TestMergeDropsUntitledAndUndated(t *testing.T) {
	due := time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)
	got := pipeline.Merge([]assignment.Assignment{
		{Title: "   ", URL: "https://x/a", DueAt: &due, Source: assignment.SourcePlanner},
		{Title: "No due", URL: "https://x/b", Source: assignment.SourcePlanner},
		{Title: "Kept", URL: "https://x/c", DueText: "Tomorrow", Source: assignment.SourcePlanner},
	})
	require.Len(t, got, 1)
	require.Equal(t, "Kept", got[0].Title)
}

func TestMergeFallsBackToIDAndTitleKeys(t *testing.T) {
	due := time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)
	got := pipeline.Merge(
		[]assignment.Assignment{
			{ID: "7", Title: "Quiz", DueAt: &due, Source: assignment.SourceDashboardCards},
			{Title: "Reading", Course: "HIST", DueText: "Friday", Source: assignment.SourceDashboardCards},
		},
		[]assignment.Assignment{
			{ID: "7", Title: "Quiz copy", DueAt: &due, Source: assignment.SourceDashboardDOM},
			{Title: "reading", Course: "hist", DueText: "Friday", Source: assignment.SourceDashboardDOM},
		},
	)
	require.Len(t, got, 2)
	require.Equal(t, "Quiz", got[0].Title)
	require.Equal(t, "Reading", got[1].Title)
}
