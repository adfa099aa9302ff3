// Package assignment defines the core types shared across subsystems.
package assignment

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrNotFound is returned by stores when a key or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQueueFull is returned when a refresh cannot be queued without blocking.
	ErrQueueFull = errors.New("refresh queue full")
	// ErrInvalidURL is returned when a completion URL cannot name an assignment.
	ErrInvalidURL = errors.New("invalid url")
)

// Kind classifies the Canvas item behind an assignment.
type Kind string

// Kinds reported by the planner, the missing submissions feed and the dashboard.
const (
	KindAssignment   Kind = "assignment"
	KindQuiz         Kind = "quiz"
	KindDiscussion   Kind = "discussion"
	KindAnnouncement Kind = "announcement"
	KindMissing      Kind = "missing_submission"
	KindUnknown      Kind = "unknown"
)

// Source names where an assignment was discovered.
type Source string

// Sources in merge precedence order.
const (
	SourcePlanner           Source = "planner"
	SourceMissing           Source = "missing_submissions"
	SourceDashboardCards    Source = "dashboard_cards"
	SourceCourseAssignments Source = "course_assignments"
	SourceDashboardDOM      Source = "dashboard_dom"
)

// Sources lists every known source in precedence order.
var Sources = []Source{
	SourcePlanner,
	SourceMissing,
	SourceDashboardCards,
	SourceCourseAssignments,
	SourceDashboardDOM,
}

// Rank returns the merge precedence of a source; lower wins.
func (s Source) Rank() int {
	for i, known := range Sources {
		if known == s {
			return i
		}
	}
	return len(Sources)
}

// Known reports whether s is one of Sources.
func (s Source) Known() bool {
	return s.Rank() < len(Sources)
}

// Level is the display bucket derived from a priority.
type Level string

// Priority levels.
const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Assignment is one unit of upcoming work. Records are rebuilt on every scrape.
type Assignment struct {
	ID        string     `json:"id,omitempty" yaml:"id,omitempty"`
	Title     string     `json:"title" yaml:"title"`
	DueText   string     `json:"due_text,omitempty" yaml:"due_text,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty" yaml:"due_at,omitempty"`
	Points    *float64   `json:"points,omitempty" yaml:"points,omitempty"`
	Course    string     `json:"course,omitempty" yaml:"course,omitempty"`
	URL       string     `json:"url" yaml:"url"`
	Kind      Kind       `json:"kind" yaml:"kind"`
	Source    Source     `json:"source" yaml:"source"`
	Submitted bool       `json:"submitted" yaml:"submitted"`
	Locked    bool       `json:"locked" yaml:"locked"`
	Priority  float64    `json:"priority" yaml:"priority"`
	Level     Level      `json:"level" yaml:"level"`
	Completed bool       `json:"completed" yaml:"completed"`
}

// HasDue reports whether any due information was captured.
func (a Assignment) HasDue() bool {
	return a.DueAt != nil || a.DueText != ""
}

// Counts summarizes a batch for badges and feeds.
type Counts struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	High      int `json:"high"`
	Medium    int `json:"medium"`
	Low       int `json:"low"`
}

// Snapshot is the result of one refresh run.
type Snapshot struct {
	ID           string            `json:"id"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Assignments  []Assignment      `json:"assignments"`
	Counts       Counts            `json:"counts"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
	Fingerprint  string            `json:"fingerprint"`
}

// Completion is a persisted completed flag.
type Completion struct {
	URL         string    `json:"url"`
	CompletedAt time.Time `json:"completed_at"`
}

// RefreshReason explains why a refresh was requested.
type RefreshReason string

// Refresh triggers.
const (
	ReasonStartup  RefreshReason = "startup"
	ReasonSchedule RefreshReason = "schedule"
	ReasonAPI      RefreshReason = "api"
	ReasonCLI      RefreshReason = "cli"
)

// RefreshRequest is queued for the refresh workers.
type RefreshRequest struct {
	ID          string
	Reason      RefreshReason
	RequestedAt time.Time
}

// UpdateEvent is published when a refresh produces a new fingerprint.
type UpdateEvent struct {
	SnapshotID  string    `json:"snapshot_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Fingerprint string    `json:"fingerprint"`
	Counts      Counts    `json:"counts"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
