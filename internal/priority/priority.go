// Package priority implements the urgency heuristic used to rank assignments.
//
//	priority = timeUrgency*0.6 + pointsWeight*0.3 + courseWeight*0.1
//
// timeUrgency is a step function of calendar days until due, pointsWeight is
// min(points/100, 1) and courseWeight is a per-course preference.
package priority

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// Level thresholds: strictly greater than.
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.4
)

// Weights balance the three score components.
type Weights struct {
	Time   float64 `mapstructure:"time"`
	Points float64 `mapstructure:"points"`
	Course float64 `mapstructure:"course"`
}

// DefaultWeights returns the 0.6/0.3/0.1 split.
func DefaultWeights() Weights {
	return Weights{Time: 0.6, Points: 0.3, Course: 0.1}
}

// Config controls a Scorer.
type Config struct {
	Weights             Weights
	PointsScale         float64
	DefaultCourseWeight float64
	CourseWeights       map[string]float64
	Location            *time.Location
}

// Scorer computes priorities relative to a fixed instant.
type Scorer struct {
	weights       Weights
	pointsScale   float64
	defaultCourse float64
	courseWeights map[string]float64
	loc           *time.Location
}

// NewScorer validates cfg and fills defaults.
func NewScorer(cfg Config) (*Scorer, error) {
	w := cfg.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if w.Time < 0 || w.Points < 0 || w.Course < 0 {
		return nil, fmt.Errorf("priority weights must be >= 0: %+v", w)
	}
	scale := cfg.PointsScale
	if scale <= 0 {
		scale = 100
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	weights := make(map[string]float64, len(cfg.CourseWeights))
	for name, v := range cfg.CourseWeights {
		weights[normalizeCourse(name)] = clamp01(v)
	}
	return &Scorer{
		weights:       w,
		pointsScale:   scale,
		defaultCourse: clamp01(cfg.DefaultCourseWeight),
		courseWeights: weights,
		loc:           loc,
	}, nil
}

// Location returns the zone used for calendar-day math.
func (s *Scorer) Location() *time.Location {
	return s.loc
}

// Score returns the clamped priority of a at now.
func (s *Scorer) Score(a assignment.Assignment, now time.Time) float64 {
	urgency := TimeUrgency(DaysUntil(now, a.DueAt, s.loc))
	points := PointsWeight(a.Points, s.pointsScale)
	course := s.CourseWeight(a.Course)
	return clamp01(urgency*s.weights.Time + points*s.weights.Points + course*s.weights.Course)
}

// CourseWeight looks up the configured weight for a course name.
func (s *Scorer) CourseWeight(course string) float64 {
	if w, ok := s.courseWeights[normalizeCourse(course)]; ok {
		return w
	}
	return s.defaultCourse
}

// Apply scores every assignment in place and orders the slice.
func (s *Scorer) Apply(items []assignment.Assignment, now time.Time) {
	for i := range items {
		items[i].Priority = s.Score(items[i], now)
		items[i].Level = LevelFor(items[i].Priority)
	}
	Sort(items)
}

// DaysUntil is the calendar-day distance from now to due in loc: 0 when due
// today, negative when overdue. A nil due date yields nil.
func DaysUntil(now time.Time, due *time.Time, loc *time.Location) *int {
	if due == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	d := due.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	dueDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	days := int(dueDay.Sub(today).Hours() / 24)
	return &days
}

// TimeUrgency maps days until due onto coarse buckets.
func TimeUrgency(days *int) float64 {
	if days == nil {
		return 0.3
	}
	switch d := *days; {
	case d <= 0:
		return 1.0
	case d == 1:
		return 0.9
	case d <= 3:
		return 0.7
	case d <= 7:
		return 0.5
	default:
		return 0.3
	}
}

// PointsWeight is min(points/scale, 1); absent or negative points weigh 0.
func PointsWeight(points *float64, scale float64) float64 {
	if points == nil || *points <= 0 || math.IsNaN(*points) {
		return 0
	}
	if scale <= 0 {
		scale = 100
	}
	return math.Min(*points/scale, 1)
}

// LevelFor classifies a priority.
func LevelFor(p float64) assignment.Level {
	switch {
	case p > HighThreshold:
		return assignment.LevelHigh
	case p > MediumThreshold:
		return assignment.LevelMedium
	default:
		return assignment.LevelLow
	}
}

// TimeStatus renders the short due label shown next to an assignment.
func TimeStatus(days *int) string {
	if days == nil {
		return "No due date"
	}
	switch d := *days; {
	case d < 0:
		return "Past due!"
	case d == 0:
		return "Due today!"
	case d == 1:
		return "Due tomorrow!"
	case d <= 3:
		return fmt.Sprintf("Due in %d days", d)
	default:
		return fmt.Sprintf("%d days remaining", d)
	}
}

// Sort orders pending before completed, then priority desc, then due asc
// (undated last), then title.
func Sort(items []assignment.Assignment) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Completed != b.Completed {
			return !a.Completed
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.DueAt != nil && b.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
			return a.DueAt.Before(*b.DueAt)
		case a.DueAt != nil && b.DueAt == nil:
			return true
		case a.DueAt == nil && b.DueAt != nil:
			return false
		}
		return strings.ToLower(a.Title) < strings.ToLower(b.Title)
	})
}

// Tally counts pending/completed items and levels.
func Tally(items []assignment.Assignment) assignment.Counts {
	var c assignment.Counts
	for _, a := range items {
		if a.Completed {
			c.Completed++
			continue
		}
		c.Pending++
		switch a.Level {
		case assignment.LevelHigh:
			c.High++
		case assignment.LevelMedium:
			c.Medium++
		default:
			c.Low++
		}
	}
	return c
}

func normalizeCourse(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
