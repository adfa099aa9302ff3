// Package render turns snapshots into the overlay fragment, the RSS feed and
// CLI output.
package render

import (
	"math"
	"strconv"
	"time"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/priority"
)

const dueLayout = "Mon Jan 2, 3:04 PM"

// DueLabel is the human due text: the parsed time in loc when known, else the
// raw scraped text.
func DueLabel(a assignment.Assignment, loc *time.Location) string {
	if a.DueAt != nil {
		if loc == nil {
			loc = time.Local
		}
		return a.DueAt.In(loc).Format(dueLayout)
	}
	if a.DueText != "" {
		return a.DueText
	}
	return "No due date"
}

// StatusLabel is the relative due label, e.g. "Due tomorrow!".
func StatusLabel(a assignment.Assignment, now time.Time, loc *time.Location) string {
	return priority.TimeStatus(priority.DaysUntil(now, a.DueAt, loc))
}

// PointsLabel formats points without trailing zeros; empty when unknown.
func PointsLabel(a assignment.Assignment) string {
	if a.Points == nil {
		return ""
	}
	return strconv.FormatFloat(*a.Points, 'f', -1, 64)
}

// PercentLabel renders a priority as "NN%".
func PercentLabel(p float64) string {
	return strconv.Itoa(int(math.Round(p*100))) + "%"
}

// LevelLabel is the badge text for a level.
func LevelLabel(l assignment.Level) string {
	switch l {
	case assignment.LevelHigh:
		return "High Priority"
	case assignment.LevelMedium:
		return "Medium Priority"
	default:
		return "Low Priority"
	}
}

// Visible filters a snapshot's assignments by level and completion.
func Visible(items []assignment.Assignment, level assignment.Level, includeCompleted bool) []assignment.Assignment {
	out := make([]assignment.Assignment, 0, len(items))
	for _, a := range items {
		if a.Completed && !includeCompleted {
			continue
		}
		if level != "" && a.Level != level {
			continue
		}
		out = append(out, a)
	}
	return out
}
