package canvas

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ID accepts Canvas ids as either JSON strings or numbers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Points accepts points_possible as a number, numeric string or null.
type Points struct {
	Value *float64
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Points) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		p.Value = nil
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		p.Value = nil
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	p.Value = &v
	return nil
}

// PlannerItem is one entry of /api/v1/planner/items.
type PlannerItem struct {
	PlannableID     ID               `json:"plannable_id"`
	PlannableType   string           `json:"plannable_type"`
	PlannableDate   *time.Time       `json:"plannable_date"`
	ContextName     string           `json:"context_name"`
	CourseID        ID               `json:"course_id"`
	HTMLURL         string           `json:"html_url"`
	Plannable       Plannable        `json:"plannable"`
	PlannerOverride *PlannerOverride `json:"planner_override"`
	Submissions     json.RawMessage  `json:"submissions"`
}

// Plannable is the embedded object a planner item points at.
type Plannable struct {
	ID              ID         `json:"id"`
	Title           string     `json:"title"`
	Name            string     `json:"name"`
	PointsPossible  Points     `json:"points_possible"`
	DueAt           *time.Time `json:"due_at"`
	LockedForUser   bool       `json:"locked_for_user"`
	SubmissionTypes []string   `json:"submission_types"`
}

// PlannerOverride carries the student's "mark as done" state.
type PlannerOverride struct {
	MarkedComplete bool `json:"marked_complete"`
	Dismissed      bool `json:"dismissed"`
}

// PlannerSubmissions is the object form of planner_item.submissions; Canvas
// sends false when the plannable takes no submissions.
type PlannerSubmissions struct {
	Submitted bool `json:"submitted"`
	Missing   bool `json:"missing"`
	Graded    bool `json:"graded"`
}

// submitted decodes the submissions field leniently.
func (p PlannerItem) submitted() bool {
	if len(p.Submissions) == 0 || p.Submissions[0] != '{' {
		return false
	}
	var s PlannerSubmissions
	if err := json.Unmarshal(p.Submissions, &s); err != nil {
		return false
	}
	return s.Submitted
}

// Assignment is the Canvas assignment object used by missing submissions,
// dashboard cards and course assignment listings.
type Assignment struct {
	ID                      ID               `json:"id"`
	Name                    string           `json:"name"`
	DueAt                   *time.Time       `json:"due_at"`
	PointsPossible          Points           `json:"points_possible"`
	HTMLURL                 string           `json:"html_url"`
	CourseID                ID               `json:"course_id"`
	Course                  *Course          `json:"course"`
	SubmissionTypes         []string         `json:"submission_types"`
	HasSubmittedSubmissions bool             `json:"has_submitted_submissions"`
	LockedForUser           bool             `json:"locked_for_user"`
	IsQuizAssignment        bool             `json:"is_quiz_assignment"`
	QuizID                  ID               `json:"quiz_id"`
	PlannerOverride         *PlannerOverride `json:"planner_override"`
}

// DashboardCard is one course tile from /api/v1/dashboard/dashboard_cards.
type DashboardCard struct {
	ID           ID           `json:"id"`
	ShortName    string       `json:"shortName"`
	OriginalName string       `json:"originalName"`
	CourseCode   string       `json:"courseCode"`
	Href         string       `json:"href"`
	Assignments  []Assignment `json:"assignments"`
}

// Course is the subset of the course object the collectors need.
type Course struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	CourseCode    string `json:"course_code"`
	WorkflowState string `json:"workflow_state"`
}

// DisplayName prefers the full name over the course code.
func (c *Course) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	return c.CourseCode
}
