package canvas

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// PlannerCollector reads /api/v1/planner/items.
type PlannerCollector struct {
	client *Client
}

// NewPlannerCollector builds a PlannerCollector.
func NewPlannerCollector(c *Client) *PlannerCollector {
	return &PlannerCollector{client: c}
}

// Source implements assignment.Collector.
func (*PlannerCollector) Source() assignment.Source { return assignment.SourcePlanner }

// Collect implements assignment.Collector.
func (p *PlannerCollector) Collect(ctx context.Context) ([]assignment.Assignment, error) {
	path := fmt.Sprintf("/api/v1/planner/items?per_page=%d", p.client.perPage)
	items, err := GetAll[PlannerItem](ctx, p.client, "planner_items", path)
	if err != nil {
		return nil, err
	}
	out := make([]assignment.Assignment, 0, len(items))
	for _, item := range items {
		out = append(out, p.client.fromPlanner(item))
	}
	return out, nil
}

func (c *Client) fromPlanner(item PlannerItem) assignment.Assignment {
	title := item.Plannable.Title
	if title == "" {
		title = item.Plannable.Name
	}
	due := item.PlannableDate
	if due == nil {
		due = item.Plannable.DueAt
	}
	id := string(item.PlannableID)
	if id == "" {
		id = string(item.Plannable.ID)
	}
	submitted := item.submitted()
	if item.PlannerOverride != nil && item.PlannerOverride.MarkedComplete {
		submitted = true
	}
	return assignment.Assignment{
		ID:        id,
		Title:     strings.TrimSpace(title),
		DueAt:     c.localize(due),
		Points:    item.Plannable.PointsPossible.Value,
		Course:    strings.TrimSpace(item.ContextName),
		URL:       c.resolve(item.HTMLURL),
		Kind:      plannerKind(item.PlannableType),
		Source:    assignment.SourcePlanner,
		Submitted: submitted,
		Locked:    item.Plannable.LockedForUser,
	}
}

func plannerKind(t string) assignment.Kind {
	switch strings.ToLower(t) {
	case "quiz", "quizzes/quiz":
		return assignment.KindQuiz
	case "assignment":
		return assignment.KindAssignment
	case "discussion_topic":
		return assignment.KindDiscussion
	case "announcement":
		return assignment.KindAnnouncement
	default:
		return assignment.KindUnknown
	}
}

// MissingCollector reads /api/v1/users/self/missing_submissions.
type MissingCollector struct {
	client *Client
}

// NewMissingCollector builds a MissingCollector.
func NewMissingCollector(c *Client) *MissingCollector {
	return &MissingCollector{client: c}
}

// Source implements assignment.Collector.
func (*MissingCollector) Source() assignment.Source { return assignment.SourceMissing }

// Collect implements assignment.Collector.
func (m *MissingCollector) Collect(ctx context.Context) ([]assignment.Assignment, error) {
	q := url.Values{}
	q.Add("include[]", "planner_overrides")
	q.Add("include[]", "course")
	q.Set("per_page", fmt.Sprint(m.client.perPage))
	items, err := GetAll[Assignment](ctx, m.client, "missing_submissions", "/api/v1/users/self/missing_submissions?"+q.Encode())
	if err != nil {
		return nil, err
	}
	out := make([]assignment.Assignment, 0, len(items))
	for _, item := range items {
		a := m.client.fromAssignment(item, item.Course.DisplayName(), assignment.SourceMissing)
		a.Kind = assignment.KindMissing
		out = append(out, a)
	}
	return out, nil
}

// CardsCollector reads /api/v1/dashboard/dashboard_cards and keeps the
// assignments embedded in each card.
type CardsCollector struct {
	client *Client
}

// NewCardsCollector builds a CardsCollector.
func NewCardsCollector(c *Client) *CardsCollector {
	return &CardsCollector{client: c}
}

// Source implements assignment.Collector.
func (*CardsCollector) Source() assignment.Source { return assignment.SourceDashboardCards }

// Collect implements assignment.Collector.
func (d *CardsCollector) Collect(ctx context.Context) ([]assignment.Assignment, error) {
	cards, err := GetAll[DashboardCard](ctx, d.client, "dashboard_cards", "/api/v1/dashboard/dashboard_cards")
	if err != nil {
		return nil, err
	}
	var out []assignment.Assignment
	for _, card := range cards {
		course := card.ShortName
		if course == "" {
			course = card.OriginalName
		}
		for _, item := range card.Assignments {
			out = append(out, d.client.fromAssignment(item, course, assignment.SourceDashboardCards))
		}
	}
	return out, nil
}

// CourseAssignmentsCollector walks active courses and lists their upcoming
// assignments. Individual course failures are logged and skipped.
type CourseAssignmentsCollector struct {
	client      *Client
	concurrency int
}

// NewCourseAssignmentsCollector builds a CourseAssignmentsCollector.
func NewCourseAssignmentsCollector(c *Client, concurrency int) *CourseAssignmentsCollector {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &CourseAssignmentsCollector{client: c, concurrency: concurrency}
}

// Source implements assignment.Collector.
func (*CourseAssignmentsCollector) Source() assignment.Source {
	return assignment.SourceCourseAssignments
}

// Collect implements assignment.Collector.
func (ca *CourseAssignmentsCollector) Collect(ctx context.Context) ([]assignment.Assignment, error) {
	courses, err := GetAll[Course](ctx, ca.client, "courses",
		"/api/v1/users/self/courses?enrollment_state=active&include[]=term&per_page=100")
	if err != nil {
		return nil, err
	}
	courses = slices.DeleteFunc(courses, func(c Course) bool {
		return c.WorkflowState != "" && c.WorkflowState != "available"
	})
	if len(courses) == 0 {
		return nil, nil
	}

	var (
		mu       sync.Mutex
		out      []assignment.Assignment
		failures int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ca.concurrency)
	for _, course := range courses {
		g.Go(func() error {
			path := fmt.Sprintf("/api/v1/courses/%s/assignments?bucket=upcoming&per_page=100", url.PathEscape(string(course.ID)))
			items, err := GetAll[Assignment](gctx, ca.client, "course_assignments", path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures++
				ca.client.logger.Warn("course assignments failed",
					zap.String("course_id", string(course.ID)),
					zap.Error(err),
				)
				return nil
			}
			for _, item := range items {
				out = append(out, ca.client.fromAssignment(item, course.DisplayName(), assignment.SourceCourseAssignments))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("course assignments: %w", err)
	}
	if failures == len(courses) {
		return nil, fmt.Errorf("course assignments: all %d courses failed", failures)
	}
	return out, nil
}

func (c *Client) fromAssignment(item Assignment, course string, source assignment.Source) assignment.Assignment {
	if course == "" {
		course = item.Course.DisplayName()
	}
	submitted := item.HasSubmittedSubmissions
	if item.PlannerOverride != nil && item.PlannerOverride.MarkedComplete {
		submitted = true
	}
	return assignment.Assignment{
		ID:        string(item.ID),
		Title:     strings.TrimSpace(item.Name),
		DueAt:     c.localize(item.DueAt),
		Points:    item.PointsPossible.Value,
		Course:    strings.TrimSpace(course),
		URL:       c.resolve(item.HTMLURL),
		Kind:      assignmentKind(item),
		Source:    source,
		Submitted: submitted,
		Locked:    item.LockedForUser,
	}
}

func assignmentKind(item Assignment) assignment.Kind {
	if item.IsQuizAssignment || item.QuizID != "" || slices.Contains(item.SubmissionTypes, "online_quiz") {
		return assignment.KindQuiz
	}
	if slices.Contains(item.SubmissionTypes, "discussion_topic") {
		return assignment.KindDiscussion
	}
	return assignment.KindAssignment
}

func (c *Client) localize(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	local := t.In(c.loc)
	return &local
}

// Collectors builds the API collectors for the requested sources. Sources the
// package does not serve are ignored.
func Collectors(c *Client, sources []assignment.Source) []assignment.Collector {
	var out []assignment.Collector
	for _, s := range sources {
		switch s {
		case assignment.SourcePlanner:
			out = append(out, NewPlannerCollector(c))
		case assignment.SourceMissing:
			out = append(out, NewMissingCollector(c))
		case assignment.SourceDashboardCards:
			out = append(out, NewCardsCollector(c))
		case assignment.SourceCourseAssignments:
			out = append(out, NewCourseAssignmentsCollector(c, 2))
		}
	}
	return out
}
