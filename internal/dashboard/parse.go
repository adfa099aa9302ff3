// Package dashboard scrapes assignments out of the rendered Canvas dashboard:
// the classic to-do sidebar, the "Coming Up" list and planner item links.
package dashboard

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/duedate"
)

// Selectors the scraper understands, in the order they are read.
const (
	TodoSelector     = "div.todo-list li.todo"
	UpcomingSelector = "div.coming_up li.upcoming-list-item"
	PlannerSelector  = `a[href*="/assignments/"], a[href*="/quizzes/"], a[href*="/discussion_topics/"]`
)

// Selectors lists every selector whose presence means the page carries
// scrapeable markup.
var Selectors = []string{TodoSelector, UpcomingSelector, PlannerSelector}

var (
	pointsPattern  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:points?|pts)\b`)
	srDuePattern   = regexp.MustCompile(`(?i)\bdue\s+(.*?)\.(?:\s|$)`)
	dueLikePattern = regexp.MustCompile(
		`(?i)\bdue\b|\b(?:today|tomorrow)\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}\b`,
	)
	idPathPattern  = regexp.MustCompile(`/(?:assignments|quizzes|discussion_topics)/(\d+)`)
)

var (
	titleSelectors  = "b, .todo-details__title, .event-details__title, .title, strong"
	courseSelectors = ".todo-details__context, .event-details__context, .todo-course, .course, .context_name"
	dateSelectors   = ".todo-date, .event-details__date, .date, time"
)

// Parse extracts assignments from dashboard HTML. Relative links resolve
// against baseURL and due text is interpreted relative to now in loc.
func Parse(body []byte, baseURL string, now time.Time, loc *time.Location) ([]assignment.Assignment, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse dashboard html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse dashboard url: %w", err)
	}
	p := &parser{base: base, now: now, loc: loc}

	var out []assignment.Assignment
	doc.Find(TodoSelector).Each(func(_ int, s *goquery.Selection) {
		if a, ok := p.listItem(s); ok {
			out = append(out, a)
		}
	})
	doc.Find(UpcomingSelector).Each(func(_ int, s *goquery.Selection) {
		if a, ok := p.listItem(s); ok {
			out = append(out, a)
		}
	})
	doc.Find(PlannerSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Closest("div.todo-list, div.coming_up").Length() > 0 {
			return
		}
		if a, ok := p.plannerLink(s); ok {
			out = append(out, a)
		}
	})
	return out, nil
}

type parser struct {
	base *url.URL
	now  time.Time
	loc  *time.Location
}

// listItem reads a to-do or coming-up <li>.
func (p *parser) listItem(li *goquery.Selection) (assignment.Assignment, bool) {
	link := li.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return !strings.HasPrefix(href, "#") && !strings.Contains(href, "/ignore")
	}).First()
	href, _ := link.Attr("href")

	title := firstText(li, titleSelectors)
	if title == "" {
		title = text(link)
	}
	if title == "" {
		return assignment.Assignment{}, false
	}

	dueText := firstText(li, dateSelectors)
	if dueText == "" {
		dueText = dueLine(li)
	}

	a := assignment.Assignment{
		ID:      elementID(li, href),
		Title:   title,
		Course:  firstText(li, courseSelectors),
		URL:     assignment.ResolveURL(p.base, href),
		Kind:    kindFromURL(href),
		Source:  assignment.SourceDashboardDOM,
		Points:  points(text(li)),
		DueText: duedate.Clean(dueText),
	}
	p.setDue(&a)
	return a, true
}

// plannerLink reads a planner item anchor. The visible title sits in an
// aria-hidden span and the due date only in screen reader text.
func (p *parser) plannerLink(link *goquery.Selection) (assignment.Assignment, bool) {
	href, _ := link.Attr("href")

	title := text(link.Find(`[aria-hidden="true"]`).First())
	if title == "" {
		title = text(link)
	}
	if title == "" {
		return assignment.Assignment{}, false
	}

	var dueText string
	sr := text(link.Find(`[class*="screenReaderContent"]`).First())
	if sr == "" {
		sr = text(link)
	}
	if m := srDuePattern.FindStringSubmatch(sr); m != nil {
		dueText = strings.TrimSpace(m[1])
	}

	course := ""
	if group := link.Closest(`[class*="Grouping-styles__root"]`); group.Length() > 0 {
		course = text(group.Find(`[class*="Grouping-styles__title"]`).First())
	}

	container := link.Closest(`[class*="PlannerItem-styles__root"], li`)
	if container.Length() == 0 {
		container = link
	}
	a := assignment.Assignment{
		ID:      elementID(link, href),
		Title:   title,
		Course:  course,
		URL:     assignment.ResolveURL(p.base, href),
		Kind:    kindFromURL(href),
		Source:  assignment.SourceDashboardDOM,
		Points:  points(text(container)),
		DueText: duedate.Clean(dueText),
	}
	p.setDue(&a)
	return a, true
}

func (p *parser) setDue(a *assignment.Assignment) {
	if a.DueText == "" {
		return
	}
	if t, ok := duedate.Parse(a.DueText, p.now, p.loc); ok {
		a.DueAt = &t
	}
}

// dueLine picks the first paragraph or span that looks like a date.
func dueLine(li *goquery.Selection) string {
	var found string
	li.Find("p, span, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		t := text(s)
		if dueLikePattern.MatchString(t) {
			found = stripPoints(t)
			return false
		}
		return true
	})
	return found
}

// stripPoints drops "100 points •" style prefixes from a due line.
func stripPoints(s string) string {
	s = pointsPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "•|-"))
}

func elementID(s *goquery.Selection, href string) string {
	for _, attr := range []string{"data-assignment-id", "data-item-id", "data-quiz-id"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v, ok := s.Find("[" + attr + "]").First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if m := idPathPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

func kindFromURL(href string) assignment.Kind {
	switch {
	case strings.Contains(href, "/quizzes/"):
		return assignment.KindQuiz
	case strings.Contains(href, "/discussion_topics/"):
		return assignment.KindDiscussion
	case strings.Contains(href, "/assignments/"):
		return assignment.KindAssignment
	default:
		return assignment.KindUnknown
	}
}

func points(s string) *float64 {
	m := pointsPattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstText(s *goquery.Selection, selectors string) string {
	var out string
	s.Find(selectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		out = text(el)
		return out == ""
	})
	return out
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
