package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// FeedOptions describes the RSS channel.
type FeedOptions struct {
	Title       string
	Link        string
	Description string
	Author      string
	Now         time.Time
	Location    *time.Location
}

// Feed renders the pending assignments of snap as RSS 2.0.
func Feed(snap assignment.Snapshot, opts FeedOptions) (string, error) {
	title := opts.Title
	if title == "" {
		title = "Canvas assignments"
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: opts.Link},
		Description: opts.Description,
		Created:     snap.GeneratedAt,
		Updated:     snap.GeneratedAt,
	}
	if opts.Author != "" {
		feed.Author = &feeds.Author{Name: opts.Author}
	}

	pending := Visible(snap.Assignments, "", false)
	feed.Items = make([]*feeds.Item, 0, len(pending))
	for _, a := range pending {
		item := &feeds.Item{
			Title:       a.Title,
			Link:        &feeds.Link{Href: a.URL},
			Id:          a.URL,
			Description: feedDescription(a, now, opts.Location),
			Created:     snap.GeneratedAt,
		}
		if a.DueAt != nil {
			item.Updated = *a.DueAt
		}
		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to generate RSS: %w", err)
	}
	return rss, nil
}

func feedDescription(a assignment.Assignment, now time.Time, loc *time.Location) string {
	parts := []string{
		"Due: " + DueLabel(a, loc),
		StatusLabel(a, now, loc),
	}
	if p := PointsLabel(a); p != "" {
		parts = append(parts, "Points: "+p)
	}
	if a.Course != "" {
		parts = append(parts, a.Course)
	}
	parts = append(parts, "Priority: "+PercentLabel(a.Priority))
	return strings.Join(parts, " | ")
}
