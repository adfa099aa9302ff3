// Package detector decides when a dashboard fetch must be re-run in a
// headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// Heuristic promotes SPA shells that carry none of the markup the DOM
// scraper understands.
type Heuristic struct {
	BodyLengthThreshold int
	ScriptPercent       int
	Selectors           []string
}

// NewHeuristic creates a new detector. scriptPercent is the share of the body
// covered by <script> blocks above which a short page counts as a shell.
func NewHeuristic(scriptPercent int, selectors ...string) *Heuristic {
	if scriptPercent <= 0 || scriptPercent > 100 {
		scriptPercent = 25
	}
	return &Heuristic{
		BodyLengthThreshold: 2048,
		ScriptPercent:       scriptPercent,
		Selectors:           selectors,
	}
}

var spaMarkers = [][]byte{
	[]byte(`id="dashboard-planner"`),
	[]byte(`id="DashboardCard_Container"`),
	[]byte("data-react-class"),
	[]byte("data-reactroot"),
	[]byte(`id="application"`),
	[]byte("window.ENV"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp assignment.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if h.hasKnownSelectors(body) {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body, h.ScriptPercent) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (h *Heuristic) hasKnownSelectors(body []byte) bool {
	if len(h.Selectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range h.Selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte, percent int) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= percent
}
