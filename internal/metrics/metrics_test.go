package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if refreshesTotal == nil || sourceItemsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveSource("planner", 3, nil)
	ObserveSource("planner", 2, nil)
	if val := testutil.ToFloat64(sourceItemsTotal.WithLabelValues("planner")); val != 5 {
		t.Errorf("Expected planner items to be 5, got %f", val)
	}
	ObserveSource("dashboard_dom", 0, errors.New("boom"))
	if val := testutil.ToFloat64(sourceErrorsTotal.WithLabelValues("dashboard_dom")); val != 1 {
		t.Errorf("Expected dashboard_dom errors to be 1, got %f", val)
	}
}

func TestSetAssignmentCounts(t *testing.T) {
	Init()
	SetAssignmentCounts(2, 1, 4, 3)
	if val := testutil.ToFloat64(assignmentsByLevel.WithLabelValues("high")); val != 2 {
		t.Errorf("Expected high gauge 2, got %f", val)
	}
	if val := testutil.ToFloat64(assignmentsByLevel.WithLabelValues("completed")); val != 3 {
		t.Errorf("Expected completed gauge 3, got %f", val)
	}
}

func TestObserveCanvasRequest(t *testing.T) {
	Init()
	ObserveCanvasRequest("planner_items", 200)
	ObserveCanvasRequest("planner_items", 0)
	if val := testutil.ToFloat64(canvasRequestsTotal.WithLabelValues("planner_items", "200")); val != 1 {
		t.Errorf("Expected one 200, got %f", val)
	}
	if val := testutil.ToFloat64(canvasRequestsTotal.WithLabelValues("planner_items", "error")); val != 1 {
		t.Errorf("Expected one error, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
