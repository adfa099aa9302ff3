package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/clock/system"
	"github.com/JakeFAU/canvaspal/internal/metrics"
	"github.com/JakeFAU/canvaspal/internal/render"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeSnapshots struct {
	mu      sync.Mutex
	base    *url.URL
	snap    *assignment.Snapshot
	calls   []completionCall
	setErr  error
	list    []assignment.Completion
	listErr error
}

type completionCall struct {
	url       string
	completed bool
}

func (f *fakeSnapshots) Latest() (assignment.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return assignment.Snapshot{}, false
	}
	return *f.snap, true
}

func (f *fakeSnapshots) Ready() bool {
	_, ok := f.Latest()
	return ok
}

func (f *fakeSnapshots) SetCompleted(_ context.Context, rawURL string, completed bool) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, err := assignment.CompletionKey(f.base, rawURL)
	if err != nil {
		return "", false, err
	}
	if f.setErr != nil {
		return key, false, f.setErr
	}
	f.calls = append(f.calls, completionCall{url: key, completed: completed})
	return key, f.snap != nil, nil
}

func (f *fakeSnapshots) Completions(context.Context) ([]assignment.Completion, error) {
	return f.list, f.listErr
}

type fakeRefresher struct {
	reasons []assignment.RefreshReason
	queued  bool
	err     error
}

func (f *fakeRefresher) Trigger(reason assignment.RefreshReason) (assignment.RefreshRequest, bool, error) {
	f.reasons = append(f.reasons, reason)
	return assignment.RefreshRequest{ID: "req-1", Reason: reason}, f.queued, f.err
}

func sampleSnapshot() *assignment.Snapshot {
	due := now.Add(24 * time.Hour)
	return &assignment.Snapshot{
		ID:          "snap-1",
		GeneratedAt: now,
		Counts:      assignment.Counts{Pending: 2, Completed: 1, High: 1, Low: 1},
		Assignments: []assignment.Assignment{
			{Title: "Essay", URL: "https://canvas.test/a/1", DueAt: &due, Priority: 0.8, Level: assignment.LevelHigh},
			{Title: "Reading", URL: "https://canvas.test/a/2", DueText: "Friday", Priority: 0.2, Level: assignment.LevelLow},
			{Title: "Done", URL: "https://canvas.test/a/3", DueAt: &due, Priority: 0.5, Level: assignment.LevelMedium, Completed: true},
		},
	}
}

func newTestServer(snaps *fakeSnapshots, refresher *fakeRefresher, auth bool) *Server {
	metrics.Init()
	return NewServer(Options{
		Snapshots:   snaps,
		Refresher:   refresher,
		Clock:       system.Fixed(now),
		Location:    time.UTC,
		Feed:        render.FeedOptions{Title: "Canvas assignments"},
		AuthEnabled: auth,
		APIKey:      "secret",
		Logger:      zap.NewNop(),
	})
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	snaps := &fakeSnapshots{}
	s := newTestServer(snaps, &fakeRefresher{}, false)

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/readyz", nil).Code)
	snaps.snap = sampleSnapshot()
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeSnapshots{}, &fakeRefresher{}, false)
	do(t, s, http.MethodGet, "/healthz", nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestListAssignments(t *testing.T) {
	s := newTestServer(&fakeSnapshots{snap: sampleSnapshot()}, &fakeRefresher{}, false)

	rec := do(t, s, http.MethodGet, "/v1/assignments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap assignment.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Assignments, 2)
	require.Equal(t, 2, snap.Counts.Pending)

	rec = do(t, s, http.MethodGet, "/v1/assignments?include_completed=true&level=medium", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Assignments, 1)
	require.Equal(t, "Done", snap.Assignments[0].Title)

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/assignments?level=urgent", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/assignments?include_completed=maybe", nil).Code)
}

func TestListAssignmentsBeforeFirstSnapshot(t *testing.T) {
	s := newTestServer(&fakeSnapshots{}, &fakeRefresher{}, false)
	require.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/v1/assignments", nil).Code)
}

func TestRefresh(t *testing.T) {
	refresher := &fakeRefresher{queued: true}
	s := newTestServer(&fakeSnapshots{}, refresher, false)

	rec := do(t, s, http.MethodPost, "/v1/refresh", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"request_id":"req-1","queued":true}`, rec.Body.String())
	require.Equal(t, []assignment.RefreshReason{assignment.ReasonAPI}, refresher.reasons)

	refresher.err = errors.New("queue closed")
	require.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodPost, "/v1/refresh", nil).Code)
}

func TestCompletions(t *testing.T) {
	snaps := &fakeSnapshots{
		snap: sampleSnapshot(),
		list: []assignment.Completion{{URL: "https://canvas.test/a/3", CompletedAt: now}},
	}
	s := newTestServer(snaps, &fakeRefresher{}, false)

	rec := do(t, s, http.MethodPut, "/v1/completions", []byte(`{"url":"https://CANVAS.test/a/1/#frag"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"url":"https://canvas.test/a/1","completed":true,"in_snapshot":true}`, rec.Body.String())

	rec = do(t, s, http.MethodPut, "/v1/completions", []byte(`{"url":"https://canvas.test/a/1","completed":false}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/completions?url=https://canvas.test/a/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, []completionCall{
		{url: "https://canvas.test/a/1", completed: true},
		{url: "https://canvas.test/a/1", completed: false},
		{url: "https://canvas.test/a/2", completed: false},
	}, snaps.calls)

	rec = do(t, s, http.MethodGet, "/v1/completions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://canvas.test/a/3")
}

func TestCompletionResolvesCanvasPath(t *testing.T) {
	base, err := url.Parse("https://canvas.test")
	require.NoError(t, err)
	snaps := &fakeSnapshots{snap: sampleSnapshot(), base: base}
	s := newTestServer(snaps, &fakeRefresher{}, false)

	rec := do(t, s, http.MethodDelete, "/v1/completions?url=%2Fcourses%2F4%2Fassignments%2F1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"url":"https://canvas.test/courses/4/assignments/1","completed":false,"in_snapshot":true}`, rec.Body.String())
}

func TestCompletionErrors(t *testing.T) {
	snaps := &fakeSnapshots{}
	s := newTestServer(snaps, &fakeRefresher{}, false)

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/v1/completions", []byte(`{bad`)).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/v1/completions", []byte(`{"url":"  "}`)).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/v1/completions", nil).Code)
	require.Equal(t, http.StatusBadRequest,
		do(t, s, http.MethodPut, "/v1/completions", []byte(`{"url":"/courses/4/assignments/1"}`)).Code)
	require.Empty(t, snaps.calls)

	snaps.setErr = errors.New("disk full")
	require.Equal(t, http.StatusInternalServerError,
		do(t, s, http.MethodPut, "/v1/completions", []byte(`{"url":"https://canvas.test/a/1"}`)).Code)

	snaps.listErr = errors.New("db down")
	require.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/v1/completions", nil).Code)
}

func TestOverlayAndFeed(t *testing.T) {
	s := newTestServer(&fakeSnapshots{snap: sampleSnapshot()}, &fakeRefresher{}, false)

	rec := do(t, s, http.MethodGet, "/overlay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), `<span class="canvaspal-badge">2</span>`)
	require.NotContains(t, rec.Body.String(), "Done")

	rec = do(t, s, http.MethodGet, "/feed.rss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	require.Contains(t, rec.Body.String(), "<title>Essay</title>")
}

func TestOverlayWithoutSnapshot(t *testing.T) {
	s := newTestServer(&fakeSnapshots{}, &fakeRefresher{}, false)
	rec := do(t, s, http.MethodGet, "/overlay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "No upcoming assignments")
}

func TestAPIKeyMiddleware(t *testing.T) {
	s := newTestServer(&fakeSnapshots{snap: sampleSnapshot()}, &fakeRefresher{}, true)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/v1/assignments", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/assignments?api_key=secret", nil).Code)
	for _, wrong := range []string{"secre", "secret2", "SECRET"} {
		require.Equal(t, http.StatusUnauthorized,
			do(t, s, http.MethodGet, "/v1/assignments?api_key="+wrong, nil).Code, "key %q", wrong)
	}

	req := httptest.NewRequest(http.MethodGet, "/overlay", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(&fakeSnapshots{}, &fakeRefresher{}, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
