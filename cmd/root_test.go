package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	soon := time.Now().Add(30 * time.Hour).UTC().Format(time.RFC3339)
	later := time.Now().Add(20 * 24 * time.Hour).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/planner/items" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintf(w, `[
			{"plannable_id":"1","plannable_type":"assignment","plannable_date":%q,"context_name":"Chemistry","html_url":"/courses/4/assignments/1","plannable":{"title":"Titration Lab","points_possible":100}},
			{"plannable_id":"2","plannable_type":"discussion_topic","plannable_date":%q,"context_name":"Literature","html_url":"/courses/5/discussion_topics/2","plannable":{"title":"Chapter 3 reply","points_possible":5}}
		]`, soon, later)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("CANVASPAL_CANVAS_BASE_URL", srv.URL)
	t.Setenv("CANVASPAL_CANVAS_SOURCES", "planner")
	t.Setenv("CANVASPAL_CANVAS_TIMEZONE", "UTC")
	t.Setenv("CANVASPAL_RATELIMIT_ENABLED", "false")
	t.Setenv("CANVASPAL_LOGGING_LEVEL", "error")
	t.Setenv("CANVASPAL_STORAGE_BACKEND", "local")
	t.Setenv("CANVASPAL_STORAGE_LOCAL_DIR", filepath.Join(dir, "blobs"))
	t.Setenv("CANVASPAL_COMPLETION_BACKEND", "sqlite")
	t.Setenv("CANVASPAL_COMPLETION_SQLITE_PATH", filepath.Join(dir, "completions.db"))
	return srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", ""))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScrapeJSON(t *testing.T) {
	base := setupEnv(t)

	out, err := execute(t, "scrape", "--format", "json")
	require.NoError(t, err)

	var snap assignment.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Assignments, 2)
	require.Equal(t, "Titration Lab", snap.Assignments[0].Title)
	require.Equal(t, base+"/courses/4/assignments/1", snap.Assignments[0].URL)
	require.Equal(t, assignment.LevelHigh, snap.Assignments[0].Level)
}

func TestScrapeTextFiltersLevel(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "scrape", "--level", "high")
	require.NoError(t, err)
	require.Contains(t, out, "Titration Lab")
	require.NotContains(t, out, "Chapter 3 reply")
}

func TestScrapeRejectsBadFlags(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "scrape", "--format", "xml")
	require.Error(t, err)

	_, err = execute(t, "scrape", "--level", "urgent")
	require.Error(t, err)
}

func TestCompleteAndUncomplete(t *testing.T) {
	base := setupEnv(t)
	target := base + "/courses/4/assignments/1"

	_, err := execute(t, "scrape", "--format", "json")
	require.NoError(t, err)

	out, err := execute(t, "complete", target+"?module_item_id=9")
	require.NoError(t, err)
	require.Equal(t, "completed\t"+target+"\tin_snapshot=true\n", out)

	out, err = execute(t, "scrape", "--format", "json", "--all")
	require.NoError(t, err)
	var snap assignment.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Assignments, 2)
	last := snap.Assignments[len(snap.Assignments)-1]
	require.Equal(t, target, last.URL)
	require.True(t, last.Completed)

	out, err = execute(t, "scrape", "--format", "json")
	require.NoError(t, err)
	snap = assignment.Snapshot{}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Assignments, 1)

	out, err = execute(t, "uncomplete", target)
	require.NoError(t, err)
	require.Equal(t, "pending\t"+target+"\tin_snapshot=true\n", out)
}

func TestCompleteResolvesCanvasPath(t *testing.T) {
	base := setupEnv(t)

	_, err := execute(t, "scrape", "--format", "json")
	require.NoError(t, err)

	out, err := execute(t, "complete", "/courses/4/assignments/1")
	require.NoError(t, err)
	require.Equal(t, "completed\t"+base+"/courses/4/assignments/1\tin_snapshot=true\n", out)

	out, err = execute(t, "scrape", "--format", "json", "--all")
	require.NoError(t, err)
	var snap assignment.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Equal(t, 1, snap.Counts.Completed)
}

func TestDefaultBackendsKeepCompletions(t *testing.T) {
	base := setupEnv(t)
	for _, key := range []string{
		"CANVASPAL_STORAGE_BACKEND",
		"CANVASPAL_STORAGE_LOCAL_DIR",
		"CANVASPAL_COMPLETION_BACKEND",
		"CANVASPAL_COMPLETION_SQLITE_PATH",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	workdir := t.TempDir()
	t.Chdir(workdir)

	_, err := execute(t, "scrape", "--format", "json")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(workdir, "data", "snapshots", "latest.json"))

	_, err = execute(t, "complete", base+"/courses/4/assignments/1")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(workdir, "data", "completions.db"))

	out, err := execute(t, "scrape", "--format", "json", "--all")
	require.NoError(t, err)
	var snap assignment.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Equal(t, 1, snap.Counts.Completed)
}

func TestCompleteRequiresURL(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "complete")
	require.Error(t, err)

	_, err = execute(t, "complete", "::not a url")
	require.Error(t, err)
}

func TestMissingConfigFails(t *testing.T) {
	setupEnv(t)
	t.Setenv("CANVASPAL_CANVAS_BASE_URL", "")

	_, err := execute(t, "scrape")
	require.Error(t, err)
}

func TestEnvFileIsLoaded(t *testing.T) {
	base := setupEnv(t)
	t.Setenv("CANVASPAL_CANVAS_BASE_URL", "")
	_ = os.Unsetenv("CANVASPAL_CANVAS_BASE_URL")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CANVASPAL_CANVAS_BASE_URL="+base+"\n"), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"scrape", "--env-file", envFile, "--format", "yaml"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "Titration Lab")
}
