package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
canvas:
  base_url: https://canvas.test
  tokens: ["tok-a", "tok-b"]
  per_page: 25
  sources: [dashboard_dom, planner]
  timezone: America/New_York
  course_assignments: true
http:
  timeout_seconds: 45
  max_retries: 4
scoring:
  course_weights:
    Calculus II: 1.0
schedule:
  spec: "@every 30m"
  workers: 2
storage:
  backend: local
  local_dir: /tmp/canvaspal
completion:
  backend: sqlite
  sqlite_path: /tmp/canvaspal/done.db
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, []string{"tok-a", "tok-b"}, cfg.Canvas.Tokens)
	require.Equal(t, 25, cfg.Canvas.PerPage)
	require.Equal(t, 45*time.Second, cfg.RequestTimeout())
	require.Equal(t, "@every 30m", cfg.Schedule.Spec)
	require.Equal(t, 2, cfg.Schedule.Workers)
	require.InDelta(t, 1.0, cfg.Scoring.CourseWeights["calculus ii"], 1e-9)
	require.InDelta(t, 0.6, cfg.Scoring.TimeWeight, 1e-9)
	require.Equal(t, 2000, cfg.Headless.RenderWaitMs)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "America/New_York", loc.String())

	require.Equal(t, []assignment.Source{
		assignment.SourcePlanner,
		assignment.SourceCourseAssignments,
		assignment.SourceDashboardDOM,
	}, cfg.EnabledSources())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CANVASPAL_CANVAS_BASE_URL", "https://school.instructure.com")
	t.Setenv("CANVASPAL_CANVAS_TOKENS", "one, two")
	t.Setenv("CANVASPAL_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://school.instructure.com", cfg.Canvas.BaseURL)
	require.Equal(t, []string{"one", "two"}, cfg.Canvas.Tokens)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "data", cfg.Storage.LocalDir)
	require.Equal(t, "sqlite", cfg.Completion.Backend)
	require.Equal(t, "data/completions.db", cfg.Completion.SQLitePath)
	require.Len(t, cfg.EnabledSources(), 4)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Canvas:     CanvasConfig{BaseURL: "https://canvas.test", PerPage: 50, MaxPages: 5},
		HTTP:       HTTPConfig{TimeoutSeconds: 10},
		Schedule:   ScheduleConfig{Workers: 1, QueueDepth: 4},
		Storage:    StorageConfig{Backend: "memory"},
		Completion: CompletionConfig{Backend: "memory"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing base url", func(c *Config) { c.Canvas.BaseURL = "" }, "canvas.base_url"},
		{"relative base url", func(c *Config) { c.Canvas.BaseURL = "/canvas" }, "canvas.base_url"},
		{"per page too large", func(c *Config) { c.Canvas.PerPage = 500 }, "canvas.per_page"},
		{"unknown source", func(c *Config) { c.Canvas.Sources = []string{"calendar"} }, "canvas.sources"},
		{"bad timezone", func(c *Config) { c.Canvas.Timezone = "Mars/Olympus" }, "canvas.timezone"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"headless missing max parallel", func(c *Config) {
			c.Headless.Enabled = true
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"rate limit without rate", func(c *Config) { c.RateLimit.Enabled = true }, "ratelimit.requests_per_second"},
		{"negative weight", func(c *Config) { c.Scoring.PointsWeight = -1 }, "scoring weights"},
		{"schedule without spec", func(c *Config) { c.Schedule.Enabled = true }, "schedule.spec"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs_bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"postgres without dsn", func(c *Config) { c.Completion.Backend = "postgres" }, "db.dsn"},
		{"pubsub without project", func(c *Config) { c.PubSub.Enabled = true }, "pubsub.project_id"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"sample ratio out of range", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, "telemetry.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
