// Package config loads and validates canvaspal configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// EnvPrefix namespaces environment overrides, e.g. CANVASPAL_CANVAS_BASE_URL.
const EnvPrefix = "CANVASPAL"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Canvas     CanvasConfig     `mapstructure:"canvas"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Completion CompletionConfig `mapstructure:"completion"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CanvasConfig points the scraper at one Canvas instance.
type CanvasConfig struct {
	BaseURL           string   `mapstructure:"base_url"`
	Tokens            []string `mapstructure:"tokens"`
	TokenDir          string   `mapstructure:"token_dir"`
	SessionCookie     string   `mapstructure:"session_cookie"`
	DashboardPath     string   `mapstructure:"dashboard_path"`
	PerPage           int      `mapstructure:"per_page"`
	MaxPages          int      `mapstructure:"max_pages"`
	Sources           []string `mapstructure:"sources"`
	Timezone          string   `mapstructure:"timezone"`
	CourseAssignments bool     `mapstructure:"course_assignments"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	RenderWaitMs    int  `mapstructure:"render_wait_ms"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// RateLimitConfig paces requests per Canvas host.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ScoringConfig tunes the priority heuristic.
type ScoringConfig struct {
	TimeWeight          float64            `mapstructure:"time_weight"`
	PointsWeight        float64            `mapstructure:"points_weight"`
	CourseWeight        float64            `mapstructure:"course_weight"`
	PointsScale         float64            `mapstructure:"points_scale"`
	DefaultCourseWeight float64            `mapstructure:"default_course_weight"`
	CourseWeights       map[string]float64 `mapstructure:"course_weights"`
}

// ScheduleConfig controls periodic refreshes.
type ScheduleConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Spec           string `mapstructure:"spec"`
	RefreshOnStart bool   `mapstructure:"refresh_on_start"`
	QueueDepth     int    `mapstructure:"queue_depth"`
	Workers        int    `mapstructure:"workers"`
}

// StorageConfig selects where snapshot blobs go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// CompletionConfig selects the completed-flag backend.
type CompletionConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// FeedConfig describes the RSS channel.
type FeedConfig struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Author      string `mapstructure:"author"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Canvas.Tokens = splitList(cfg.Canvas.Tokens)
	cfg.Canvas.Sources = splitList(cfg.Canvas.Sources)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("canvas.base_url", "")
	v.SetDefault("canvas.tokens", []string{})
	v.SetDefault("canvas.token_dir", "")
	v.SetDefault("canvas.session_cookie", "")
	v.SetDefault("canvas.dashboard_path", "/")
	v.SetDefault("canvas.per_page", 50)
	v.SetDefault("canvas.max_pages", 10)
	v.SetDefault("canvas.sources", []string{
		string(assignment.SourcePlanner),
		string(assignment.SourceMissing),
		string(assignment.SourceDashboardCards),
		string(assignment.SourceDashboardDOM),
	})
	v.SetDefault("canvas.timezone", "Local")
	v.SetDefault("canvas.course_assignments", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.user_agent", "canvaspal/0.1")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.render_wait_ms", 2000)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_second", 2.0)
	v.SetDefault("ratelimit.burst", 4)
	v.SetDefault("scoring.time_weight", 0.6)
	v.SetDefault("scoring.points_weight", 0.3)
	v.SetDefault("scoring.course_weight", 0.1)
	v.SetDefault("scoring.points_scale", 100.0)
	v.SetDefault("scoring.default_course_weight", 0.5)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.spec", "@every 1h")
	v.SetDefault("schedule.refresh_on_start", true)
	v.SetDefault("schedule.queue_depth", 8)
	v.SetDefault("schedule.workers", 1)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("completion.backend", "sqlite")
	v.SetDefault("completion.sqlite_path", "data/completions.db")
	v.SetDefault("db.table", "assignment_completions")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "assignments-updated")
	v.SetDefault("feed.title", "Canvas assignments")
	v.SetDefault("feed.description", "Pending Canvas work ordered by priority")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "canvaspal")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Canvas.BaseURL == "" {
		return fmt.Errorf("canvas.base_url is required")
	}
	if u, err := url.Parse(c.Canvas.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("canvas.base_url must be an absolute URL: %q", c.Canvas.BaseURL)
	}
	if c.Canvas.PerPage <= 0 || c.Canvas.PerPage > 100 {
		return fmt.Errorf("canvas.per_page must be between 1 and 100")
	}
	if c.Canvas.MaxPages <= 0 {
		return fmt.Errorf("canvas.max_pages must be > 0")
	}
	for _, s := range c.Canvas.Sources {
		if !assignment.Source(s).Known() {
			return fmt.Errorf("canvas.sources: unknown source %q", s)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be > 0 when rate limiting is enabled")
	}
	if c.Scoring.TimeWeight < 0 || c.Scoring.PointsWeight < 0 || c.Scoring.CourseWeight < 0 {
		return fmt.Errorf("scoring weights must be >= 0")
	}
	if c.Schedule.Workers <= 0 {
		return fmt.Errorf("schedule.workers must be > 0")
	}
	if c.Schedule.QueueDepth <= 0 {
		return fmt.Errorf("schedule.queue_depth must be > 0")
	}
	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Spec) == "" {
		return fmt.Errorf("schedule.spec must be set when scheduling is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	switch c.Completion.Backend {
	case "memory":
	case "sqlite":
		if c.Completion.SQLitePath == "" {
			return fmt.Errorf("completion.sqlite_path must be set for the sqlite backend")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("completion.backend: unknown backend %q", c.Completion.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Location resolves canvas.timezone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Canvas.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("canvas.timezone: %w", err)
	}
	return loc, nil
}

// EnabledSources returns the configured sources in precedence order. The
// course assignments source is appended when canvas.course_assignments is set.
func (c Config) EnabledSources() []assignment.Source {
	want := make(map[assignment.Source]bool, len(c.Canvas.Sources)+1)
	for _, s := range c.Canvas.Sources {
		want[assignment.Source(s)] = true
	}
	if c.Canvas.CourseAssignments {
		want[assignment.SourceCourseAssignments] = true
	}
	out := make([]assignment.Source, 0, len(want))
	for _, s := range assignment.Sources {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

// RequestTimeout converts the HTTP timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
