package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/metrics"
	"github.com/JakeFAU/canvaspal/internal/render"
	"github.com/JakeFAU/canvaspal/internal/telemetry"
)

// Snapshots is the read/write surface of the latest snapshot.
// *snapshot.Service satisfies it.
type Snapshots interface {
	Latest() (assignment.Snapshot, bool)
	Ready() bool
	SetCompleted(ctx context.Context, url string, completed bool) (string, bool, error)
	Completions(ctx context.Context) ([]assignment.Completion, error)
}

// Refresher queues refreshes. *dispatcher.Dispatcher satisfies it.
type Refresher interface {
	Trigger(reason assignment.RefreshReason) (assignment.RefreshRequest, bool, error)
}

// Options wires a Server.
type Options struct {
	Snapshots      Snapshots
	Refresher      Refresher
	Clock          assignment.Clock
	Location       *time.Location
	Feed           render.FeedOptions
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the snapshot service and the dispatcher.
type Server struct {
	router    chi.Router
	snapshots Snapshots
	refresher Refresher
	clock     assignment.Clock
	loc       *time.Location
	feed      render.FeedOptions
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		snapshots: opts.Snapshots,
		refresher: opts.Refresher,
		clock:     opts.Clock,
		loc:       loc,
		feed:      opts.Feed,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(otelhttp.NewMiddleware("canvaspal.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	))
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/overlay", s.overlay)
		r.Get("/feed.rss", s.rss)
		r.Route("/v1", func(r chi.Router) {
			r.Get("/assignments", s.listAssignments)
			r.Post("/refresh", s.refresh)
			r.Get("/completions", s.listCompletions)
			r.Put("/completions", s.putCompletion)
			r.Delete("/completions", s.deleteCompletion)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.snapshots.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listAssignments(w http.ResponseWriter, r *http.Request) {
	level, includeCompleted, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, ok := s.snapshots.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	snap.Assignments = render.Visible(snap.Assignments, level, includeCompleted)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) refresh(w http.ResponseWriter, _ *http.Request) {
	req, queued, err := s.refresher.Trigger(assignment.ReasonAPI)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": req.ID,
		"queued":     queued,
	})
}

func (s *Server) listCompletions(w http.ResponseWriter, r *http.Request) {
	list, err := s.snapshots.Completions(r.Context())
	if err != nil {
		s.logger.Error("list completions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list completions")
		return
	}
	if list == nil {
		list = []assignment.Completion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"completions": list})
}

type completionRequest struct {
	URL       string `json:"url"`
	Completed *bool  `json:"completed"`
}

func (s *Server) putCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	completed := true
	if req.Completed != nil {
		completed = *req.Completed
	}
	s.setCompletion(w, r, req.URL, completed)
}

func (s *Server) deleteCompletion(w http.ResponseWriter, r *http.Request) {
	s.setCompletion(w, r, r.URL.Query().Get("url"), false)
}

func (s *Server) setCompletion(w http.ResponseWriter, r *http.Request, rawURL string, completed bool) {
	if strings.TrimSpace(rawURL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	key, found, err := s.snapshots.SetCompleted(r.Context(), rawURL, completed)
	if err != nil {
		if errors.Is(err, assignment.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("set completion failed", zap.String("url", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store completion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":         key,
		"completed":   completed,
		"in_snapshot": found,
	})
}

func (s *Server) overlay(w http.ResponseWriter, r *http.Request) {
	_, includeCompleted, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, _ := s.snapshots.Latest()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	component := render.Overlay(snap, render.OverlayOptions{
		Now:              s.clock.Now(),
		Location:         s.loc,
		IncludeCompleted: includeCompleted,
	})
	if err := component.Render(r.Context(), w); err != nil {
		s.logger.Error("overlay render failed", zap.Error(err))
	}
}

func (s *Server) rss(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.snapshots.Latest()
	opts := s.feed
	opts.Now = s.clock.Now()
	opts.Location = s.loc
	if opts.Link == "" {
		opts.Link = requestBase(r) + "/overlay"
	}
	body, err := render.Feed(snap, opts)
	if err != nil {
		s.logger.Error("feed render failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render feed")
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Warn("feed write failed", zap.Error(err))
	}
}

func parseFilters(r *http.Request) (assignment.Level, bool, error) {
	q := r.URL.Query()
	level := assignment.Level(strings.ToLower(q.Get("level")))
	switch level {
	case "", assignment.LevelHigh, assignment.LevelMedium, assignment.LevelLow:
	default:
		return "", false, fmt.Errorf("invalid level %q", q.Get("level"))
	}
	includeCompleted := false
	if raw := q.Get("include_completed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return "", false, fmt.Errorf("invalid include_completed %q", raw)
		}
		includeCompleted = v
	}
	return level, includeCompleted, nil
}

func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			fields := append([]zap.Field{
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}, telemetry.LogFields(r.Context())...)
			logger.Info("request completed", fields...)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
