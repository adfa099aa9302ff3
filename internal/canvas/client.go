// Package canvas talks to the Canvas LMS REST API and turns planner items,
// missing submissions, dashboard cards and course assignments into
// assignment records.
package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/metrics"
)

const (
	acceptHeader = "application/json+canvas-string-ids, application/json"
	jsonPrefix   = "while(1);"
)

// StatusError reports a non-retryable (or exhausted) Canvas response.
type StatusError struct {
	Endpoint   string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("canvas %s: unexpected status %d", e.Endpoint, e.StatusCode)
}

// IsAuthError reports whether err is a 401 or 403 from Canvas.
func IsAuthError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

// Config wires a Client.
type Config struct {
	BaseURL       string
	Tokens        *TokenRing
	SessionCookie string
	PerPage       int
	MaxPages      int
	Location      *time.Location
}

type penalizer interface {
	Penalize(url string, d time.Duration)
}

// Client issues authenticated, paced and retried GETs against one Canvas host.
type Client struct {
	base     *url.URL
	fetcher  assignment.Fetcher
	limiter  assignment.Limiter
	retry    *RetryPolicy
	tokens   *TokenRing
	cookie   string
	perPage  int
	maxPages int
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient validates cfg and builds a Client.
func NewClient(
	cfg Config,
	fetcher assignment.Fetcher,
	limiter assignment.Limiter,
	retry *RetryPolicy,
	logger *zap.Logger,
) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("canvas client requires a fetcher")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse canvas base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("canvas base url must be absolute: %q", cfg.BaseURL)
	}
	if retry == nil {
		retry = NewRetryPolicy(2, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		base:     base,
		fetcher:  fetcher,
		limiter:  limiter,
		retry:    retry,
		tokens:   cfg.Tokens,
		cookie:   cfg.SessionCookie,
		perPage:  perPage,
		maxPages: maxPages,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// BaseURL returns the Canvas root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Headers builds the request headers for one call, rotating tokens.
func (c *Client) Headers() http.Header {
	h := http.Header{}
	h.Set("Accept", acceptHeader)
	h.Set("X-Requested-With", "XMLHttpRequest")
	if tok := c.tokens.Next(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	if c.cookie != "" {
		h.Set("Cookie", c.cookie)
	}
	return h
}

// endpointURL joins an API path (with query) onto the base URL.
func (c *Client) endpointURL(pathAndQuery string) string {
	ref, err := url.Parse(pathAndQuery)
	if err != nil {
		return c.base.String() + pathAndQuery
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + ref.Path
	u.RawQuery = ref.RawQuery
	return u.String()
}

// Get performs one GET with pacing and retries and returns the raw response.
func (c *Client) Get(ctx context.Context, endpoint, rawURL string) (assignment.FetchResponse, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				return assignment.FetchResponse{}, err
			}
		}

		resp, err := c.fetcher.Fetch(ctx, assignment.FetchRequest{URL: rawURL, Headers: c.Headers()})
		if err != nil {
			metrics.ObserveCanvasRequest(endpoint, 0)
			if !c.retry.ShouldRetryError(err, attempt) {
				return assignment.FetchResponse{}, fmt.Errorf("canvas %s: %w", endpoint, err)
			}
			delay := c.retry.Backoff(attempt)
			c.logger.Warn("canvas request failed; retrying",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return assignment.FetchResponse{}, fmt.Errorf("canvas %s: %w", endpoint, err)
			}
			continue
		}

		metrics.ObserveCanvasRequest(endpoint, resp.StatusCode)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if !c.retry.ShouldRetryStatus(resp.StatusCode, attempt) {
			return assignment.FetchResponse{}, &StatusError{
				Endpoint:   endpoint,
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(resp.Body), 256),
			}
		}

		delay := c.retry.Backoff(attempt)
		if wait := retryAfter(resp.Headers, c.now()); wait > 0 {
			if p, ok := c.limiter.(penalizer); ok {
				p.Penalize(rawURL, wait)
			}
			if wait > delay {
				delay = wait
			}
		}
		c.logger.Warn("canvas throttled or unavailable; retrying",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return assignment.FetchResponse{}, fmt.Errorf("canvas %s: %w", endpoint, err)
		}
	}
}

// GetAll fetches every page of a list endpoint, following rel="next" links
// up to the client's page cap.
func GetAll[T any](ctx context.Context, c *Client, endpoint, pathAndQuery string) ([]T, error) {
	next := c.endpointURL(pathAndQuery)
	var out []T
	for page := 0; next != ""; page++ {
		if page >= c.maxPages {
			c.logger.Warn("canvas pagination capped",
				zap.String("endpoint", endpoint),
				zap.Int("max_pages", c.maxPages),
			)
			break
		}
		resp, err := c.Get(ctx, endpoint, next)
		if err != nil {
			return nil, err
		}
		var items []T
		if err := decodeJSON(resp.Body, &items); err != nil {
			return nil, fmt.Errorf("canvas %s: decode page %d: %w", endpoint, page+1, err)
		}
		out = append(out, items...)

		next, err = c.sameHost(nextLink(resp.Headers.Get("Link")))
		if err != nil {
			return nil, fmt.Errorf("canvas %s: %w", endpoint, err)
		}
	}
	return out, nil
}

// sameHost refuses pagination links that would carry credentials elsewhere.
func (c *Client) sameHost(link string) (string, error) {
	if link == "" {
		return "", nil
	}
	u, err := c.base.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	if !strings.EqualFold(u.Host, c.base.Host) {
		return "", fmt.Errorf("next link points at foreign host %q", u.Host)
	}
	return u.String(), nil
}

// resolve turns a Canvas html_url (often relative) into an absolute URL.
func (c *Client) resolve(ref string) string {
	return assignment.ResolveURL(c.base, ref)
}

func decodeJSON(body []byte, out any) error {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, []byte(jsonPrefix))
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
