package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/metrics"
)

// HeaderSource supplies per-request Canvas headers (token, cookie).
type HeaderSource interface {
	Headers() http.Header
}

// Collector fetches the dashboard page and scrapes it, re-rendering it in a
// headless browser when the static HTML is only an SPA shell.
type Collector struct {
	pageURL  string
	fetcher  assignment.Fetcher
	headless assignment.Fetcher
	detector assignment.HeadlessDetector
	limiter  assignment.Limiter
	headers  HeaderSource
	clock    assignment.Clock
	loc      *time.Location
	logger   *zap.Logger
}

// Options configures a Collector. Headless and Detector may be nil, which
// disables promotion.
type Options struct {
	PageURL  string
	Fetcher  assignment.Fetcher
	Headless assignment.Fetcher
	Detector assignment.HeadlessDetector
	Limiter  assignment.Limiter
	Headers  HeaderSource
	Clock    assignment.Clock
	Location *time.Location
	Logger   *zap.Logger
}

// NewCollector builds a Collector.
func NewCollector(opts Options) (*Collector, error) {
	if opts.PageURL == "" {
		return nil, fmt.Errorf("dashboard collector requires a page url")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("dashboard collector requires a fetcher")
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("dashboard collector requires a clock")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Collector{
		pageURL:  opts.PageURL,
		fetcher:  opts.Fetcher,
		headless: opts.Headless,
		detector: opts.Detector,
		limiter:  opts.Limiter,
		headers:  opts.Headers,
		clock:    opts.Clock,
		loc:      loc,
		logger:   logger,
	}, nil
}

// Source implements assignment.Collector.
func (*Collector) Source() assignment.Source { return assignment.SourceDashboardDOM }

// Collect implements assignment.Collector.
func (c *Collector) Collect(ctx context.Context) ([]assignment.Assignment, error) {
	resp, err := c.fetch(ctx, c.fetcher)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashboard fetch: unexpected status %d", resp.StatusCode)
	}

	if c.headless != nil && c.detector != nil && c.detector.ShouldPromote(resp) {
		c.logger.Info("promoting dashboard fetch to headless", zap.String("url", c.pageURL))
		metrics.ObserveHeadlessPromotion()
		rendered, err := c.fetch(ctx, c.headless)
		if err != nil {
			c.logger.Warn("headless render failed; using static html", zap.Error(err))
		} else {
			resp = rendered
		}
	}

	base := resp.URL
	if base == "" {
		base = c.pageURL
	}
	items, err := Parse(resp.Body, base, c.clock.Now(), c.loc)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("dashboard scraped",
		zap.Int("items", len(items)),
		zap.Bool("headless", resp.UsedHeadless),
	)
	return items, nil
}

func (c *Collector) fetch(ctx context.Context, f assignment.Fetcher) (assignment.FetchResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.pageURL); err != nil {
			return assignment.FetchResponse{}, err
		}
	}
	req := assignment.FetchRequest{URL: c.pageURL}
	if c.headers != nil {
		req.Headers = c.headers.Headers()
		req.Headers.Set("Accept", "text/html,application/xhtml+xml")
		req.Headers.Del("X-Requested-With")
	}
	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return assignment.FetchResponse{}, fmt.Errorf("dashboard fetch: %w", err)
	}
	return resp, nil
}
