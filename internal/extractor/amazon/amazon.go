// Package amazon extracts product reviews through Amazon's review AJAX
// endpoint, walking the star-filter windows from five stars down to one.
package amazon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/productpulse/review-scraper/internal/fetcher/colly"
	"github.com/productpulse/review-scraper/internal/scraper"
)

// windows are the star filters traversed in order. Amazon caps plain
// pagination around page 10, so filtered passes reach far more rows
// than a single unfiltered walk.
var windows = []string{"five_star", "four_star", "three_star", "two_star", "one_star"}

// Fetcher executes single HTTP exchanges.
type Fetcher interface {
	Fetch(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
}

// Config controls the reviews extractor.
type Config struct {
	// BaseURL is the marketplace root, e.g. https://www.amazon.in.
	BaseURL string
	// PageSize is the AJAX page size (source maximum is 10).
	PageSize int
	// MaxPagesPerWindow bounds each star filter's pagination.
	MaxPagesPerWindow int
	// MaxEmptyPages ends a window after this many consecutive pages
	// without records.
	MaxEmptyPages int
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.amazon.in"
	}
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.MaxPagesPerWindow <= 0 {
		c.MaxPagesPerWindow = 15
	}
	if c.MaxEmptyPages <= 0 {
		c.MaxEmptyPages = 3
	}
}

// Extractor implements scraper.Extractor for Amazon reviews.
type Extractor struct {
	cfg     Config
	fetcher Fetcher
	logger  *zap.Logger
}

// New builds the reviews extractor.
func New(cfg Config, fetcher Fetcher, logger *zap.Logger) *Extractor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, fetcher: fetcher, logger: logger.Named("amazon")}
}

// FirstCursor starts at page one of the five-star window.
func (e *Extractor) FirstCursor() scraper.Cursor {
	return scraper.Cursor{WindowIndex: 0, Window: windows[0], Page: 1}
}

// WindowCount reports the number of star-filter windows.
func (e *Extractor) WindowCount() int {
	return len(windows)
}

// OpenSession loads a product page and extracts the anti-CSRF token the
// AJAX endpoint requires, along with the cookies Amazon sets. A target
// whose pages expose no token cannot be scraped; that is a fatal error.
func (e *Extractor) OpenSession(ctx context.Context, target scraper.Target) (scraper.Session, error) {
	candidates := []string{
		fmt.Sprintf("%s/dp/%s", e.cfg.BaseURL, target.ASIN),
		fmt.Sprintf("%s/product-reviews/%s", e.cfg.BaseURL, target.ASIN),
		fmt.Sprintf("%s/gp/product/%s", e.cfg.BaseURL, target.ASIN),
	}
	var lastErr error
	for _, url := range candidates {
		resp, err := e.fetcher.Fetch(ctx, collyfetcher.Request{URL: url})
		if err != nil {
			if resp.StatusCode == http.StatusNotFound {
				continue
			}
			lastErr = classifyFetchError("open session", resp.StatusCode, err)
			continue
		}
		token, err := extractCSRFToken(resp.Body)
		if err != nil {
			lastErr = err
			continue
		}
		e.logger.Debug("session opened", zap.String("asin", target.ASIN), zap.String("url", url))
		return scraper.Session{
			CSRFToken: token,
			Cookie:    joinCookies(resp.Headers),
		}, nil
	}
	if lastErr != nil {
		return scraper.Session{}, lastErr
	}
	return scraper.Session{}, scraper.FatalSourceError("open session",
		fmt.Errorf("no csrf token on any page for asin %s", target.ASIN))
}

// FetchPage posts one AJAX request for the cursor's star window and
// page, parses the returned snippets, and advances the cursor.
func (e *Extractor) FetchPage(
	ctx context.Context,
	target scraper.Target,
	sess scraper.Session,
	cursor scraper.Cursor,
) (scraper.Page, error) {
	if sess.CSRFToken == "" {
		return scraper.Page{}, scraper.FatalSourceError("fetch page",
			fmt.Errorf("session has no csrf token"))
	}

	url := fmt.Sprintf("%s/portal/customer-reviews/ajax/reviews/get/ref=cm_cr_arp_d_viewopt_sr", e.cfg.BaseURL)
	referer := fmt.Sprintf(
		"%s/product-reviews/%s/ref=cm_cr_arp_d_viewopt_sr?ie=UTF8&reviewerType=all_reviews&pageNumber=%d&filterByStar=%s",
		e.cfg.BaseURL, target.ASIN, cursor.Page, cursor.Window,
	)
	headers := http.Header{}
	headers.Set("anti-csrftoken-a2z", sess.CSRFToken)
	headers.Set("Referer", referer)
	headers.Set("Accept", "text/html,*/*")
	req := collyfetcher.Request{
		URL:     url,
		Headers: headers,
		Form: map[string]string{
			"asin":         target.ASIN,
			"reviewerType": "all_reviews",
			"filterByStar": cursor.Window,
			"pageNumber":   fmt.Sprintf("%d", cursor.Page),
			"pageSize":     fmt.Sprintf("%d", e.cfg.PageSize),
			"scope":        "reviewsAjax2",
			"sortBy":       "recent",
		},
	}
	if sess.Cookie != "" {
		req.Headers.Set("Cookie", sess.Cookie)
	}

	start := time.Now()
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return scraper.Page{}, classifyFetchError("fetch page", resp.StatusCode, err)
	}

	snippets := parseAjaxResponse(resp.Body)
	records := extractReviews(snippets, cursor.Window)
	e.logger.Debug("page fetched",
		zap.String("window", cursor.Window),
		zap.Int("page", cursor.Page),
		zap.Int("records", len(records)),
		zap.Duration("dur", time.Since(start)),
	)

	page := scraper.Page{Records: records}
	page.Next, page.Done = e.advance(cursor, len(records))
	return page, nil
}

// advance computes the next cursor: stay in the window while it keeps
// producing, otherwise move to the next star filter.
func (e *Extractor) advance(cursor scraper.Cursor, got int) (scraper.Cursor, bool) {
	empties := 0
	if got == 0 {
		empties = cursor.Empties + 1
	}
	windowExhausted := empties >= e.cfg.MaxEmptyPages || cursor.Page >= e.cfg.MaxPagesPerWindow
	if !windowExhausted {
		return scraper.Cursor{
			WindowIndex: cursor.WindowIndex,
			Window:      cursor.Window,
			Page:        cursor.Page + 1,
			Empties:     empties,
		}, false
	}
	next := cursor.WindowIndex + 1
	if next >= len(windows) {
		return scraper.Cursor{}, true
	}
	return scraper.Cursor{WindowIndex: next, Window: windows[next], Page: 1}, false
}

// classifyFetchError maps transport failures and status codes onto the
// transient/fatal split. Throttling and server errors are worth a
// retry; auth failures mean the session is gone for good.
func classifyFetchError(op string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return scraper.TransientSourceError(op, fmt.Errorf("status %d: %w", status, err))
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return scraper.FatalSourceError(op, fmt.Errorf("session expired or blocked (status %d): %w", status, err))
	case status >= 400:
		return scraper.FatalSourceError(op, fmt.Errorf("status %d: %w", status, err))
	default:
		return scraper.TransientSourceError(op, err)
	}
}

func joinCookies(h http.Header) string {
	if h == nil {
		return ""
	}
	cookies := h.Values("Set-Cookie")
	if len(cookies) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		// keep only the name=value pair
		if idx := strings.IndexByte(c, ';'); idx >= 0 {
			c = c[:idx]
		}
		pairs = append(pairs, c)
	}
	return strings.Join(pairs, "; ")
}
