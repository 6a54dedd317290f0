package amazon

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	collyfetcher "github.com/productpulse/review-scraper/internal/fetcher/colly"
	"github.com/productpulse/review-scraper/internal/scraper"
)

var countPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\d,]+)\s+customer review`),
	regexp.MustCompile(`([\d,]+)\s+global ratings`),
	regexp.MustCompile(`([\d,]+)\s+total ratings`),
}

// CountExtractor reads the total review count off the product-reviews
// page without enumerating any reviews.
type CountExtractor struct {
	baseURL string
	fetcher Fetcher
	logger  *zap.Logger
}

// NewCounter builds the count-only extractor.
func NewCounter(baseURL string, fetcher Fetcher, logger *zap.Logger) *CountExtractor {
	if baseURL == "" {
		baseURL = "https://www.amazon.in"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CountExtractor{baseURL: baseURL, fetcher: fetcher, logger: logger.Named("amazon_count")}
}

// OpenSession is a no-op; the reviews page is reachable without a token.
func (e *CountExtractor) OpenSession(context.Context, scraper.Target) (scraper.Session, error) {
	return scraper.Session{}, nil
}

// FirstCursor returns the single-page cursor.
func (e *CountExtractor) FirstCursor() scraper.Cursor {
	return scraper.Cursor{Page: 1}
}

// WindowCount reports 0; there is no pagination.
func (e *CountExtractor) WindowCount() int { return 0 }

// FetchPage performs the single count fetch and completes immediately.
func (e *CountExtractor) FetchPage(
	ctx context.Context,
	target scraper.Target,
	_ scraper.Session,
	_ scraper.Cursor,
) (scraper.Page, error) {
	url := fmt.Sprintf("%s/product-reviews/%s/ref=cm_cr_dp_d_show_all_btm?ie=UTF8&reviewerType=all_reviews",
		e.baseURL, target.ASIN)
	resp, err := e.fetcher.Fetch(ctx, collyfetcher.Request{URL: url})
	if err != nil {
		return scraper.Page{}, classifyFetchError("fetch count", resp.StatusCode, err)
	}

	count, err := extractReviewCount(resp.Body)
	if err != nil {
		return scraper.Page{}, err
	}
	e.logger.Debug("count fetched", zap.String("asin", target.ASIN), zap.Int("count", count))
	return scraper.Page{Done: true, TotalHint: &count}, nil
}

// extractReviewCount prefers the review-count element and falls back to
// ratings copy elsewhere on the page.
func extractReviewCount(body []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return 0, scraper.FatalSourceError("fetch count", err)
	}
	elemText := strings.TrimSpace(doc.Find(`div[data-hook="cr-filter-info-review-rating-count"]`).First().Text())
	if n, ok := matchCount(elemText); ok {
		return n, nil
	}
	if n, ok := matchCount(string(body)); ok {
		return n, nil
	}
	return 0, scraper.FatalSourceError("fetch count",
		fmt.Errorf("no review count on page"))
}

func matchCount(s string) (int, bool) {
	for _, re := range countPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
