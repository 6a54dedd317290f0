// Package flipkart extracts product reviews through Flipkart's page
// fetch API, paginating by bare page number.
package flipkart

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/productpulse/review-scraper/internal/scraper"
)

const defaultAPIURL = "https://2.rome.api.flipkart.com/api/4/page/fetch"

// Config controls the extractor.
type Config struct {
	// APIURL overrides the page fetch endpoint (tests).
	APIURL string
	// Cookie is the injected session cookie; the API tolerates an
	// empty one for most products.
	Cookie    string
	UserAgent string
	Timeout   time.Duration
	// MaxPages bounds the traversal when the API never reports a
	// total page count.
	MaxPages int
	// MaxEmptyPages ends the traversal after this many consecutive
	// pages without records.
	MaxEmptyPages int
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 500
	}
	if c.MaxEmptyPages <= 0 {
		c.MaxEmptyPages = 40
	}
}

// Extractor implements scraper.Extractor for Flipkart reviews.
type Extractor struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger
}

// New builds the extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "*/*").
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("X-User-Agent", cfg.UserAgent+" FKUA/website/42/website/Desktop").
		SetHeader("Referer", "https://www.flipkart.com/").
		SetHeader("Origin", "https://www.flipkart.com")
	return &Extractor{cfg: cfg, client: client, logger: logger.Named("flipkart")}
}

// OpenSession hands back the injected cookie; there is no token dance.
func (e *Extractor) OpenSession(context.Context, scraper.Target) (scraper.Session, error) {
	return scraper.Session{Cookie: e.cfg.Cookie}, nil
}

// FirstCursor starts at page one.
func (e *Extractor) FirstCursor() scraper.Cursor {
	return scraper.Cursor{Page: 1}
}

// WindowCount reports 0; Flipkart paginates by bare page number.
func (e *Extractor) WindowCount() int { return 0 }

type fetchPayload struct {
	PageURI     string         `json:"pageUri"`
	PageContext map[string]any `json:"pageContext"`
}

// FetchPage posts one page fetch and walks the widget tree for review
// components and pagination metadata.
func (e *Extractor) FetchPage(
	ctx context.Context,
	target scraper.Target,
	sess scraper.Session,
	cursor scraper.Cursor,
) (scraper.Page, error) {
	base, err := reviewPagePath(target.URL)
	if err != nil {
		return scraper.Page{}, scraper.FatalSourceError("fetch page", err)
	}

	req := e.client.R().
		SetContext(ctx).
		SetBody(fetchPayload{
			PageURI:     pageURI(base, cursor.Page),
			PageContext: map[string]any{"fetchSeoData": true},
		})
	if sess.Cookie != "" {
		req.SetHeader("Cookie", sess.Cookie)
	}

	start := time.Now()
	resp, err := req.Post(e.cfg.APIURL)
	if err != nil {
		return scraper.Page{}, scraper.TransientSourceError("fetch page", err)
	}
	if code := resp.StatusCode(); code != http.StatusOK {
		return scraper.Page{}, classifyStatus("fetch page", code)
	}

	records, totalPages, err := parseResponse(resp.Body())
	if err != nil {
		return scraper.Page{}, scraper.TransientSourceError("fetch page", err)
	}
	e.logger.Debug("page fetched",
		zap.Int("page", cursor.Page),
		zap.Int("records", len(records)),
		zap.Duration("dur", time.Since(start)),
	)

	page := scraper.Page{Records: records, PagesHint: totalPages}
	page.Next, page.Done = e.advance(cursor, len(records), totalPages)
	return page, nil
}

func (e *Extractor) advance(cursor scraper.Cursor, got int, totalPages *int) (scraper.Cursor, bool) {
	empties := 0
	if got == 0 {
		empties = cursor.Empties + 1
	}
	switch {
	case totalPages != nil && cursor.Page >= *totalPages:
		return scraper.Cursor{}, true
	case empties >= e.cfg.MaxEmptyPages:
		return scraper.Cursor{}, true
	case cursor.Page >= e.cfg.MaxPages:
		return scraper.Cursor{}, true
	}
	return scraper.Cursor{Page: cursor.Page + 1, Empties: empties}, false
}

func classifyStatus(op string, code int) error {
	err := fmt.Errorf("status %d", code)
	if code == http.StatusTooManyRequests || code >= 500 {
		return scraper.TransientSourceError(op, err)
	}
	return scraper.FatalSourceError(op, err)
}
