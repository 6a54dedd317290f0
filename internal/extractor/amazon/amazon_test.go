package amazon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/productpulse/review-scraper/internal/fetcher/colly"
	"github.com/productpulse/review-scraper/internal/scraper"
)

type fakeFetcher struct {
	requests  []collyfetcher.Request
	responses map[string]collyfetcher.Response
	errs      map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: map[string]collyfetcher.Response{},
		errs:      map[string]error{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.URL]; ok {
		return f.responses[req.URL], err
	}
	resp, ok := f.responses[req.URL]
	if !ok {
		return collyfetcher.Response{StatusCode: http.StatusNotFound},
			errors.New("not found")
	}
	return resp, nil
}

const target = "https://www.amazon.in/dp/B0CX23V2ZK"

func testTarget() scraper.Target {
	return scraper.Target{URL: target, ASIN: "B0CX23V2ZK"}
}

func TestOpenSessionFindsTokenAndCookies(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.responses["https://www.amazon.in/dp/B0CX23V2ZK"] = collyfetcher.Response{
		StatusCode: http.StatusOK,
		Headers: http.Header{"Set-Cookie": {
			"session-id=123-456; Path=/; Secure",
			"ubid-acbin=789; Path=/",
		}},
		Body: []byte(`<html><head><meta name="anti-csrftoken-a2z" content="tok1"/></head></html>`),
	}

	e := New(Config{BaseURL: "https://www.amazon.in"}, fetcher, nil)
	sess, err := e.OpenSession(context.Background(), testTarget())
	require.NoError(t, err)
	require.Equal(t, "tok1", sess.CSRFToken)
	require.Equal(t, "session-id=123-456; ubid-acbin=789", sess.Cookie)
}

func TestOpenSessionFallsBackAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	// dp page 404s, reviews page has no token, gp page has one.
	fetcher.responses["https://www.amazon.in/product-reviews/B0CX23V2ZK"] = collyfetcher.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><body>no token</body></html>`),
	}
	fetcher.responses["https://www.amazon.in/gp/product/B0CX23V2ZK"] = collyfetcher.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><body><input name="anti-csrftoken-a2z" value="tok2"/></body></html>`),
	}

	e := New(Config{BaseURL: "https://www.amazon.in"}, fetcher, nil)
	sess, err := e.OpenSession(context.Background(), testTarget())
	require.NoError(t, err)
	require.Equal(t, "tok2", sess.CSRFToken)
	require.Len(t, fetcher.requests, 3)
}

func TestOpenSessionNoTokenIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	for _, url := range []string{
		"https://www.amazon.in/dp/B0CX23V2ZK",
		"https://www.amazon.in/product-reviews/B0CX23V2ZK",
		"https://www.amazon.in/gp/product/B0CX23V2ZK",
	} {
		fetcher.responses[url] = collyfetcher.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`<html><body>nothing</body></html>`),
		}
	}

	e := New(Config{BaseURL: "https://www.amazon.in"}, fetcher, nil)
	_, err := e.OpenSession(context.Background(), testTarget())
	require.Error(t, err)
	require.False(t, scraper.IsTransient(err))
}

func TestFetchPageSendsFormAndParses(t *testing.T) {
	t.Parallel()

	const ajaxURL = "https://www.amazon.in/portal/customer-reviews/ajax/reviews/get/ref=cm_cr_arp_d_viewopt_sr"
	fetcher := newFakeFetcher()
	fetcher.responses[ajaxURL] = collyfetcher.Response{
		StatusCode: http.StatusOK,
		Body:       ajaxStream(t, reviewSnippet),
	}

	e := New(Config{BaseURL: "https://www.amazon.in"}, fetcher, nil)
	sess := scraper.Session{CSRFToken: "tok1", Cookie: "session-id=1"}

	page, err := e.FetchPage(context.Background(), testTarget(), sess, e.FirstCursor())
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, "five_star", page.Records[0].Window)
	require.False(t, page.Done)
	require.Equal(t, 2, page.Next.Page)
	require.Equal(t, "five_star", page.Next.Window)

	req := fetcher.requests[0]
	require.Equal(t, "tok1", req.Headers.Get("anti-csrftoken-a2z"))
	require.Equal(t, "session-id=1", req.Headers.Get("Cookie"))
	require.Contains(t, req.Headers.Get("Referer"), "/product-reviews/B0CX23V2ZK/")
	require.Equal(t, "B0CX23V2ZK", req.Form["asin"])
	require.Equal(t, "five_star", req.Form["filterByStar"])
	require.Equal(t, "1", req.Form["pageNumber"])
	require.Equal(t, "all_reviews", req.Form["reviewerType"])
}

func TestFetchPageRequiresToken(t *testing.T) {
	t.Parallel()

	e := New(Config{}, newFakeFetcher(), nil)
	_, err := e.FetchPage(context.Background(), testTarget(), scraper.Session{}, e.FirstCursor())
	require.Error(t, err)
	require.False(t, scraper.IsTransient(err))
}

func TestAdvanceMovesThroughWindows(t *testing.T) {
	t.Parallel()

	e := New(Config{MaxPagesPerWindow: 3, MaxEmptyPages: 2}, newFakeFetcher(), nil)

	// Productive page advances within the window.
	next, done := e.advance(scraper.Cursor{WindowIndex: 0, Window: "five_star", Page: 1}, 10)
	require.False(t, done)
	require.Equal(t, 2, next.Page)
	require.Zero(t, next.Empties)

	// Empty pages accumulate, then roll to the next window.
	next, done = e.advance(scraper.Cursor{WindowIndex: 0, Window: "five_star", Page: 1}, 0)
	require.False(t, done)
	require.Equal(t, 1, next.Empties)
	next, done = e.advance(next, 0)
	require.False(t, done)
	require.Equal(t, 1, next.WindowIndex)
	require.Equal(t, "four_star", next.Window)
	require.Equal(t, 1, next.Page)

	// Page ceiling also rolls the window.
	next, done = e.advance(scraper.Cursor{WindowIndex: 0, Window: "five_star", Page: 3}, 10)
	require.False(t, done)
	require.Equal(t, "four_star", next.Window)

	// Exhausting the last window finishes the traversal.
	_, done = e.advance(scraper.Cursor{WindowIndex: 4, Window: "one_star", Page: 3}, 10)
	require.True(t, done)
}

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	require.True(t, scraper.IsTransient(classifyFetchError("fetch", 0, base)))
	require.True(t, scraper.IsTransient(classifyFetchError("fetch", http.StatusServiceUnavailable, base)))
	require.True(t, scraper.IsTransient(classifyFetchError("fetch", http.StatusTooManyRequests, base)))
	require.False(t, scraper.IsTransient(classifyFetchError("fetch", http.StatusForbidden, base)))
	require.False(t, scraper.IsTransient(classifyFetchError("fetch", http.StatusNotFound, base)))

	err := classifyFetchError("fetch", http.StatusForbidden, base)
	require.True(t, strings.Contains(err.Error(), "session expired"))
}

func TestCounterFetchesTotal(t *testing.T) {
	t.Parallel()

	const countURL = "https://www.amazon.in/product-reviews/B0CX23V2ZK/ref=cm_cr_dp_d_show_all_btm?ie=UTF8&reviewerType=all_reviews"
	fetcher := newFakeFetcher()
	fetcher.responses[countURL] = collyfetcher.Response{
		StatusCode: http.StatusOK,
		Body: []byte(`<html><body>
<div data-hook="cr-filter-info-review-rating-count">11,936 customer reviews</div>
</body></html>`),
	}

	c := NewCounter("https://www.amazon.in", fetcher, nil)
	require.Zero(t, c.WindowCount())

	sess, err := c.OpenSession(context.Background(), testTarget())
	require.NoError(t, err)
	require.Empty(t, sess.CSRFToken)

	page, err := c.FetchPage(context.Background(), testTarget(), sess, c.FirstCursor())
	require.NoError(t, err)
	require.True(t, page.Done)
	require.Empty(t, page.Records)
	require.NotNil(t, page.TotalHint)
	require.Equal(t, 11936, *page.TotalHint)
}
