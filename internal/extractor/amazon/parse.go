package amazon

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/productpulse/review-scraper/internal/scraper"
)

var (
	ratingRe  = regexp.MustCompile(`(\d+\.?\d*)`)
	helpfulRe = regexp.MustCompile(`(\d+)`)
)

// parseAjaxResponse splits Amazon's "&&&"-delimited AJAX stream. Each
// part is a JSON array of [command, selector, html]; only commands
// that inject markup carry review content.
func parseAjaxResponse(body []byte) []string {
	snippets := []string{}
	for _, part := range strings.Split(string(body), "&&&") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var data []any
		if err := json.Unmarshal([]byte(part), &data); err != nil {
			continue
		}
		if len(data) < 3 {
			continue
		}
		command, ok := data[0].(string)
		if !ok {
			continue
		}
		html, ok := data[2].(string)
		if !ok || html == "" {
			continue
		}
		switch command {
		case "append", "html", "replaceWith":
			snippets = append(snippets, html)
		}
	}
	return snippets
}

// extractReviews pulls review rows out of the HTML snippets. The review
// id is the element id attribute; rows without one are skipped since
// they cannot be deduplicated.
func extractReviews(snippets []string, window string) []scraper.ReviewRecord {
	records := []scraper.ReviewRecord{}
	for _, html := range snippets {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}
		doc.Find(`li[data-hook="review"], div[data-hook="review"]`).Each(func(_ int, sel *goquery.Selection) {
			rec := extractReview(sel, window)
			if rec.ReviewID != "" {
				records = append(records, rec)
			}
		})
	}
	return records
}

func extractReview(sel *goquery.Selection, window string) scraper.ReviewRecord {
	rec := scraper.ReviewRecord{
		ReviewID: sel.AttrOr("id", ""),
		Author:   text(sel, `span.a-profile-name`),
		Title:    text(sel, `a[data-hook="review-title"], span[data-hook="review-title"]`),
		Body:     text(sel, `span[data-hook="review-body"]`),
		Date:     text(sel, `span[data-hook="review-date"]`),
		Verified: sel.Find(`span[data-hook="avp-badge"]`).Length() > 0,
		Window:   window,
	}

	ratingText := text(sel, `i[data-hook="review-star-rating"], i[data-hook="cmps-review-star-rating"]`)
	if m := ratingRe.FindStringSubmatch(ratingText); m != nil {
		rec.Rating, _ = strconv.ParseFloat(m[1], 64)
	}

	helpfulText := strings.ReplaceAll(text(sel, `span[data-hook="helpful-vote-statement"]`), ",", "")
	if m := helpfulRe.FindStringSubmatch(helpfulText); m != nil {
		rec.HelpfulVotes, _ = strconv.Atoi(m[1])
	}

	urls := []string{}
	sel.Find(`img[data-hook="review-image-tile"]`).Each(func(_ int, img *goquery.Selection) {
		if src := img.AttrOr("src", ""); src != "" {
			urls = append(urls, src)
		}
	})
	rec.ImageCount = len(urls)
	rec.ImageURLs = strings.Join(urls, "|")

	return rec
}

func text(sel *goquery.Selection, selector string) string {
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

// extractCSRFToken looks for the anti-csrftoken-a2z token in the meta
// tags, hidden inputs, or data attributes of a product page.
func extractCSRFToken(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", scraper.FatalSourceError("open session", err)
	}
	if token := doc.Find(`meta[name="anti-csrftoken-a2z"]`).AttrOr("content", ""); token != "" {
		return token, nil
	}
	if token := doc.Find(`input[name="anti-csrftoken-a2z"]`).AttrOr("value", ""); token != "" {
		return token, nil
	}
	if token := doc.Find(`[data-csrf]`).AttrOr("data-csrf", ""); token != "" {
		return token, nil
	}
	return "", scraper.FatalSourceError("open session", errNoToken)
}

var errNoToken = errors.New("no csrf token in page")
