package flipkart

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/productpulse/review-scraper/internal/scraper"
)

// reviewPagePath converts a product URL into the product-reviews path
// plus query that the page fetch API expects.
func reviewPagePath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse product url: %w", err)
	}
	path := u.Path
	switch {
	case strings.Contains(path, "/product-reviews/"):
		// already the reviews path
	case strings.Contains(path, "/p/"):
		path = strings.Replace(path, "/p/", "/product-reviews/", 1)
	default:
		path = strings.TrimRight(path, "/") + "/product-reviews/"
	}
	// keep only the pid parameter; the rest is tracking noise
	q := url.Values{}
	if pid := u.Query().Get("pid"); pid != "" {
		q.Set("pid", pid)
	}
	if len(q) > 0 {
		return path + "?" + q.Encode(), nil
	}
	return path, nil
}

func pageURI(base string, page int) string {
	if strings.Contains(base, "?") {
		return fmt.Sprintf("%s&page=%d", base, page)
	}
	return fmt.Sprintf("%s?page=%d", base, page)
}

// parseResponse walks the widget tree for REVIEWS components and the
// pagination bar's total page count.
func parseResponse(body []byte) ([]scraper.ReviewRecord, *int, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, nil, fmt.Errorf("decode page fetch response: %w", err)
	}

	records := []scraper.ReviewRecord{}
	var totalPages *int
	walkWidgets(root, func(widget map[string]any) {
		wtype, _ := widget["type"].(string)
		data, _ := widget["data"].(map[string]any)
		switch wtype {
		case "PAGINATION_BAR":
			if tp, ok := asInt(dig(data, "totalPages")); ok {
				totalPages = &tp
			}
		case "REVIEWS", "REVIEW_LIST", "REVIEW":
			comps, _ := dig(data, "renderableComponents").([]any)
			for _, comp := range comps {
				if rec, ok := extractReview(comp); ok {
					records = append(records, rec)
				}
			}
		}
	})

	if totalPages == nil {
		if tp, ok := asInt(dig(root, "RESPONSE", "pageData", "paginationContextMap", "totalPages")); ok {
			totalPages = &tp
		}
	}
	return records, totalPages, nil
}

// walkWidgets visits every map holding a "widget" key, depth first.
func walkWidgets(node any, visit func(map[string]any)) {
	switch v := node.(type) {
	case map[string]any:
		if w, ok := v["widget"].(map[string]any); ok {
			visit(w)
		}
		for _, child := range v {
			walkWidgets(child, visit)
		}
	case []any:
		for _, child := range v {
			walkWidgets(child, visit)
		}
	}
}

func extractReview(comp any) (scraper.ReviewRecord, bool) {
	m, ok := comp.(map[string]any)
	if !ok {
		return scraper.ReviewRecord{}, false
	}
	val, _ := m["value"].(map[string]any)
	if inner, ok := val["value"].(map[string]any); ok {
		val = inner
	}
	if val == nil {
		return scraper.ReviewRecord{}, false
	}
	id, _ := val["id"].(string)
	if id == "" {
		return scraper.ReviewRecord{}, false
	}

	rec := scraper.ReviewRecord{
		ReviewID: id,
		Author:   asString(val["author"]),
		Title:    asString(val["title"]),
		Body:     asString(val["text"]),
		Date:     asString(val["created"]),
		City:     asString(dig(val, "location", "city")),
	}
	if rating, ok := asFloat(val["rating"]); ok {
		rec.Rating = rating
	}
	if n, ok := asInt(val["helpfulCount"]); ok {
		rec.HelpfulVotes = n
	}
	if n, ok := asInt(dig(val, "upvote", "value", "count")); ok {
		rec.Upvotes = n
	}
	if n, ok := asInt(dig(val, "downvote", "value", "count")); ok {
		rec.Downvotes = n
	}
	if images, ok := val["images"].([]any); ok {
		rec.ImageCount = len(images)
		urls := []string{}
		for _, img := range images {
			if s := asString(dig(img, "value", "imageURL")); s != "" {
				urls = append(urls, s)
			}
		}
		rec.ImageURLs = strings.Join(urls, "|")
	}
	return rec, true
}

// dig walks nested maps by key, returning nil when any hop is missing.
func dig(node any, keys ...string) any {
	cur := node
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
