package scraper

import (
	"net/url"
	"regexp"
	"strings"
)

var asinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`/product-reviews/([A-Z0-9]{10})`),
}

// ParseTarget validates a raw URL for the given source and extracts
// source-specific identifiers. It returns a ValidationError when the
// URL cannot serve the source.
func ParseTarget(source SourceType, raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, NewValidationError("url", "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Target{}, NewValidationError("url", "must be an absolute http(s) URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, NewValidationError("url", "scheme must be http or https")
	}

	switch source {
	case SourceAmazonReviews, SourceAmazonCount:
		if !strings.Contains(u.Host, "amazon.") {
			return Target{}, NewValidationError("url", "must be an amazon.* product URL")
		}
		asin := extractASIN(u.Path)
		if asin == "" {
			return Target{}, NewValidationError("url", "no ASIN found in URL path")
		}
		return Target{URL: raw, ASIN: asin}, nil
	case SourceFlipkartReviews:
		if !strings.Contains(u.Host, "flipkart.com") {
			return Target{}, NewValidationError("url", "must be a flipkart.com product URL")
		}
		return Target{URL: raw}, nil
	default:
		return Target{}, NewValidationError("source_type", "unknown source type")
	}
}

func extractASIN(path string) string {
	for _, re := range asinPatterns {
		if m := re.FindStringSubmatch(path); m != nil {
			return m[1]
		}
	}
	return ""
}

// ValidateSubmission checks the submission fields that are independent
// of the target URL.
func ValidateSubmission(source SourceType, maxItems int) error {
	if !source.Valid() {
		return NewValidationError("source_type", "unknown source type")
	}
	if maxItems < 0 {
		return NewValidationError("max_reviews", "must not be negative")
	}
	return nil
}
