package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTargetAmazon(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		wantASIN string
		wantErr  bool
	}{
		{
			name:     "dp path",
			url:      "https://www.amazon.com/Some-Product/dp/B0CX23V2ZK",
			wantASIN: "B0CX23V2ZK",
		},
		{
			name:     "gp product path",
			url:      "https://www.amazon.in/gp/product/B08N5WRWNW?th=1",
			wantASIN: "B08N5WRWNW",
		},
		{
			name:     "product reviews path",
			url:      "https://www.amazon.com/product-reviews/B01LYCLS24/",
			wantASIN: "B01LYCLS24",
		},
		{
			name:    "no asin",
			url:     "https://www.amazon.com/gp/bestsellers",
			wantErr: true,
		},
		{
			name:    "wrong host",
			url:     "https://www.example.com/dp/B0CX23V2ZK",
			wantErr: true,
		},
		{
			name:    "relative url",
			url:     "/dp/B0CX23V2ZK",
			wantErr: true,
		},
		{
			name:    "bad scheme",
			url:     "ftp://www.amazon.com/dp/B0CX23V2ZK",
			wantErr: true,
		},
		{
			name:    "empty",
			url:     "   ",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			target, err := ParseTarget(SourceAmazonReviews, tc.url)
			if tc.wantErr {
				require.Error(t, err)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantASIN, target.ASIN)
		})
	}
}

func TestParseTargetFlipkart(t *testing.T) {
	t.Parallel()

	target, err := ParseTarget(SourceFlipkartReviews, "https://www.flipkart.com/phone-x/p/itm123?pid=MOBX1")
	require.NoError(t, err)
	require.Empty(t, target.ASIN)

	_, err = ParseTarget(SourceFlipkartReviews, "https://www.amazon.com/dp/B0CX23V2ZK")
	require.Error(t, err)
}

func TestValidateSubmission(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSubmission(SourceAmazonReviews, 0))
	require.NoError(t, ValidateSubmission(SourceAmazonCount, 100))

	err := ValidateSubmission("instagram_reviews", 0)
	require.Error(t, err)

	err = ValidateSubmission(SourceFlipkartReviews, -1)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "max_reviews", ve.Field)
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusPending.Terminal())
	require.False(t, JobStatusInProgress.Terminal())
	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.True(t, JobStatusCancelled.Terminal())
}
