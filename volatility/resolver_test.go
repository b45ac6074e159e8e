package volatility_test

import (
	"testing"
	"time"

	"github.com/souvik131/ibex-iv/volatility"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolveUnderlying(t *testing.T) {
	futures := []volatility.UnderlyingQuote{
		{Expiry: date("2024-06-01"), LastPrice: 10150},
		{Expiry: date("2024-03-01"), LastPrice: 10020},
	}

	cases := []struct {
		name   string
		target string
		want   float64
	}{
		{"NearestAfter", "2024-04-15", 10150},
		{"ExactMatch", "2024-03-01", 10020},
		{"BeforeAll", "2024-01-19", 10020},
		{"FallbackToLatest", "2024-07-01", 10150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := volatility.ResolveUnderlying(date(tc.target), futures)
			if !ok {
				t.Fatalf("expected a price for %s", tc.target)
			}
			if got != tc.want {
				t.Errorf("target %s: expected %v, got %v", tc.target, tc.want, got)
			}
		})
	}

	t.Run("Empty", func(t *testing.T) {
		if _, ok := volatility.ResolveUnderlying(date("2024-04-15"), nil); ok {
			t.Errorf("expected no price for an empty futures set")
		}
	})

	t.Run("IgnoresTimeOfDay", func(t *testing.T) {
		fs := []volatility.UnderlyingQuote{
			{Expiry: time.Date(2024, 3, 15, 17, 30, 0, 0, time.UTC), LastPrice: 1},
			{Expiry: date("2024-04-19"), LastPrice: 2},
		}
		got, _ := volatility.ResolveUnderlying(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), fs)
		if got != 1 {
			t.Errorf("expected same-day future, got %v", got)
		}
	})

	t.Run("DuplicateExpiryKeepsFirst", func(t *testing.T) {
		fs := []volatility.UnderlyingQuote{
			{Expiry: date("2024-06-21"), LastPrice: 11},
			{Expiry: date("2024-06-21"), LastPrice: 12},
		}
		got, _ := volatility.ResolveUnderlying(date("2024-06-01"), fs)
		if got != 11 {
			t.Errorf("expected first quote for duplicated expiry, got %v", got)
		}
	})
}

func TestTimeToExpiry(t *testing.T) {
	valuation := date("2024-03-01")
	if got := volatility.TimeToExpiry(date("2024-03-31"), valuation); got != 30.0/365 {
		t.Errorf("expected 30/365, got %v", got)
	}
	if got := volatility.TimeToExpiry(date("2024-03-01"), valuation); got != 1.0/365 {
		t.Errorf("same day expiry should floor to 1/365, got %v", got)
	}
	if got := volatility.TimeToExpiry(date("2024-02-01"), valuation); got != 1.0/365 {
		t.Errorf("past expiry should floor to 1/365, got %v", got)
	}
}
