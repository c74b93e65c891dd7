package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tibber-pricing/internal/pricing"
)

const sampleOverview = `{
  "energy": {
    "todayHours": [
      {"hour": 0, "date": "2024-10-21", "priceIncludingVat": 0.1683,
       "priceComponents": [{"type": "taxes", "priceIncludingVat": 0.0803, "priceExcludingVat": 0.0675}]},
      {"hour": 1, "date": "2024-10-21", "priceIncludingVat": 0.1599, "priceComponents": []}
    ],
    "today": {"priceIncludingVat": 0.2511, "priceExcludingVat": 0.2110, "priceComponents": []}
  },
  "monthlyFees": {"priceIncludingVat": 12.34, "priceExcludingVat": 10.37,
    "priceComponents": [{"type": "grid", "priceIncludingVat": 8.5, "priceExcludingVat": 7.14}]}
}`

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestTibber(baseURL string, timeout time.Duration) *Tibber {
	return NewTibber(TibberOptions{
		BaseURL:    baseURL,
		Locale:     "de",
		Timeout:    timeout,
		UserAgent:  "test",
		FeedOffset: DefaultFeedOffset,
	}, noopLogger())
}

func TestFetchPricesSuccess(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("postalCode")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleOverview))
	}))
	defer srv.Close()

	snap, err := newTestTibber(srv.URL, time.Second).FetchPrices(context.Background(), "07586")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/de/api/lookup/price-overview" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotQuery != "07586" {
		t.Fatalf("postal code not forwarded, got %q", gotQuery)
	}
	if len(snap.HourlyPrices) != 2 {
		t.Fatalf("expected 2 hours, got %d", len(snap.HourlyPrices))
	}

	at := time.Date(2024, 10, 21, 0, 0, 0, 0, DefaultFeedOffset)
	price, ok := pricing.CurrentPrice(snap, at, DefaultFeedOffset)
	if !ok {
		t.Fatal("expected a price for 2024-10-21T00:00+02:00")
	}
	if price.String() != "0.1683" {
		t.Fatalf("expected 0.1683, got %s", price)
	}

	components := snap.HourlyPrices[0].Components
	if len(components) != 1 || components[0].Kind != "taxes" || components[0].AmountExcludingTax.String() != "0.0675" {
		t.Fatalf("unexpected components %+v", components)
	}
	if snap.Monthly.AmountIncludingTax.String() != "12.34" || len(snap.Monthly.Components) != 1 {
		t.Fatalf("unexpected monthly fees %+v", snap.Monthly)
	}
	if snap.Today.AmountExcludingTax.String() != "0.211" {
		t.Fatalf("unexpected daily summary %+v", snap.Today)
	}
}

func TestEndpointEscapesPostalCode(t *testing.T) {
	tb := newTestTibber("https://example.com/", time.Second)
	got := tb.Endpoint("07 586&x=1")
	want := "https://example.com/de/api/lookup/price-overview?postalCode=07+586%26x%3D1"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFetchPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestTibber(srv.URL, time.Second).FetchPrices(context.Background(), "10115")
	if KindOf(err) != KindConnect {
		t.Fatalf("expected %s, got %v", KindConnect, err)
	}
}

func TestFetchPricesTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestTibber(srv.URL, 50*time.Millisecond).FetchPrices(context.Background(), "10115")
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected %s, got %v", KindTimeout, err)
	}
}

func TestFetchPricesConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestTibber(addr, time.Second).FetchPrices(context.Background(), "10115")
	if KindOf(err) != KindConnect {
		t.Fatalf("expected %s, got %v", KindConnect, err)
	}
}

func TestFetchPricesMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>oops</html>`,
		"missing energy": `{"monthlyFees": {}}`,
		"missing hours":  `{"energy": {"today": {}}, "monthlyFees": {}}`,
		"missing today":  `{"energy": {"todayHours": [{"hour": 0, "date": "2024-10-21", "priceIncludingVat": 0.1}]}, "monthlyFees": {}}`,
		"missing fees":   `{"energy": {"todayHours": [{"hour": 0, "date": "2024-10-21", "priceIncludingVat": 0.1}], "today": {}}}`,
		"empty hours":    `{"energy": {"todayHours": [], "today": {}}, "monthlyFees": {}}`,
		"bad hour":       `{"energy": {"todayHours": [{"hour": 24, "date": "2024-10-21", "priceIncludingVat": 0.1}], "today": {}}, "monthlyFees": {}}`,
		"bad date":       `{"energy": {"todayHours": [{"hour": 1, "date": "21.10.2024", "priceIncludingVat": 0.1}], "today": {}}, "monthlyFees": {}}`,
		"missing price":  `{"energy": {"todayHours": [{"hour": 1, "date": "2024-10-21"}], "today": {}}, "monthlyFees": {}}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestTibber(srv.URL, time.Second).FetchPrices(context.Background(), "10115")
			if KindOf(err) != KindParse {
				t.Fatalf("expected %s, got %v", KindParse, err)
			}
		})
	}
}

func TestFetchPricesRejectsOversizedBody(t *testing.T) {
	// Valid JSON behind leading whitespace, so only the size can fail it.
	body := strings.Repeat(" ", maxBodyBytes) + sampleOverview
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := newTestTibber(srv.URL, time.Second).FetchPrices(context.Background(), "10115")
	if KindOf(err) != KindParse {
		t.Fatalf("expected %s, got %v", KindParse, err)
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestFetchPricesAcceptsBodyAtLimit(t *testing.T) {
	body := strings.Repeat(" ", maxBodyBytes-len(sampleOverview)) + sampleOverview
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	if _, err := newTestTibber(srv.URL, time.Second).FetchPrices(context.Background(), "10115"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewTibberUsesFixedTimeout(t *testing.T) {
	f := NewTibber(TibberOptions{}, noopLogger())
	if f.opts.Timeout != 5*time.Second {
		t.Fatalf("expected 5s request timeout, got %s", f.opts.Timeout)
	}
}

func TestParseOverviewUsesFeedOffset(t *testing.T) {
	cet := time.FixedZone("+01:00", 60*60)
	snap, err := ParseOverview([]byte(sampleOverview), cet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 10, 20, 23, 0, 0, 0, time.UTC)
	if !snap.HourlyPrices[0].HourStart.Equal(want) {
		t.Fatalf("expected %s, got %s", want, snap.HourlyPrices[0].HourStart)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatal("nil error should have no kind")
	}
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Fatal("plain errors should be unknown")
	}
	wrapped := errors.Join(errors.New("context"), ErrNoDataYet)
	if KindOf(wrapped) != KindNoDataYet {
		t.Fatal("wrapped fetch errors should keep their kind")
	}
}
