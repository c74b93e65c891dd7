package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tibber-pricing/internal/pricing"
)

const (
	defaultBaseURL   = "https://tibber.com"
	defaultLocale    = "de"
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "tibber-pricing/1.0"
	priceOverviewFmt = "%s/%s/api/lookup/price-overview?postalCode=%s"
	maxErrorSnippet  = 256
	// The overview document is a few KiB.
	maxBodyBytes = 1 << 20
)

// TibberOptions parameterise the price overview fetcher.
type TibberOptions struct {
	BaseURL   string
	Locale    string
	Timeout   time.Duration
	UserAgent string
	// FeedOffset is the zone the provider's date/hour pairs are expressed in.
	FeedOffset *time.Location
	// Client is the long-lived HTTP client to reuse. A private one is
	// created when nil.
	Client *http.Client
}

// Tibber fetches the public price overview.
type Tibber struct {
	opts    TibberOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewTibber constructs a Tibber price fetcher.
func NewTibber(opts TibberOptions, logger zerolog.Logger) *Tibber {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Locale == "" {
		opts.Locale = defaultLocale
	}
	if opts.FeedOffset == nil {
		opts.FeedOffset = DefaultFeedOffset
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Tibber{
		opts:    opts,
		logger:  logger.With().Str("component", "tibber_fetcher").Logger(),
		client:  client,
		baseURL: baseURL,
	}
}

// DefaultFeedOffset is the fixed offset the public endpoint has been
// observed to use (CEST).
var DefaultFeedOffset = time.FixedZone("+02:00", 2*60*60)

// Endpoint returns the price overview URL for a postal code.
func (t *Tibber) Endpoint(postalCode string) string {
	return fmt.Sprintf(priceOverviewFmt, t.baseURL, url.PathEscape(t.opts.Locale), url.QueryEscape(postalCode))
}

// FetchPrices performs one GET against the price overview and parses it.
// Every failure is returned as a *FetchError.
func (t *Tibber) FetchPrices(ctx context.Context, postalCode string) (*pricing.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Endpoint(postalCode), nil)
	if err != nil {
		return nil, newError(KindUnknown, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	t.logger.Debug().Int("status", resp.StatusCode).Str("postal_code", postalCode).Msg("price overview response")

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if len(payload) > maxBodyBytes {
		return nil, newError(KindParse, fmt.Errorf("response body exceeds %d bytes", maxBodyBytes))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(KindConnect, httpStatusError(resp.StatusCode, payload))
	}

	snapshot, err := ParseOverview(payload, t.opts.FeedOffset)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().Int("hours", len(snapshot.HourlyPrices)).Str("postal_code", postalCode).Msg("price overview parsed")
	return snapshot, nil
}

func classifyTransport(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindUnknown, err)
	}
	return newError(KindConnect, err)
}

func httpStatusError(status int, payload []byte) error {
	snippet := strings.TrimSpace(string(payload))
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet]
	}
	if snippet == "" {
		return fmt.Errorf("tibber api error (%d)", status)
	}
	return fmt.Errorf("tibber api error (%d): %s", status, snippet)
}

type overviewResponse struct {
	Energy *struct {
		TodayHours *[]hourEntry   `json:"todayHours"`
		Today      *summaryEntry `json:"today"`
	} `json:"energy"`
	MonthlyFees *summaryEntry `json:"monthlyFees"`
}

type hourEntry struct {
	Hour              *int             `json:"hour"`
	Date              string           `json:"date"`
	PriceIncludingVat *decimal.Decimal `json:"priceIncludingVat"`
	PriceComponents   []componentEntry `json:"priceComponents"`
}

type summaryEntry struct {
	PriceIncludingVat decimal.Decimal  `json:"priceIncludingVat"`
	PriceExcludingVat decimal.Decimal  `json:"priceExcludingVat"`
	PriceComponents   []componentEntry `json:"priceComponents"`
}

type componentEntry struct {
	Type              string          `json:"type"`
	PriceIncludingVat decimal.Decimal `json:"priceIncludingVat"`
	PriceExcludingVat decimal.Decimal `json:"priceExcludingVat"`
}

// ParseOverview converts a price overview document into a Snapshot. Hour
// starts are built in loc. Any structural problem yields a parse error.
func ParseOverview(payload []byte, loc *time.Location) (*pricing.Snapshot, error) {
	if loc == nil {
		loc = DefaultFeedOffset
	}

	var doc overviewResponse
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, newError(KindParse, fmt.Errorf("decode price overview: %w", err))
	}

	switch {
	case doc.Energy == nil:
		return nil, newError(KindParse, errors.New("missing energy"))
	case doc.Energy.TodayHours == nil:
		return nil, newError(KindParse, errors.New("missing energy.todayHours"))
	case doc.Energy.Today == nil:
		return nil, newError(KindParse, errors.New("missing energy.today"))
	case doc.MonthlyFees == nil:
		return nil, newError(KindParse, errors.New("missing monthlyFees"))
	case len(*doc.Energy.TodayHours) == 0:
		return nil, newError(KindParse, errors.New("energy.todayHours is empty"))
	}

	hours := make([]pricing.HourlyPrice, 0, len(*doc.Energy.TodayHours))
	for i, entry := range *doc.Energy.TodayHours {
		hourStart, err := entry.hourStart(loc)
		if err != nil {
			return nil, newError(KindParse, fmt.Errorf("energy.todayHours[%d]: %w", i, err))
		}
		if entry.PriceIncludingVat == nil {
			return nil, newError(KindParse, fmt.Errorf("energy.todayHours[%d]: missing priceIncludingVat", i))
		}
		hours = append(hours, pricing.HourlyPrice{
			HourStart:          hourStart,
			AmountIncludingTax: *entry.PriceIncludingVat,
			Components:         convertComponents(entry.PriceComponents),
		})
	}

	today := doc.Energy.Today
	monthly := doc.MonthlyFees
	return &pricing.Snapshot{
		HourlyPrices: hours,
		Today: pricing.DailySummary{
			AmountExcludingTax: today.PriceExcludingVat,
			AmountIncludingTax: today.PriceIncludingVat,
			Components:         convertComponents(today.PriceComponents),
		},
		Monthly: pricing.MonthlyFees{
			AmountExcludingTax: monthly.PriceExcludingVat,
			AmountIncludingTax: monthly.PriceIncludingVat,
			Components:         convertComponents(monthly.PriceComponents),
		},
	}, nil
}

func (e hourEntry) hourStart(loc *time.Location) (time.Time, error) {
	if e.Hour == nil {
		return time.Time{}, errors.New("missing hour")
	}
	if *e.Hour < 0 || *e.Hour > 23 {
		return time.Time{}, fmt.Errorf("hour %d out of range", *e.Hour)
	}
	day, err := time.ParseInLocation(time.DateOnly, e.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", e.Date, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), *e.Hour, 0, 0, 0, loc), nil
}

func convertComponents(in []componentEntry) []pricing.PriceComponent {
	out := make([]pricing.PriceComponent, 0, len(in))
	for _, c := range in {
		out = append(out, pricing.PriceComponent{
			Kind:               c.Type,
			AmountExcludingTax: c.PriceExcludingVat,
			AmountIncludingTax: c.PriceIncludingVat,
		})
	}
	return out
}

var _ PriceFetcher = (*Tibber)(nil)
