package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tibber-pricing/internal/fetcher"
	"tibber-pricing/internal/pricing"
)

// DefaultRefreshInterval is the minimum time between fetch attempts.
const DefaultRefreshInterval = time.Hour

// Observer receives the outcome of every Refresh call.
type Observer interface {
	ObserveFetch(postalCode string, kind fetcher.Kind, duration time.Duration)
	ObserveThrottled(postalCode string)
}

// Options parameterise a Feed.
type Options struct {
	PostalCode      string
	RefreshInterval time.Duration
	// Now overrides the clock, mainly for tests.
	Now      func() time.Time
	Observer Observer
}

// Feed caches the last parsed snapshot for one postal code and limits
// remote fetches to one attempt per refresh interval, whether or not the
// previous attempt succeeded.
type Feed struct {
	fetcher    fetcher.PriceFetcher
	postalCode string
	interval   time.Duration
	now        func() time.Time
	observer   Observer
	logger     zerolog.Logger

	mu           sync.Mutex
	lastSnapshot *pricing.Snapshot
	lastFetch    time.Time
}

// New constructs a Feed.
func New(f fetcher.PriceFetcher, opts Options, logger zerolog.Logger) *Feed {
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Feed{
		fetcher:    f,
		postalCode: opts.PostalCode,
		interval:   interval,
		now:        now,
		observer:   opts.Observer,
		logger:     logger.With().Str("component", "feed").Str("postal_code", opts.PostalCode).Logger(),
	}
}

// PostalCode returns the postal code this feed fetches prices for.
func (f *Feed) PostalCode() string {
	return f.postalCode
}

// Refresh returns the cached snapshot while the refresh window is active,
// otherwise fetches a new one. Failed fetches keep the previous snapshot
// and still start a new window. The returned snapshot must not be mutated.
func (f *Feed) Refresh(ctx context.Context) (*pricing.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := f.now()
	if !f.lastFetch.IsZero() && attempt.Sub(f.lastFetch) < f.interval {
		if f.observer != nil {
			f.observer.ObserveThrottled(f.postalCode)
		}
		if f.lastSnapshot == nil {
			return nil, fetcher.ErrNoDataYet
		}
		return f.lastSnapshot, nil
	}

	snapshot, err := f.fetch(ctx)
	f.lastFetch = attempt

	duration := f.now().Sub(attempt)
	if f.observer != nil {
		f.observer.ObserveFetch(f.postalCode, fetcher.KindOf(err), duration)
	}

	if err != nil {
		f.logger.Error().Err(err).Str("kind", string(fetcher.KindOf(err))).
			Time("retry_after", attempt.Add(f.interval)).
			Msg("price overview fetch failed")
		return nil, err
	}

	f.lastSnapshot = snapshot
	f.logger.Info().Int("hours", len(snapshot.HourlyPrices)).Msg("price snapshot refreshed")
	return snapshot, nil
}

func (f *Feed) fetch(ctx context.Context) (snapshot *pricing.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snapshot = nil
			err = &fetcher.FetchError{Kind: fetcher.KindUnknown, Err: errors.New("fetcher panicked")}
			f.logger.Error().Interface("panic", r).Msg("price fetcher panicked")
		}
	}()

	snapshot, err = f.fetcher.FetchPrices(ctx, f.postalCode)
	if err != nil {
		var fe *fetcher.FetchError
		if !errors.As(err, &fe) {
			err = &fetcher.FetchError{Kind: fetcher.KindUnknown, Err: err}
		}
		return nil, err
	}
	if snapshot == nil {
		return nil, &fetcher.FetchError{Kind: fetcher.KindParse, Err: errors.New("fetcher returned no snapshot")}
	}
	return snapshot, nil
}

// Latest returns the last good snapshot and when the last attempt started.
func (f *Feed) Latest() (*pricing.Snapshot, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSnapshot, f.lastFetch
}
