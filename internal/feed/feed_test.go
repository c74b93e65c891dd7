package feed

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tibber-pricing/internal/fetcher"
	"tibber-pricing/internal/logging"
	"tibber-pricing/internal/pricing"
)

type stubFetcher struct {
	mu      sync.Mutex
	calls   atomic.Int32
	results []stubResult
	delay   time.Duration
}

type stubResult struct {
	snapshot *pricing.Snapshot
	err      error
}

func (s *stubFetcher) FetchPrices(ctx context.Context, postalCode string) (*pricing.Snapshot, error) {
	n := int(s.calls.Add(1)) - 1
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	return s.results[n].snapshot, s.results[n].err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 10, 21, 9, 0, 0, 0, time.UTC)}
}

func sampleSnapshot(price string) *pricing.Snapshot {
	return &pricing.Snapshot{HourlyPrices: []pricing.HourlyPrice{{
		HourStart:          time.Date(2024, 10, 21, 11, 0, 0, 0, time.FixedZone("+02:00", 7200)),
		AmountIncludingTax: decimal.RequireFromString(price),
	}}}
}

func newFeed(f fetcher.PriceFetcher, clock *fakeClock) *Feed {
	return New(f, Options{PostalCode: "10115", RefreshInterval: time.Hour, Now: clock.Now}, zerolog.Nop())
}

func TestRefreshThrottlesWithinWindow(t *testing.T) {
	clock := newClock()
	first := sampleSnapshot("0.30")
	stub := &stubFetcher{results: []stubResult{{snapshot: first}, {snapshot: sampleSnapshot("0.99")}}}
	f := newFeed(stub, clock)

	got, err := f.Refresh(context.Background())
	if err != nil || got != first {
		t.Fatalf("first refresh should fetch, got %v %v", got, err)
	}

	clock.Advance(10 * time.Minute)
	got, err = f.Refresh(context.Background())
	if err != nil {
		t.Fatalf("throttled refresh should succeed: %v", err)
	}
	if got != first {
		t.Fatal("throttled refresh should return the cached snapshot unchanged")
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("expected exactly one network call, got %d", stub.calls.Load())
	}

	clock.Advance(50 * time.Minute)
	got, err = f.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh after window should succeed: %v", err)
	}
	if got.HourlyPrices[0].AmountIncludingTax.String() != "0.99" {
		t.Fatal("refresh after window should replace the snapshot")
	}
	if stub.calls.Load() != 2 {
		t.Fatalf("expected two network calls, got %d", stub.calls.Load())
	}
}

func TestRefreshFailureStillThrottles(t *testing.T) {
	clock := newClock()
	stub := &stubFetcher{results: []stubResult{{err: &fetcher.FetchError{Kind: fetcher.KindConnect, Err: errors.New("refused")}}}}
	f := newFeed(stub, clock)

	_, err := f.Refresh(context.Background())
	if fetcher.KindOf(err) != fetcher.KindConnect {
		t.Fatalf("expected connect error, got %v", err)
	}

	clock.Advance(time.Minute)
	snap, err := f.Refresh(context.Background())
	if snap != nil {
		t.Fatal("no snapshot should be returned when none was ever fetched")
	}
	if !errors.Is(err, fetcher.ErrNoDataYet) || fetcher.KindOf(err) != fetcher.KindNoDataYet {
		t.Fatalf("expected no data yet, got %v", err)
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("failed attempt must suppress retries, got %d calls", stub.calls.Load())
	}
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	clock := newClock()
	first := sampleSnapshot("0.30")
	stub := &stubFetcher{results: []stubResult{
		{snapshot: first},
		{err: &fetcher.FetchError{Kind: fetcher.KindParse, Err: errors.New("missing energy")}},
	}}
	f := newFeed(stub, clock)

	if _, err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(2 * time.Hour)
	_, err := f.Refresh(context.Background())
	if fetcher.KindOf(err) != fetcher.KindParse {
		t.Fatalf("expected parse error, got %v", err)
	}

	latest, lastFetch := f.Latest()
	if latest != first {
		t.Fatal("parse failure must not clear the previous snapshot")
	}
	if !lastFetch.Equal(clock.Now()) {
		t.Fatal("failed attempt should still stamp the fetch time")
	}

	clock.Advance(time.Minute)
	got, err := f.Refresh(context.Background())
	if err != nil || got != first {
		t.Fatalf("throttled refresh after failure should return stale snapshot, got %v %v", got, err)
	}
}

func TestRefreshWrapsForeignErrorsAndPanics(t *testing.T) {
	clock := newClock()
	f := newFeed(&stubFetcher{results: []stubResult{{err: errors.New("boom")}}}, clock)
	if _, err := f.Refresh(context.Background()); fetcher.KindOf(err) != fetcher.KindUnknown {
		t.Fatalf("expected unknown, got %v", err)
	}

	f = newFeed(panicFetcher{}, clock)
	if _, err := f.Refresh(context.Background()); fetcher.KindOf(err) != fetcher.KindUnknown {
		t.Fatalf("expected unknown after panic, got %v", err)
	}
}

type panicFetcher struct{}

func (panicFetcher) FetchPrices(context.Context, string) (*pricing.Snapshot, error) {
	panic("unexpected")
}

func TestRefreshSerialisesConcurrentCallers(t *testing.T) {
	clock := newClock()
	stub := &stubFetcher{results: []stubResult{{snapshot: sampleSnapshot("0.30")}}, delay: 20 * time.Millisecond}
	f := newFeed(stub, clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Refresh(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if stub.calls.Load() != 1 {
		t.Fatalf("concurrent refreshes should trigger one fetch, got %d", stub.calls.Load())
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	kinds     []fetcher.Kind
	throttled int
}

func (r *recordingObserver) ObserveFetch(_ string, kind fetcher.Kind, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingObserver) ObserveThrottled(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttled++
}

func TestRefreshReportsToObserver(t *testing.T) {
	clock := newClock()
	obs := &recordingObserver{}
	f := New(&stubFetcher{results: []stubResult{{snapshot: sampleSnapshot("0.30")}}}, Options{
		PostalCode: "10115",
		Now:        clock.Now,
		Observer:   obs,
	}, zerolog.Nop())

	_, _ = f.Refresh(context.Background())
	clock.Advance(time.Minute)
	_, _ = f.Refresh(context.Background())

	if len(obs.kinds) != 1 || obs.kinds[0] != "" {
		t.Fatalf("expected one successful fetch observation, got %v", obs.kinds)
	}
	if obs.throttled != 1 {
		t.Fatalf("expected one throttled observation, got %d", obs.throttled)
	}
}

func TestEntryLogsCarryPostalCodeOnce(t *testing.T) {
	var buf bytes.Buffer
	clock := newClock()
	stub := &stubFetcher{results: []stubResult{
		{snapshot: sampleSnapshot("0.30")},
		{err: &fetcher.FetchError{Kind: fetcher.KindConnect, Err: errors.New("refused")}},
	}}
	f := New(stub, Options{PostalCode: "10115", RefreshInterval: time.Hour, Now: clock.Now},
		logging.ForEntry(zerolog.New(&buf), "Home"))

	if _, err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := f.Refresh(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		if n := strings.Count(line, `"postal_code"`); n != 1 {
			t.Fatalf("expected postal_code once, got %d in %s", n, line)
		}
		if !strings.Contains(line, `"entry":"Home"`) {
			t.Fatalf("entry field missing in %s", line)
		}
	}
}
