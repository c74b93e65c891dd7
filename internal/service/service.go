package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tibber-pricing/internal/alerting"
	"tibber-pricing/internal/feed"
	"tibber-pricing/internal/fetcher"
	"tibber-pricing/internal/observability"
	"tibber-pricing/internal/pricing"
	"tibber-pricing/internal/scheduler"
	"tibber-pricing/internal/sensor"
	"tibber-pricing/internal/storage"
)

// Entry is one configured postal code with its own feed.
type Entry struct {
	Name string
	Feed *feed.Feed
}

// Options tune publishing behaviour.
type Options struct {
	Zone          *time.Location
	AlertCheapest bool
	AlertPriciest bool
	LockKey       int64
}

// Service refreshes every entry's feed, evaluates the sensors, and
// publishes them to the log, the state store, and the metrics gauges.
type Service struct {
	scheduler *scheduler.Scheduler
	entries   []Entry
	store     storage.StateStore
	locker    storage.AdvisoryLocker
	notifier  alerting.Notifier
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	notified map[string]string
}

// New constructs the publishing service. store and notifier may be nil.
func New(sched *scheduler.Scheduler, entries []Entry, store storage.StateStore, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Service {
	if opts.Zone == nil {
		opts.Zone = time.UTC
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		entries:   entries,
		store:     store,
		locker:    locker,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
		notified:  make(map[string]string),
	}
}

// Run begins the aligned publishing loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick publishes every entry once. Entries are independent; a failing
// entry does not stop the others.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var errs []error
	for _, entry := range s.entries {
		if _, err := s.PublishEntry(ctx, entry, at); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name, err))
		}
	}
	return errors.Join(errs...)
}

// PublishEntry refreshes one entry and publishes its readings. When the
// refresh fails but an earlier snapshot exists, nothing is published and
// the previous values stay in place. Before the first successful fetch the
// sensors are published as unavailable.
func (s *Service) PublishEntry(ctx context.Context, entry Entry, at time.Time) ([]sensor.Reading, error) {
	logger := s.logger.With().Str("entry", entry.Name).Str("postal_code", entry.Feed.PostalCode()).Logger()

	snapshot, fetchErr := entry.Feed.Refresh(ctx)
	if fetchErr != nil {
		if last, _ := entry.Feed.Latest(); last != nil {
			logger.Warn().Err(fetchErr).Msg("keeping previously published values")
			return nil, fetchErr
		}
		snapshot = nil
	}

	readings := sensor.Evaluate(entry.Name, snapshot, at, s.opts.Zone)
	publishErr := s.publish(ctx, logger, entry, readings)
	observability.ObservePublish(entry.Name, publishErr)

	if snapshot != nil {
		s.maybeNotify(ctx, logger, entry, snapshot, at)
	}

	return readings, errors.Join(fetchErr, publishErr)
}

func (s *Service) publish(ctx context.Context, logger zerolog.Logger, entry Entry, readings []sensor.Reading) error {
	available := 0
	for _, r := range readings {
		if r.Available {
			available++
		}
		logger.Debug().Str("sensor", r.Key).
			Str("state", r.State).
			Bool("available", r.Available).
			Msg(r.Display)
	}

	observability.SetReadings(readings)

	if s.store != nil {
		if err := s.store.UpsertReadings(ctx, readings); err != nil {
			logger.Error().Err(err).Msg("failed to upsert sensor states")
			return err
		}
	}

	logger.Info().Int("available", available).
		Int("sensors", len(readings)).
		Msg("sensors published")
	return nil
}

// BuildNotification reports whether the hour containing at is today's
// cheapest (or priciest) hour, and the notice describing it.
func BuildNotification(entry Entry, kind string, snapshot *pricing.Snapshot, at time.Time, zone *time.Location) (alerting.Notification, bool) {
	ex, ok := pricing.Summarize(snapshot)
	if !ok {
		return alerting.Notification{}, false
	}

	hourStart := pricing.HourStart(at, zone)
	note := alerting.Notification{
		Entry:      entry.Name,
		PostalCode: entry.Feed.PostalCode(),
		Kind:       kind,
		DayLow:     ex.Lowest,
		DayHigh:    ex.Highest,
	}

	switch kind {
	case alerting.KindCheapest:
		note.HourStart, note.Price = ex.LowestHour.In(zone), ex.Lowest
		return note, ex.LowestHour.Equal(hourStart)
	case alerting.KindPriciest:
		note.HourStart, note.Price = ex.HighestHour.In(zone), ex.Highest
		return note, ex.HighestHour.Equal(hourStart)
	default:
		return alerting.Notification{}, false
	}
}

func (s *Service) maybeNotify(ctx context.Context, logger zerolog.Logger, entry Entry, snapshot *pricing.Snapshot, at time.Time) {
	if s.notifier == nil {
		return
	}

	var kinds []string
	if s.opts.AlertCheapest {
		kinds = append(kinds, alerting.KindCheapest)
	}
	if s.opts.AlertPriciest {
		kinds = append(kinds, alerting.KindPriciest)
	}

	day := at.In(s.opts.Zone).Format(time.DateOnly)
	for _, kind := range kinds {
		note, due := BuildNotification(entry, kind, snapshot, at, s.opts.Zone)
		if !due {
			continue
		}

		key := entry.Name + "/" + kind
		s.mu.Lock()
		sent := s.notified[key] == day
		s.mu.Unlock()
		if sent {
			continue
		}

		if err := s.notifier.Notify(ctx, note); err != nil {
			logger.Error().Err(err).Str("kind", kind).Msg("failed to dispatch price notice")
			continue
		}

		s.mu.Lock()
		s.notified[key] = day
		s.mu.Unlock()
	}
}

// ValidateEntry performs one direct fetch, bypassing any throttling, and
// reports the failure kind. Parse failures are reported as unknown.
func ValidateEntry(ctx context.Context, f fetcher.PriceFetcher, postalCode string) (fetcher.Kind, error) {
	_, err := f.FetchPrices(ctx, postalCode)
	if err == nil {
		return "", nil
	}

	kind := fetcher.KindOf(err)
	switch kind {
	case fetcher.KindConnect, fetcher.KindTimeout:
		return kind, err
	default:
		return fetcher.KindUnknown, err
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
