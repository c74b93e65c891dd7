package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tibber-pricing/internal/alerting"
	"tibber-pricing/internal/config"
	"tibber-pricing/internal/feed"
	"tibber-pricing/internal/fetcher"
	"tibber-pricing/internal/logging"
	"tibber-pricing/internal/observability"
	"tibber-pricing/internal/scheduler"
	"tibber-pricing/internal/service"
	"tibber-pricing/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tabular command output.
	Out io.Writer
	// Now overrides the clock used by one-shot commands.
	Now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		Now:    time.Now,
	}
}

func (a *App) newFetcher() (*fetcher.Tibber, error) {
	feedLoc, err := a.Config.FeedLocation()
	if err != nil {
		return nil, err
	}
	return fetcher.NewTibber(fetcher.TibberOptions{
		BaseURL:    a.Config.Tibber.BaseURL,
		Locale:     a.Config.Tibber.Locale,
		UserAgent:  a.Config.Tibber.UserAgent,
		FeedOffset: feedLoc,
	}, a.Logger), nil
}

func (a *App) newEntries(f fetcher.PriceFetcher, observer feed.Observer) []service.Entry {
	entries := make([]service.Entry, 0, len(a.Config.Entries))
	for _, ec := range a.Config.Entries {
		entries = append(entries, service.Entry{
			Name: ec.Name,
			Feed: feed.New(f, feed.Options{
				PostalCode:      ec.PostalCode,
				RefreshInterval: a.Config.Feed.RefreshInterval,
				Now:             a.Now,
				Observer:        observer,
			}, logging.ForEntry(a.Logger, ec.Name)),
		})
	}
	return entries
}

func (a *App) findEntry(entries []service.Entry, name string) (service.Entry, error) {
	if name == "" {
		if len(entries) == 0 {
			return service.Entry{}, errors.New("no entries configured")
		}
		return entries[0], nil
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return service.Entry{}, fmt.Errorf("entry %q not configured", name)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) warnOffsetMismatch() {
	mismatch, err := a.Config.OffsetMismatch(a.Now())
	if err != nil || !mismatch {
		return
	}
	a.Logger.Warn().Str("timezone", a.Config.Timezone).
		Str("feed_offset", a.Config.Tibber.FeedOffset).
		Msg("feed offset differs from the configured timezone; current and next hour prices may be unavailable")
}

func (a *App) serveMetrics(ctx context.Context) {
	addr := a.Config.Metrics.ListenAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Run executes the long-running publishing service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zone, err := a.Config.Location()
	if err != nil {
		return err
	}
	a.warnOffsetMismatch()

	observability.Init()
	a.serveMetrics(ctx)

	var stateStore storage.StateStore
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; state sink disabled")
	} else {
		defer closeStore()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		stateStore = store
	}

	f, err := a.newFetcher()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		Location:       zone,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)

	svc := service.New(sched, a.newEntries(f, observability.FeedObserver{}), stateStore, a.newNotifier(), service.Options{
		Zone:          zone,
		AlertCheapest: a.Config.Alerting.CheapestHour,
		AlertPriciest: a.Config.Alerting.PriciestHour,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	a.Logger.Info().Int("entries", len(a.Config.Entries)).Msg("starting pricing service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("pricing service stopped")
	return nil
}

// ExportOptions hold parameters for exporting today's prices.
type ExportOptions struct {
	Entry   string
	PNGPath string
	CSVPath string
}

// StatesOptions configure the states command.
type StatesOptions struct {
	Entry string
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Entry string
	Kind  string
}
