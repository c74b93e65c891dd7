package app

import (
	"context"
	"errors"
	"fmt"

	"tibber-pricing/internal/alerting"
	"tibber-pricing/internal/service"
)

// SimulateAlert fetches one entry and sends the notice for today's
// cheapest or priciest hour regardless of the current time.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}
	if opts.Kind != alerting.KindCheapest && opts.Kind != alerting.KindPriciest {
		return fmt.Errorf("unknown notice kind %q", opts.Kind)
	}

	zone, err := a.Config.Location()
	if err != nil {
		return err
	}
	f, err := a.newFetcher()
	if err != nil {
		return err
	}
	entry, err := a.findEntry(a.newEntries(f, nil), opts.Entry)
	if err != nil {
		return err
	}

	snapshot, err := entry.Feed.Refresh(ctx)
	if err != nil {
		return err
	}

	note, _ := service.BuildNotification(entry, opts.Kind, snapshot, a.Now(), zone)
	if note.Entry == "" {
		return errors.New("snapshot has no hourly prices")
	}
	return a.newNotifier().Notify(ctx, note)
}
