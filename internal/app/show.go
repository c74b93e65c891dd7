package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"tibber-pricing/internal/fetcher"
	"tibber-pricing/internal/sensor"
	"tibber-pricing/internal/service"
)

// Show fetches every entry once and prints its sensors.
func (a *App) Show(ctx context.Context) error {
	zone, err := a.Config.Location()
	if err != nil {
		return err
	}
	f, err := a.newFetcher()
	if err != nil {
		return err
	}

	now := a.Now()
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sensor\tState\tUnit\tNote")

	var errs []error
	for _, entry := range a.newEntries(f, nil) {
		snapshot, fetchErr := entry.Feed.Refresh(ctx)
		note := ""
		if fetchErr != nil {
			note = string(fetcher.KindOf(fetchErr))
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name, fetchErr))
		}
		for _, r := range sensor.Evaluate(entry.Name, snapshot, now, zone) {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", r.Display, displayState(r), r.Unit, note)
		}
	}

	writer.Flush()
	return errors.Join(errs...)
}

// States prints what the state store last received.
func (a *App) States(ctx context.Context, opts StatesOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list sensor states")
	}
	defer closeStore()

	states, err := store.ListSensorStates(ctx, opts.Entry)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(a.Out, "no sensor states found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Entry\tSensor\tState\tObserved\tUpdated (UTC)")
	for _, st := range states {
		state := "unknown"
		if st.Available && st.State != nil {
			state = sanitizeInline(*st.State)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			st.Entry,
			st.SensorKey,
			state,
			st.ObservedAt.Format(time.RFC3339),
			st.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

// Validate performs one direct fetch per entry and reports the outcome.
func (a *App) Validate(ctx context.Context) error {
	f, err := a.newFetcher()
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Entry\tPostal code\tResult")

	failed := 0
	for _, entry := range a.Config.Entries {
		kind, err := service.ValidateEntry(ctx, f, entry.PostalCode)
		result := "ok"
		if err != nil {
			failed++
			result = string(kind)
			a.Logger.Error().Err(err).Str("entry", entry.Name).Str("kind", result).Msg("entry validation failed")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", entry.Name, entry.PostalCode, result)
	}

	writer.Flush()
	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed validation", failed, len(a.Config.Entries))
	}
	return nil
}

func displayState(r sensor.Reading) string {
	if !r.Available {
		return "unknown"
	}
	return r.State
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
