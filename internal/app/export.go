package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"tibber-pricing/internal/pricing"
)

// Export renders one entry's current snapshot as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
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
	if len(snapshot.HourlyPrices) == 0 {
		a.Logger.Info().Str("entry", entry.Name).Msg("no hourly prices to export")
		return nil
	}

	a.Logger.Info().Str("entry", entry.Name).Int("hours", len(snapshot.HourlyPrices)).Msg("exporting prices")

	if opts.CSVPath != "" {
		if err := writePricesCSV(a.resolvePath(opts.CSVPath), snapshot, zone); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePricesPNG(a.resolvePath(opts.PNGPath), entry.Name, snapshot, zone); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) resolvePath(path string) string {
	if filepath.IsAbs(path) || a.Config.Export.Directory == "" {
		return path
	}
	return filepath.Join(a.Config.Export.Directory, path)
}

// componentKinds lists component kinds in order of first appearance.
func componentKinds(s *pricing.Snapshot) []string {
	seen := make(map[string]bool)
	var kinds []string
	for _, hp := range s.HourlyPrices {
		for _, c := range hp.Components {
			if !seen[c.Kind] {
				seen[c.Kind] = true
				kinds = append(kinds, c.Kind)
			}
		}
	}
	return kinds
}

func writePricesCSV(path string, s *pricing.Snapshot, zone *time.Location) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	kinds := componentKinds(s)
	header := []string{"hour_start", "price_eur_per_kwh"}
	header = append(header, kinds...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, hp := range s.HourlyPrices {
		byKind := make(map[string]decimal.Decimal, len(hp.Components))
		for _, c := range hp.Components {
			byKind[c.Kind] = c.AmountIncludingTax
		}

		record := []string{
			hp.HourStart.In(zone).Format(time.RFC3339),
			hp.AmountIncludingTax.String(),
		}
		for _, kind := range kinds {
			v, ok := byKind[kind]
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, v.String())
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePricesPNG(path, entryName string, s *pricing.Snapshot, zone *time.Location) error {
	if len(s.HourlyPrices) < 2 {
		return errors.New("at least two hourly prices are needed to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	lo, hi := priceRange(s)
	pad := hi.Sub(lo).Div(decimal.NewFromInt(10))
	if pad.IsZero() {
		pad = decimal.RequireFromString("0.01")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	x, series := priceSeries(s, zone)

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s", entryName, x[0].Format(time.DateOnly)),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (EUR/kWh)",
			ValueFormatter: priceFormatter,
			Range: &chart.ContinuousRange{
				Min: lo.Sub(pad).InexactFloat64(),
				Max: hi.Add(pad).InexactFloat64(),
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// priceSeries returns the hourly price line and, when the provider sent
// one, a flat dashed line at today's summary price.
func priceSeries(s *pricing.Snapshot, zone *time.Location) ([]time.Time, []chart.Series) {
	x := make([]time.Time, len(s.HourlyPrices))
	prices := make([]float64, len(s.HourlyPrices))
	for i, hp := range s.HourlyPrices {
		x[i] = hp.HourStart.In(zone)
		prices[i] = hp.AmountIncludingTax.InexactFloat64()
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Hourly price",
			XValues: x,
			YValues: prices,
		},
	}
	if s.Today.AmountIncludingTax.IsZero() {
		return x, series
	}

	today := make([]float64, len(x))
	for i := range today {
		today[i] = s.Today.AmountIncludingTax.InexactFloat64()
	}
	return x, append(series, chart.TimeSeries{
		Name:    "Today's price (provider summary)",
		XValues: x,
		YValues: today,
		Style:   chart.Style{StrokeDashArray: []float64{5, 5}},
	})
}

func priceRange(s *pricing.Snapshot) (decimal.Decimal, decimal.Decimal) {
	lo, hi := s.HourlyPrices[0].AmountIncludingTax, s.HourlyPrices[0].AmountIncludingTax
	for _, hp := range s.HourlyPrices[1:] {
		lo = decimal.Min(lo, hp.AmountIncludingTax)
		hi = decimal.Max(hi, hp.AmountIncludingTax)
	}
	if !s.Today.AmountIncludingTax.IsZero() {
		lo = decimal.Min(lo, s.Today.AmountIncludingTax)
		hi = decimal.Max(hi, s.Today.AmountIncludingTax)
	}
	return lo, hi
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
