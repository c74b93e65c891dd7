package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Extremes holds today's highest and lowest price and the first hour each
// occurs at.
type Extremes struct {
	Highest     decimal.Decimal
	HighestHour time.Time
	Lowest      decimal.Decimal
	LowestHour  time.Time
}

// HourStart truncates t to the start of its hour as observed in zone.
// time.Truncate works on absolute time and would be wrong for zones with a
// non-whole-hour offset. Rebuilding the wall clock with time.Date is
// ambiguous on the DST fall-back night, so only the sub-hour part of the
// local reading is removed from the instant.
func HourStart(t time.Time, zone *time.Location) time.Time {
	if zone == nil {
		zone = time.UTC
	}
	local := t.In(zone)
	sub := time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	return local.Add(-sub)
}

// HourAt returns the entry whose HourStart is the same instant as at
// truncated to the hour in zone. Position in the list is irrelevant.
func HourAt(s *Snapshot, at time.Time, zone *time.Location) (HourlyPrice, bool) {
	if s == nil {
		return HourlyPrice{}, false
	}
	key := HourStart(at, zone)
	for _, h := range s.HourlyPrices {
		if h.HourStart.Equal(key) {
			return h, true
		}
	}
	return HourlyPrice{}, false
}

// CurrentPrice returns the price including tax for the hour containing now.
func CurrentPrice(s *Snapshot, now time.Time, zone *time.Location) (decimal.Decimal, bool) {
	h, ok := HourAt(s, now, zone)
	if !ok {
		return decimal.Decimal{}, false
	}
	return h.AmountIncludingTax, true
}

// NextHourPrice returns the price including tax for the hour after now.
func NextHourPrice(s *Snapshot, now time.Time, zone *time.Location) (decimal.Decimal, bool) {
	h, ok := HourAt(s, now.Add(time.Hour), zone)
	if !ok {
		return decimal.Decimal{}, false
	}
	return h.AmountIncludingTax, true
}

// PriceComponentsAt returns the breakdown of the hour containing now.
func PriceComponentsAt(s *Snapshot, now time.Time, zone *time.Location) ([]PriceComponent, bool) {
	h, ok := HourAt(s, now, zone)
	if !ok {
		return nil, false
	}
	return h.Components, true
}

// Summarize scans the hourly prices once. The recorded extreme is replaced
// only on strict inequality, so ties keep the earliest entry in list order.
func Summarize(s *Snapshot) (Extremes, bool) {
	if s == nil || len(s.HourlyPrices) == 0 {
		return Extremes{}, false
	}

	first := s.HourlyPrices[0]
	ex := Extremes{
		Highest:     first.AmountIncludingTax,
		HighestHour: first.HourStart,
		Lowest:      first.AmountIncludingTax,
		LowestHour:  first.HourStart,
	}
	for _, h := range s.HourlyPrices[1:] {
		if h.AmountIncludingTax.GreaterThan(ex.Highest) {
			ex.Highest = h.AmountIncludingTax
			ex.HighestHour = h.HourStart
		}
		if h.AmountIncludingTax.LessThan(ex.Lowest) {
			ex.Lowest = h.AmountIncludingTax
			ex.LowestHour = h.HourStart
		}
	}
	return ex, true
}

// HighestToday returns the maximum hourly price.
func HighestToday(s *Snapshot) (decimal.Decimal, bool) {
	ex, ok := Summarize(s)
	return ex.Highest, ok
}

// LowestToday returns the minimum hourly price.
func LowestToday(s *Snapshot) (decimal.Decimal, bool) {
	ex, ok := Summarize(s)
	return ex.Lowest, ok
}

// HighestPriceHour returns the first hour attaining the maximum price.
func HighestPriceHour(s *Snapshot) (time.Time, bool) {
	ex, ok := Summarize(s)
	return ex.HighestHour, ok
}

// LowestPriceHour returns the first hour attaining the minimum price.
func LowestPriceHour(s *Snapshot) (time.Time, bool) {
	ex, ok := Summarize(s)
	return ex.LowestHour, ok
}
