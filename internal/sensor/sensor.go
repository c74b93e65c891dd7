package sensor

import (
	"time"

	"github.com/shopspring/decimal"

	"tibber-pricing/internal/pricing"
)

// Sensor keys.
const (
	KeyCurrentPrice          = "current_price"
	KeyNextHourPrice         = "next_hour_price"
	KeyHighestPriceToday     = "highest_price_today"
	KeyHighestPriceTodayHour = "highest_price_today_hour"
	KeyLowestPriceToday      = "lowest_price_today"
	KeyLowestPriceTodayHour  = "lowest_price_today_hour"
)

const (
	DeviceClassMonetary   = "monetary"
	DeviceClassTimestamp  = "timestamp"
	StateClassMeasurement = "measurement"
	UnitEuroPerKWh        = "EUR/kWh"
)

// Description is the static metadata of a sensor.
type Description struct {
	Key         string
	Name        string
	Icon        string
	DeviceClass string
	StateClass  string
	Unit        string
}

// Descriptions lists the published sensors in display order.
var Descriptions = []Description{
	{Key: KeyCurrentPrice, Name: "Current Price", Icon: "mdi:currency-eur", DeviceClass: DeviceClassMonetary, StateClass: StateClassMeasurement, Unit: UnitEuroPerKWh},
	{Key: KeyNextHourPrice, Name: "Next Hour Price", Icon: "mdi:chevron-right", DeviceClass: DeviceClassMonetary, StateClass: StateClassMeasurement, Unit: UnitEuroPerKWh},
	{Key: KeyHighestPriceToday, Name: "Highest Price Today", Icon: "mdi:gauge-full", DeviceClass: DeviceClassMonetary, StateClass: StateClassMeasurement, Unit: UnitEuroPerKWh},
	{Key: KeyHighestPriceTodayHour, Name: "Highest Price Today Hour", Icon: "mdi:calendar-clock-outline", DeviceClass: DeviceClassTimestamp},
	{Key: KeyLowestPriceToday, Name: "Lowest Price Today", Icon: "mdi:gauge-empty", DeviceClass: DeviceClassMonetary, StateClass: StateClassMeasurement, Unit: UnitEuroPerKWh},
	{Key: KeyLowestPriceTodayHour, Name: "Lowest Price Today Hour", Icon: "mdi:calendar-clock-outline", DeviceClass: DeviceClassTimestamp},
}

// Reading is the evaluated state of one sensor for one entry.
type Reading struct {
	Description
	Entry     string
	UniqueID  string
	Display   string
	State     string
	Available bool
	// Attributes holds extra state attributes; nil when there are none.
	Attributes map[string]any
	At         time.Time
}

// Evaluate computes all sensors for the entry at now. A nil snapshot yields
// unavailable readings.
func Evaluate(entry string, s *pricing.Snapshot, now time.Time, zone *time.Location) []Reading {
	ex, haveExtremes := pricing.Summarize(s)
	components, haveComponents := pricing.PriceComponentsAt(s, now, zone)

	readings := make([]Reading, 0, len(Descriptions))
	for _, desc := range Descriptions {
		r := Reading{
			Description: desc,
			Entry:       entry,
			UniqueID:    entry + " " + desc.Key,
			Display:     entry + " " + desc.Name,
			At:          now,
		}

		switch desc.Key {
		case KeyCurrentPrice:
			if v, ok := pricing.CurrentPrice(s, now, zone); ok {
				r.State, r.Available = v.String(), true
			}
		case KeyNextHourPrice:
			if v, ok := pricing.NextHourPrice(s, now, zone); ok {
				r.State, r.Available = v.String(), true
			}
		case KeyHighestPriceToday:
			if haveExtremes {
				r.State, r.Available = ex.Highest.String(), true
			}
		case KeyLowestPriceToday:
			if haveExtremes {
				r.State, r.Available = ex.Lowest.String(), true
			}
		case KeyHighestPriceTodayHour:
			if haveExtremes {
				r.State, r.Available = ex.HighestHour.Format(time.RFC3339), true
			}
		case KeyLowestPriceTodayHour:
			if haveExtremes {
				r.State, r.Available = ex.LowestHour.Format(time.RFC3339), true
			}
		}

		r.Attributes = attributes(desc.Key, s, components, haveComponents)
		readings = append(readings, r)
	}
	return readings
}

func attributes(key string, s *pricing.Snapshot, components []pricing.PriceComponent, haveComponents bool) map[string]any {
	if s == nil {
		return nil
	}
	attrs := make(map[string]any)
	if haveComponents {
		attrs["price_components"] = components
	}
	if key == KeyCurrentPrice {
		attrs["prices"] = s.HourlyPrices
		attrs["today"] = s.Today
		attrs["monthly"] = s.Monthly
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// StateFloat converts a numeric state to float64 for gauges and charts.
func StateFloat(r Reading) (float64, bool) {
	if !r.Available {
		return 0, false
	}
	d, err := decimal.NewFromString(r.State)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
