package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceComponent is one line of a price breakdown (taxes, power, grid).
type PriceComponent struct {
	Kind               string          `json:"type"`
	AmountExcludingTax decimal.Decimal `json:"priceExcludingVat"`
	AmountIncludingTax decimal.Decimal `json:"priceIncludingVat"`
}

// HourlyPrice is the price of a single on-the-hour slot.
type HourlyPrice struct {
	HourStart          time.Time        `json:"hourStart"`
	AmountIncludingTax decimal.Decimal  `json:"priceIncludingVat"`
	Components         []PriceComponent `json:"priceComponents"`
}

// DailySummary aggregates today's energy price.
type DailySummary struct {
	AmountExcludingTax decimal.Decimal  `json:"priceExcludingVat"`
	AmountIncludingTax decimal.Decimal  `json:"priceIncludingVat"`
	Components         []PriceComponent `json:"priceComponents"`
}

// MonthlyFees captures recurring charges.
type MonthlyFees struct {
	AmountExcludingTax decimal.Decimal  `json:"priceExcludingVat"`
	AmountIncludingTax decimal.Decimal  `json:"priceIncludingVat"`
	Components         []PriceComponent `json:"priceComponents"`
}

// Snapshot is one complete parse of the price overview document. A snapshot
// is replaced as a whole and must not be mutated once published.
type Snapshot struct {
	HourlyPrices []HourlyPrice `json:"prices"`
	Today        DailySummary  `json:"today"`
	Monthly      MonthlyFees   `json:"monthly"`
}
