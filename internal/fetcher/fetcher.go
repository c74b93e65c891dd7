package fetcher

import (
	"context"
	"errors"
	"fmt"

	"tibber-pricing/internal/pricing"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindConnect   Kind = "cannot_connect"
	KindTimeout   Kind = "timeout"
	KindParse     Kind = "parse_error"
	KindUnknown   Kind = "unknown"
	KindNoDataYet Kind = "no_data_yet"
)

// ErrNoDataYet is returned while the refresh window is active and no
// snapshot has been obtained yet.
var ErrNoDataYet = &FetchError{Kind: KindNoDataYet, Err: errors.New("no price data fetched yet")}

// FetchError is the only error type PriceFetcher implementations return.
type FetchError struct {
	Kind Kind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf reports the kind of err. Errors that are not a FetchError are
// classified as unknown; nil yields an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func newError(kind Kind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// PriceFetcher retrieves and parses the price overview for a postal code.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, postalCode string) (*pricing.Snapshot, error)
}
