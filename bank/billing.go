/*
billing.go - Overage pricing

PURPOSE:
  Converts a finalized cycle-end deficit into money. The unit rate is
  resolved from an external rate table per company+month+kind; a missing
  rate is fatal for the month's finalization - an overage with no price
  must never be committed as zero-valued.

ROUNDING:
  Hours overage is priced on fractional decimal hours (minutes / 60),
  tickets on whole units. The monetary result rounds half-up to two
  decimal places, once, at the end.
*/
package bank

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// currencyPlaces is the precision of billable amounts.
const currencyPlaces = 2

// OverageBiller prices cycle-end deficits.
type OverageBiller struct {
	Rates RateSource
}

// NewOverageBiller constructs a biller over the given rate source.
func NewOverageBiller(rates RateSource) *OverageBiller {
	return &OverageBiller{Rates: rates}
}

// Price resolves the rate and values the overage quantity for one kind.
// overageUnits is minutes for hours, ticket counts for tickets, always
// positive. Returns the resolved rate and the rounded monetary value.
func (b *OverageBiller) Price(ctx context.Context, companyID string, month MonthKey, kind Kind, overageUnits int64) (rate, value decimal.Decimal, err error) {
	rate, err = b.Rates.Rate(ctx, companyID, month, kind)
	if err != nil {
		if errors.Is(err, ErrRateNotFound) {
			return decimal.Zero, decimal.Zero, &RateNotFoundError{CompanyID: companyID, Month: month, Kind: kind}
		}
		return decimal.Zero, decimal.Zero, err
	}

	var quantity decimal.Decimal
	switch kind {
	case KindHours:
		quantity = Duration(overageUnits).DecimalHours()
	default:
		quantity = decimal.NewFromInt(overageUnits)
	}
	return rate, quantity.Mul(rate).Round(currencyPlaces), nil
}
