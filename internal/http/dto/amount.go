package dto

import (
	"fmt"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/shopspring/decimal"
)

const satsPerBTC = 100_000_000

var maxBTC = decimal.NewFromInt(21_000_000)

// ParseSats resolves a request amount given either in satoshis or as a BTC
// decimal string with at most eight fractional digits. Exactly one must be set.
func ParseSats(sats *int64, btc string) (int64, error) {
	switch {
	case sats != nil && btc != "":
		return 0, fmt.Errorf("%w: give amount or amount_btc, not both", apperr.ErrInvalidAmount)
	case sats != nil:
		if *sats <= 0 || *sats > models.MaxAmount {
			return 0, fmt.Errorf("%w: %d sats out of range", apperr.ErrInvalidAmount, *sats)
		}
		return *sats, nil
	case btc == "":
		return 0, fmt.Errorf("%w: amount is required", apperr.ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(btc)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal", apperr.ErrInvalidAmount, btc)
	}
	if !d.IsPositive() || d.GreaterThan(maxBTC) {
		return 0, fmt.Errorf("%w: %s BTC out of range", apperr.ErrInvalidAmount, btc)
	}
	shifted := d.Shift(8)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s BTC has more than 8 decimal places", apperr.ErrInvalidAmount, btc)
	}
	return shifted.IntPart(), nil
}

// FormatBTC renders sats as a fixed eight-place BTC string.
func FormatBTC(sats int64) string {
	return decimal.New(sats, -8).StringFixed(8)
}
