package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/prices"
)

var satoshisPerBitcoin = decimal.NewFromInt(100_000_000)
var oneHundred = decimal.NewFromInt(100)

// SatoshisFromFiat converts a fiat amount into satoshis at the given cached
// rate, adjusted by the relative premium. The rate must be fresher than the
// freshness threshold; a stale snapshot is an error, never silently used.
func SatoshisFromFiat(fiatAmount decimal.Decimal, rate *prices.CurrencyRate, premium decimal.Decimal, freshness time.Duration, now time.Time) (int64, error) {
	if fiatAmount.Sign() <= 0 {
		return 0, NewValidationError("fiat amount must be positive")
	}
	if now.Sub(rate.Timestamp) > freshness {
		return 0, NewStaleRateError(rate.Currency)
	}

	premiumMultiplier := decimal.NewFromInt(1).Add(premium.Div(oneHundred))
	effectivePrice := rate.Price.Mul(premiumMultiplier)
	if effectivePrice.Sign() <= 0 {
		return 0, NewValidationError("effective price must be positive")
	}

	satoshis := fiatAmount.Div(effectivePrice).Mul(satoshisPerBitcoin)
	return satoshis.Round(0).IntPart(), nil
}

// ExplicitSatoshis prices an explicit order: the maker fixed the satoshi
// amount directly, so the price cache is never consulted.
func ExplicitSatoshis(satoshis int64) (int64, error) {
	if satoshis < constants.MIN_TRADE_SATOSHIS {
		return 0, NewValidationError("explicit satoshi amount is below the trade minimum")
	}
	return satoshis, nil
}

// BondSatoshis sizes a bond against the frozen (or nominal, pre-take) trade
// amount. Proportional to the trade, floored at the network minimum unit.
func BondSatoshis(tradeSatoshis int64, bondSize decimal.Decimal) int64 {
	bond := decimal.NewFromInt(tradeSatoshis).Mul(bondSize.Div(oneHundred)).Round(0).IntPart()
	if bond < constants.MIN_BOND_SATOSHIS {
		bond = constants.MIN_BOND_SATOSHIS
	}
	return bond
}

// ValidateRange rejects inconsistent amount ranges before they ever reach
// the state machine.
func ValidateRange(minAmount, maxAmount decimal.Decimal) error {
	if minAmount.Sign() <= 0 || maxAmount.Sign() <= 0 {
		return NewInvalidRangeError("range amounts must be positive")
	}
	if minAmount.GreaterThan(maxAmount) {
		return NewInvalidRangeError("min amount is greater than max amount")
	}
	return nil
}

// NominalAmount is the amount a not-yet-taken order is priced at: the fixed
// amount, or the midpoint of the range.
func NominalAmount(hasRange bool, amount, minAmount, maxAmount decimal.Decimal) decimal.Decimal {
	if !hasRange {
		return amount
	}
	return minAmount.Add(maxAmount).Div(decimal.NewFromInt(2))
}
