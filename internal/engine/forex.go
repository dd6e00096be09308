package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// All money values round half-up to cents once per derived figure.
var twoDP = int32(2)

// DefaultForexBuffer is the pessimistic haircut applied to the spot rate.
var DefaultForexBuffer = decimal.RequireFromString("0.02")

func roundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(twoDP)
}

// BufferedBuyRate discounts the spot EUR/USD rate by the buffer. The
// discounted rate is what a retail conversion actually yields after spread,
// so every EUR-denominated cost is valued at it. With spot 1.08 and a 2%
// buffer the effective multiplier is 1.0584.
func BufferedBuyRate(spot, buffer decimal.Decimal) decimal.Decimal {
	return spot.Mul(decimal.NewFromInt(1).Sub(buffer))
}

// ConvertEURToUSD converts a EUR cost into USD at the buffered rate.
func ConvertEURToUSD(amountEUR, spot, buffer decimal.Decimal) (decimal.Decimal, error) {
	if amountEUR.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must be non-negative, got %s", amountEUR)
	}
	if !spot.IsPositive() {
		return decimal.Zero, fmt.Errorf("spot rate must be positive, got %s", spot)
	}
	return roundMoney(amountEUR.Mul(BufferedBuyRate(spot, buffer))), nil
}

// ConvertUSDToEUR converts USD sell proceeds into EUR. The buffer moves the
// other way here: proceeds are divided by an inflated rate so the EUR value
// is understated.
func ConvertUSDToEUR(amountUSD, spot, buffer decimal.Decimal) (decimal.Decimal, error) {
	if amountUSD.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must be non-negative, got %s", amountUSD)
	}
	if !spot.IsPositive() {
		return decimal.Zero, fmt.Errorf("spot rate must be positive, got %s", spot)
	}
	inflated := spot.Mul(decimal.NewFromInt(1).Add(buffer))
	return roundMoney(amountUSD.DivRound(inflated, 6)).Round(twoDP), nil
}
