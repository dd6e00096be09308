package engine

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/radar/internal/domain"
)

// PriceSlope computes the daily price change rate from trailing history:
// a least-squares linear fit over (days since first point, price),
// normalized by the mean price. -0.05 means the price loses 5% of its mean
// per day. Fewer than two points means no trend data, slope zero.
func PriceSlope(history []domain.PricePoint) decimal.Decimal {
	if len(history) < 2 {
		return decimal.Zero
	}

	xs := make([]float64, len(history))
	ys := make([]float64, len(history))
	origin := history[0].ObservedAt
	for i, p := range history {
		xs[i] = p.ObservedAt.Sub(origin).Hours() / 24
		ys[i], _ = p.Price.Float64()
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	mean := stat.Mean(ys, nil)
	if mean == 0 {
		return decimal.Zero
	}

	return decimal.NewFromFloat(slope / mean).Round(6)
}
