package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BundleSingleCardThreshold: sub-$25 single-card candidates get their
// shipping judgment deferred to the bundle stage.
var BundleSingleCardThreshold = decimal.RequireFromString("25.00")

// AcquisitionCost is the true cost of getting the card in hand, in USD.
type AcquisitionCost struct {
	ListingEUR      decimal.Decimal
	ShippingEUR     decimal.Decimal // per-card share after amortization
	FullShippingEUR decimal.Decimal // un-amortized single-card shipping
	TotalUSD        decimal.Decimal // (listing + shipping share) at the buffered rate
	CardOnlyUSD     decimal.Decimal // listing alone at the buffered rate

	// ShippingDeferred marks a single-card candidate cheap enough that the
	// bundle stage must re-run the profit math with full shipping before the
	// candidate can be accepted.
	ShippingDeferred bool
}

// EffectivePriceStage converts the buy-side listing into a USD acquisition
// cost. Shipping is amortized across the seller's qualifying cards when the
// bundle density is above one; for cheap single-card candidates the shipping
// verdict is deferred to the bundle stage, which re-adds the full cost.
type EffectivePriceStage struct{}

func (EffectivePriceStage) Name() string { return "effective_price" }

func (EffectivePriceStage) Evaluate(ctx *Context) Result {
	buy := ctx.Candidate.Buy
	density := ctx.Candidate.SellerDensity
	if density < 1 {
		density = 1
	}

	cardOnlyUSD, err := ConvertEURToUSD(buy.Price, ctx.Forex.Rate, DefaultForexBuffer)
	if err != nil {
		return Reject(ReasonInternalError, fmt.Sprintf("convert listing price: %v", err))
	}

	cost := AcquisitionCost{
		ListingEUR:      buy.Price,
		FullShippingEUR: buy.ShippingCost,
		CardOnlyUSD:     cardOnlyUSD,
	}

	switch {
	case density > 1:
		cost.ShippingEUR = buy.ShippingCost.DivRound(decimal.NewFromInt(int64(density)), 4)
	case cardOnlyUSD.LessThan(BundleSingleCardThreshold):
		// Single cheap card: evaluate the card on its own merits first; the
		// bundle stage decides whether full shipping kills it.
		cost.ShippingDeferred = true
		cost.ShippingEUR = decimal.Zero
	default:
		cost.ShippingEUR = buy.ShippingCost
	}

	totalUSD, err := ConvertEURToUSD(buy.Price.Add(cost.ShippingEUR), ctx.Forex.Rate, DefaultForexBuffer)
	if err != nil {
		return Reject(ReasonInternalError, fmt.Sprintf("convert acquisition cost: %v", err))
	}
	cost.TotalUSD = totalUSD

	ctx.Acquisition = cost
	return Accept()
}
