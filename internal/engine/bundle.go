package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// Bundle density tiers.
const (
	BundleAlertMin   = 5 // density at which the bundle-opportunity flag fires
	PartialBundleMin = 2
)

// BundleTier classifies the seller density of a candidate.
type BundleTier string

const (
	BundleAlert   BundleTier = "bundle_alert"
	PartialBundle BundleTier = "partial_bundle"
	SingleCard    BundleTier = "single_card"
)

// BundleResult is the seller-density verdict.
type BundleResult struct {
	Density int
	Tier    BundleTier
}

// classifyDensity maps a seller density to its tier.
func classifyDensity(density int) BundleTier {
	switch {
	case density >= BundleAlertMin:
		return BundleAlert
	case density >= PartialBundleMin:
		return PartialBundle
	default:
		return SingleCard
	}
}

// BundleStage settles the shipping question the effective-price stage
// deferred. A cheap single card must survive full, un-amortized shipping: a
// $10 card with $15 shipping is not arbitrage. Dense sellers get the
// bundle-opportunity flag instead.
type BundleStage struct{}

func (BundleStage) Name() string { return "bundle" }

func (BundleStage) Evaluate(ctx *Context) Result {
	density := ctx.Candidate.SellerDensity
	if density < 1 {
		density = 1
	}
	ctx.Bundle = BundleResult{Density: density, Tier: classifyDensity(density)}

	if ctx.Acquisition.ShippingDeferred {
		fullCost, err := ConvertEURToUSD(
			ctx.Acquisition.ListingEUR.Add(ctx.Acquisition.FullShippingEUR),
			ctx.Forex.Rate, DefaultForexBuffer,
		)
		if err != nil {
			return Reject(ReasonInternalError, fmt.Sprintf("convert full-shipping cost: %v", err))
		}

		// Breaking even is not arbitrage either, so zero rejects too.
		recomputed := computeProfit(ctx, fullCost)
		if recomputed.NetProfit.LessThanOrEqual(decimal.Zero) {
			return Reject(ReasonBundleShippingRefused,
				fmt.Sprintf("single-card shipping flips net %s to %s", ctx.Profit.NetProfit, recomputed.NetProfit))
		}
		// Keep the honest numbers: the recipient pays full shipping.
		ctx.Acquisition.TotalUSD = fullCost
		ctx.Acquisition.ShippingEUR = ctx.Acquisition.FullShippingEUR
		ctx.Acquisition.ShippingDeferred = false
		ctx.Profit = recomputed
	}

	if density >= BundleAlertMin {
		ctx.AddFlag(domain.FlagBundleOpportunity)
	}
	return Accept()
}
