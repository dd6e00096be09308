package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/radar/internal/domain"
)

func TestClassifyDensity(t *testing.T) {
	assert.Equal(t, SingleCard, classifyDensity(1))
	assert.Equal(t, PartialBundle, classifyDensity(2))
	assert.Equal(t, PartialBundle, classifyDensity(4))
	assert.Equal(t, BundleAlert, classifyDensity(5))
	assert.Equal(t, BundleAlert, classifyDensity(12))
}

func TestBundleStageFlagsDenseSellers(t *testing.T) {
	ctx := testContext()
	ctx.Candidate.SellerDensity = 5

	result := BundleStage{}.Evaluate(ctx)
	require.True(t, result.Accepted)
	assert.Equal(t, BundleAlert, ctx.Bundle.Tier)
	assert.True(t, ctx.HasFlag(domain.FlagBundleOpportunity))
}

func TestBundleStageNoFlagForPartialBundle(t *testing.T) {
	ctx := testContext()
	ctx.Candidate.SellerDensity = 3

	result := BundleStage{}.Evaluate(ctx)
	require.True(t, result.Accepted)
	assert.Equal(t, PartialBundle, ctx.Bundle.Tier)
	assert.False(t, ctx.HasFlag(domain.FlagBundleOpportunity))
}

func TestBundleStageSuppressesShippingKilledSingles(t *testing.T) {
	// A EUR 10 card judged profitable without shipping, then hit with the
	// full EUR 15 shipping bill.
	ctx := testContext()
	ctx.Candidate.SellerDensity = 1
	ctx.Condition = ConditionMapping{Multiplier: decimal.NewFromInt(1)}
	ctx.Candidate.Sell.Price = decimal.RequireFromString("20.00")
	ctx.Fees = FeeBreakdown{SellingFee: decimal.RequireFromString("2.45")}
	ctx.Acquisition = AcquisitionCost{
		ListingEUR:       decimal.RequireFromString("10.00"),
		FullShippingEUR:  decimal.RequireFromString("15.00"),
		TotalUSD:         decimal.RequireFromString("10.58"),
		ShippingDeferred: true,
	}
	ctx.Profit = computeProfit(ctx, ctx.Acquisition.TotalUSD)
	require.True(t, ctx.Profit.NetProfit.IsPositive())

	result := BundleStage{}.Evaluate(ctx)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonBundleShippingRefused, result.Reason)
}

func TestBundleStageSuppressesBreakEvenSingles(t *testing.T) {
	// Full shipping lands the recompute on exactly zero: EUR 25.00 costs
	// USD 26.46, and a USD 30.00 target nets 26.46 after the fee.
	ctx := testContext()
	ctx.Candidate.SellerDensity = 1
	ctx.Condition = ConditionMapping{Multiplier: decimal.NewFromInt(1)}
	ctx.Candidate.Sell.Price = decimal.RequireFromString("30.00")
	ctx.Fees = FeeBreakdown{SellingFee: decimal.RequireFromString("3.54")}
	ctx.Acquisition = AcquisitionCost{
		ListingEUR:       decimal.RequireFromString("10.00"),
		FullShippingEUR:  decimal.RequireFromString("15.00"),
		TotalUSD:         decimal.RequireFromString("10.58"),
		ShippingDeferred: true,
	}
	ctx.Profit = computeProfit(ctx, ctx.Acquisition.TotalUSD)

	result := BundleStage{}.Evaluate(ctx)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonBundleShippingRefused, result.Reason)
}

func TestBundleStageRepricesSurvivingSingles(t *testing.T) {
	ctx := testContext()
	ctx.Candidate.SellerDensity = 1
	ctx.Condition = ConditionMapping{Multiplier: decimal.NewFromInt(1)}
	ctx.Candidate.Sell.Price = decimal.RequireFromString("20.00")
	ctx.Fees = FeeBreakdown{SellingFee: decimal.RequireFromString("2.45")}
	ctx.Acquisition = AcquisitionCost{
		ListingEUR:       decimal.RequireFromString("10.00"),
		FullShippingEUR:  decimal.RequireFromString("1.50"),
		TotalUSD:         decimal.RequireFromString("10.58"),
		ShippingDeferred: true,
	}
	ctx.Profit = computeProfit(ctx, ctx.Acquisition.TotalUSD)

	result := BundleStage{}.Evaluate(ctx)
	require.True(t, result.Accepted)

	// The final numbers must carry the full shipping bill.
	assert.False(t, ctx.Acquisition.ShippingDeferred)
	assert.True(t, ctx.Acquisition.TotalUSD.Equal(decimal.RequireFromString("12.17")),
		"total %s", ctx.Acquisition.TotalUSD)
	assert.True(t, ctx.Profit.NetProfit.Equal(decimal.RequireFromString("5.38")),
		"net %s", ctx.Profit.NetProfit)
}
