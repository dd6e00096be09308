package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NoiseFloorRatio: profit below 10% of acquisition cost is noise, not
// arbitrage, regardless of the recipient's own floor.
var NoiseFloorRatio = decimal.RequireFromString("0.10")

// ProfitBreakdown is the net realizable outcome of a candidate trade.
type ProfitBreakdown struct {
	AdjustedTarget decimal.Decimal // sell price after condition penalty
	Revenue        decimal.Decimal // adjusted target minus selling fee
	TotalCosts     decimal.Decimal
	NetProfit      decimal.Decimal
	MarginPct      decimal.Decimal // net profit over revenue, percent
}

// computeProfit assembles the breakdown from values already on the context,
// optionally overriding the acquisition cost (the bundle stage re-runs the
// math with full shipping).
func computeProfit(ctx *Context, acquisitionUSD decimal.Decimal) ProfitBreakdown {
	adjustedTarget := roundMoney(ctx.Candidate.Sell.Price.Mul(ctx.Condition.Multiplier))
	revenue := roundMoney(adjustedTarget.Sub(ctx.Fees.SellingFee))
	costs := acquisitionUSD.
		Add(ctx.Fees.CustomsDuty).
		Add(ctx.Fees.ForwarderFee).
		Add(ctx.Fees.InsuranceFee)
	net := roundMoney(revenue.Sub(costs))

	margin := decimal.Zero
	if !revenue.IsZero() {
		margin = net.DivRound(revenue, 6).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return ProfitBreakdown{
		AdjustedTarget: adjustedTarget,
		Revenue:        revenue,
		TotalCosts:     roundMoney(costs),
		NetProfit:      net,
		MarginPct:      margin,
	}
}

// ProfitStage computes net realizable profit and applies both the
// recipient's configured floor and the noise floor.
type ProfitStage struct{}

func (ProfitStage) Name() string { return "profit" }

func (ProfitStage) Evaluate(ctx *Context) Result {
	profit := computeProfit(ctx, ctx.Acquisition.TotalUSD)
	ctx.Profit = profit

	if profit.NetProfit.LessThan(ctx.Profile.MinProfit) {
		return Reject(ReasonProfitThresholdMiss,
			fmt.Sprintf("net %s below recipient floor %s", profit.NetProfit, ctx.Profile.MinProfit))
	}
	noiseFloor := ctx.Acquisition.TotalUSD.Mul(NoiseFloorRatio)
	if profit.NetProfit.LessThan(noiseFloor) {
		return Reject(ReasonProfitThresholdMiss,
			fmt.Sprintf("net %s below noise floor %s (10%% of acquisition)", profit.NetProfit, roundMoney(noiseFloor)))
	}
	return Accept()
}
