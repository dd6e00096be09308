package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// Customs and forwarder constants: pessimistic midpoints of current market
// rates. Forwarder fees are user-configurable per profile.
var (
	DeMinimisThresholdUSD = decimal.RequireFromString("800.00")
	DeMinimisDutyRate     = decimal.RequireFromString("0.025")
	FlatDutyVATRate       = decimal.RequireFromString("0.21")
	FlatDutyPerItemEUR    = decimal.RequireFromString("3.00")
	InsuranceFloorUSD     = decimal.RequireFromString("30.00")
)

// FeeBreakdown is every fee charged on a candidate trade, in USD.
type FeeBreakdown struct {
	SellingFee   decimal.Decimal // marketplace fee on the adjusted target price
	CustomsDuty  decimal.Decimal
	ForwarderFee decimal.Decimal // receiving + consolidation, amortized by density
	InsuranceFee decimal.Decimal
	Total        decimal.Decimal
}

// SellingFee computes the marketplace fee for a target price under the
// given schedule: min(P*rate, cap) + fixed for capped schedules, P*rate
// otherwise.
func SellingFee(targetPrice decimal.Decimal, schedule domain.FeeSchedule) (decimal.Decimal, error) {
	if targetPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("target price must be non-negative, got %s", targetPrice)
	}
	variable := targetPrice.Mul(schedule.Rate)
	if schedule.Capped && variable.GreaterThan(schedule.Cap) {
		variable = schedule.Cap
	}
	return roundMoney(variable.Add(schedule.Fixed)), nil
}

// CustomsDuty computes the import duty for an acquisition cost under the
// active regime. The regime is a plain input; no wall-clock branching here.
func CustomsDuty(acquisitionUSD decimal.Decimal, regime domain.CustomsRegime, forex domain.ForexRate) (decimal.Decimal, error) {
	switch regime {
	case domain.RegimeDeMinimis:
		if acquisitionUSD.LessThan(DeMinimisThresholdUSD) {
			return decimal.Zero, nil
		}
		return roundMoney(acquisitionUSD.Mul(DeMinimisDutyRate)), nil
	case domain.RegimeFlatDuty:
		vat := acquisitionUSD.Mul(FlatDutyVATRate)
		flatUSD, err := ConvertEURToUSD(FlatDutyPerItemEUR, forex.Rate, DefaultForexBuffer)
		if err != nil {
			return decimal.Zero, err
		}
		return roundMoney(vat.Add(flatUSD)), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported customs regime %q", regime)
}

// FeeStage assembles the full fee breakdown: selling fee on the
// condition-adjusted target price, customs per the active regime, forwarder
// overhead amortized by bundle density, and insurance above the declared
// value floor.
type FeeStage struct{}

func (FeeStage) Name() string { return "fees" }

func (f FeeStage) Evaluate(ctx *Context) Result {
	adjustedTarget := roundMoney(ctx.Candidate.Sell.Price.Mul(ctx.Condition.Multiplier))

	selling, err := SellingFee(adjustedTarget, ctx.Profile.FeeSchedule)
	if err != nil {
		return Reject(ReasonInternalError, fmt.Sprintf("selling fee: %v", err))
	}

	customs, err := CustomsDuty(ctx.Acquisition.TotalUSD, ctx.Regime, ctx.Forex)
	if err != nil {
		return Reject(ReasonInternalError, fmt.Sprintf("customs duty: %v", err))
	}

	fees := FeeBreakdown{
		SellingFee:  selling,
		CustomsDuty: customs,
	}

	if ctx.Profile.UseForwarder {
		density := ctx.Candidate.SellerDensity
		if density < 1 {
			density = 1
		}
		perCard := ctx.Profile.ForwarderReceiving.Add(ctx.Profile.ForwarderConsolid).
			DivRound(decimal.NewFromInt(int64(density)), 4)
		fees.ForwarderFee = roundMoney(perCard)

		if ctx.Profile.InsuranceEnabled && ctx.Acquisition.TotalUSD.GreaterThan(InsuranceFloorUSD) {
			fees.InsuranceFee = roundMoney(ctx.Acquisition.TotalUSD.Mul(ctx.Profile.InsuranceRate))
		}
	}

	fees.Total = fees.SellingFee.Add(fees.CustomsDuty).Add(fees.ForwarderFee).Add(fees.InsuranceFee)
	ctx.Fees = fees
	return Accept()
}
