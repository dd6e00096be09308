package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// FallingKnifeThreshold: a daily slope at or below -10% marks a falling
// price for the trend matrix.
var FallingKnifeThreshold = decimal.RequireFromString("-0.10")

// TrendClass is one cell of the velocity x price-trajectory matrix.
type TrendClass string

const (
	TrendMomentum    TrendClass = "momentum"    // high velocity, price holding or rising
	TrendLiquidation TrendClass = "liquidation" // high velocity, price collapsing: panic selling
	TrendStable      TrendClass = "stable"      // low velocity, price flat
	TrendSpeculative TrendClass = "speculative" // low velocity, price rising
	TrendDeclining   TrendClass = "declining"   // low velocity, price falling
)

// ClassifyTrend places a (velocity score, daily slope) pair in the matrix.
func ClassifyTrend(velocity, dailySlope decimal.Decimal) TrendClass {
	high := velocity.GreaterThanOrEqual(VelocityHighFloor)
	falling := dailySlope.LessThanOrEqual(FallingKnifeThreshold)
	rising := dailySlope.IsPositive()

	switch {
	case high && falling:
		return TrendLiquidation
	case high:
		return TrendMomentum
	case falling:
		return TrendDeclining
	case rising:
		return TrendSpeculative
	default:
		return TrendStable
	}
}

// TrendStage computes the 7-day price slope and classifies the candidate.
// Liquidation (high velocity driven by panic selling) and declining dead
// stock are rejected; a low-velocity riser passes with a SPECULATIVE flag.
type TrendStage struct{}

func (TrendStage) Name() string { return "trend" }

func (TrendStage) Evaluate(ctx *Context) Result {
	slope := PriceSlope(ctx.Candidate.PriceHistory)
	ctx.PriceSlope = slope

	class := ClassifyTrend(ctx.Velocity.Score, slope)
	ctx.Trend = class

	switch class {
	case TrendLiquidation:
		return Reject(ReasonLiquidation, fmt.Sprintf("velocity %s with slope %s/day", ctx.Velocity.Score, slope))
	case TrendDeclining:
		return Reject(ReasonDead, fmt.Sprintf("velocity %s with slope %s/day", ctx.Velocity.Score, slope))
	case TrendSpeculative:
		ctx.AddFlag(domain.FlagSpeculative)
	}
	return Accept()
}
