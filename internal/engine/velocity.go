package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// Velocity thresholds and penalty bands.
var (
	VelocityHighFloor = decimal.RequireFromString("1.5")
	VelocityMinFloor  = decimal.RequireFromString("0.5")

	maturityDecayYoung      = decimal.RequireFromString("0.9")
	maturityDecayMaturing   = decimal.RequireFromString("0.8")
	maturityDecayNormalized = decimal.RequireFromString("0.7")
	reprintRumorPenalty     = decimal.RequireFromString("0.8")

	stalenessPenalty2h  = decimal.RequireFromString("0.95")
	stalenessPenalty4h  = decimal.RequireFromString("0.85")
	stalenessPenaltyOld = decimal.RequireFromString("0.70")

	confidenceMedium = decimal.RequireFromString("0.9")
	confidenceLow    = decimal.RequireFromString("0.8")
)

// VelocityResult is the liquidity score with its penalty components.
type VelocityResult struct {
	Raw              decimal.Decimal // sales30d / (activeListings + 1)
	ConfidenceFactor decimal.Decimal
	MaturityDecay    decimal.Decimal
	StalenessPenalty decimal.Decimal
	Score            decimal.Decimal
	Tier             int // 1 = hot, 2 = moderate, 3 = slow
	Stale            bool
}

// MaturityDecay returns the hype-decay multiplier for a product of the
// given age. Bands are half-open on the lower bound: age exactly 30 days is
// already in the 0.9 band.
func MaturityDecay(releaseDate, now time.Time) decimal.Decimal {
	ageDays := int(now.Sub(releaseDate).Hours() / 24)
	switch {
	case ageDays < 30: // includes future release dates
		return decimal.NewFromInt(1)
	case ageDays < 60:
		return maturityDecayYoung
	case ageDays < 90:
		return maturityDecayMaturing
	default:
		return maturityDecayNormalized
	}
}

// ReprintAdjustedDecay applies the anticipatory-markdown penalty on top of
// the base decay. The penalty applies only past 60 days, strictly: a rumor
// on a set aged exactly 60 days changes nothing.
func ReprintAdjustedDecay(base decimal.Decimal, releaseDate time.Time, rumored bool, now time.Time) decimal.Decimal {
	if !rumored {
		return base
	}
	ageDays := int(now.Sub(releaseDate).Hours() / 24)
	if ageDays > 60 {
		return base.Mul(reprintRumorPenalty)
	}
	return base
}

// StalenessPenalty returns the ghost-listing multiplier for a quote of the
// given observation age. The flagged return is true at four hours and
// beyond, where the STALE_DATA flag must be attached.
func StalenessPenalty(observedAt, now time.Time) (decimal.Decimal, bool) {
	age := now.Sub(observedAt)
	switch {
	case age < time.Hour:
		return decimal.NewFromInt(1), false
	case age < 2*time.Hour:
		return stalenessPenalty2h, false
	case age < 4*time.Hour:
		return stalenessPenalty4h, false
	default:
		return stalenessPenaltyOld, true
	}
}

// confidenceFactor discounts velocity computed from thin samples.
func confidenceFactor(sales30d, activeListings int) decimal.Decimal {
	samples := sales30d + activeListings
	switch {
	case samples >= 10:
		return decimal.NewFromInt(1)
	case samples >= 3:
		return confidenceMedium
	default:
		return confidenceLow
	}
}

// VelocityStage computes the liquidity score
//
//	V = (sales30d / (activeListings+1)) x confidence x maturity x staleness
//
// and rejects candidates below the 0.5 floor. Sales and listing counts come
// from the sell-side quote; maturity from card metadata (a missing metadata
// row means no decay, velocity is judged on market data alone).
type VelocityStage struct{}

func (VelocityStage) Name() string { return "velocity" }

func (VelocityStage) Evaluate(ctx *Context) Result {
	sell := ctx.Candidate.Sell

	raw := decimal.NewFromInt(int64(sell.Sales30d)).
		DivRound(decimal.NewFromInt(int64(sell.ActiveListings)+1), 6)

	decay := decimal.NewFromInt(1)
	if meta := ctx.Candidate.Metadata; meta != nil && !meta.ReleaseDate.IsZero() {
		decay = MaturityDecay(meta.ReleaseDate, ctx.Now)
		decay = ReprintAdjustedDecay(decay, meta.ReleaseDate, meta.ReprintRumored, ctx.Now)
	}

	staleness, stale := StalenessPenalty(sell.ObservedAt, ctx.Now)
	if stale {
		ctx.AddFlag(domain.FlagStaleData)
	}

	confidence := confidenceFactor(sell.Sales30d, sell.ActiveListings)
	score := raw.Mul(confidence).Mul(decay).Mul(staleness).Round(4)

	// Tier 1 starts exactly where ClassifyTrend calls a score high.
	tier := 3
	switch {
	case score.GreaterThanOrEqual(VelocityHighFloor):
		tier = 1
	case score.GreaterThanOrEqual(VelocityMinFloor):
		tier = 2
	}

	ctx.Velocity = VelocityResult{
		Raw:              raw.Round(4),
		ConfidenceFactor: confidence,
		MaturityDecay:    decay,
		StalenessPenalty: staleness,
		Score:            score,
		Tier:             tier,
		Stale:            stale,
	}

	if score.LessThan(VelocityMinFloor) {
		return Reject(ReasonVelocityFloorMiss, fmt.Sprintf("velocity %s below floor %s", score, VelocityMinFloor))
	}
	return Accept()
}
