// Package engine implements the deterministic valuation pipeline: an
// ordered, short-circuiting chain of gates and calculators that turns a
// (buy quote, sell quote, card metadata, recipient profile) candidate into
// an accept/reject decision with a decimal-exact computation trail.
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// RejectReason identifies why a candidate was dropped. Reasons are values,
// not errors: a rejected candidate is a normal outcome and never aborts the
// surrounding batch.
type RejectReason string

const (
	ReasonVariantMismatch       RejectReason = "VARIANT_MISMATCH"
	ReasonSellerQualityFail     RejectReason = "SELLER_QUALITY_FAIL"
	ReasonConditionReject       RejectReason = "CONDITION_REJECT"
	ReasonProfitThresholdMiss   RejectReason = "PROFIT_THRESHOLD_MISS"
	ReasonVelocityFloorMiss     RejectReason = "VELOCITY_FLOOR_MISS"
	ReasonLiquidation           RejectReason = "LIQUIDATION"
	ReasonDead                  RejectReason = "DEAD"
	ReasonRotationSuppressed    RejectReason = "ROTATION_SUPPRESSED"
	ReasonHeadacheFloorMiss     RejectReason = "HEADACHE_FLOOR_MISS"
	ReasonBundleShippingRefused RejectReason = "BUNDLE_SHIPPING_SUPPRESS"
	ReasonMetadataMissing       RejectReason = "METADATA_MISSING"
	ReasonInvalidQuote          RejectReason = "INVALID_QUOTE"
	ReasonInternalError         RejectReason = "INTERNAL_ERROR"
)

// Result is the outcome of one stage evaluation.
type Result struct {
	Accepted bool
	Reason   RejectReason
	Detail   string
}

// Accept is the successful stage result.
func Accept() Result { return Result{Accepted: true} }

// Reject stops the chain with the given reason.
func Reject(reason RejectReason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

// Stage is one gate or calculator in the pipeline. Stages read and extend
// the shared Context; the orchestrator iterates them in a fixed order and
// stops at the first rejection. Ordering is data (the orchestrator's stage
// slice), not a convention buried in call sites.
type Stage interface {
	Name() string
	Evaluate(ctx *Context) Result
}

// Context carries one candidate through the stage chain, accumulating every
// intermediate value for the audit snapshot.
type Context struct {
	Candidate domain.Candidate
	Profile   domain.RecipientProfile
	Regime    domain.CustomsRegime
	Forex     domain.ForexRate
	Now       time.Time

	// Accumulated by stages, in chain order.
	Condition   ConditionMapping
	Acquisition AcquisitionCost
	Fees        FeeBreakdown
	Profit      ProfitBreakdown
	Velocity    VelocityResult
	PriceSlope  decimal.Decimal
	Trend       TrendClass
	Rotation    RotationAssessment
	Headache    HeadacheResult
	Bundle      BundleResult

	Flags []domain.RiskFlag
}

// AddFlag attaches a risk flag, deduplicating repeats.
func (c *Context) AddFlag(flag domain.RiskFlag) {
	for _, f := range c.Flags {
		if f == flag {
			return
		}
	}
	c.Flags = append(c.Flags, flag)
}

// HasFlag reports whether the flag is already attached.
func (c *Context) HasFlag(flag domain.RiskFlag) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// FlagStrings returns the flag set as plain strings for persistence.
func (c *Context) FlagStrings() []string {
	out := make([]string, 0, len(c.Flags))
	for _, f := range c.Flags {
		out = append(out, string(f))
	}
	return out
}
