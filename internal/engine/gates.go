package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Seller quality floor defaults.
var (
	DefaultMinSellerRating = decimal.RequireFromString("97.0")
	DefaultMinSellerSales  = 100
)

// VariantStage verifies both quotes point at the same canonical variant.
// It must run first: any downstream arithmetic on mismatched variants
// produces a poisoned, misleadingly profitable result.
type VariantStage struct{}

func (VariantStage) Name() string { return "variant" }

func (VariantStage) Evaluate(ctx *Context) Result {
	meta := ctx.Candidate.Metadata
	if meta == nil || meta.VariantID == "" {
		if ctx.Profile.StrictMetadata {
			return Reject(ReasonMetadataMissing, "strict mode: no canonical variant id for "+ctx.Candidate.Buy.CardID)
		}
		// Without a canonical id all we can do is require the two quotes to
		// agree on the raw card id.
		if ctx.Candidate.Buy.CardID != ctx.Candidate.Sell.CardID {
			return Reject(ReasonVariantMismatch, fmt.Sprintf("buy=%s sell=%s", ctx.Candidate.Buy.CardID, ctx.Candidate.Sell.CardID))
		}
		return Accept()
	}
	if ctx.Candidate.Buy.CardID != meta.CardID || ctx.Candidate.Sell.CardID != meta.CardID {
		return Reject(ReasonVariantMismatch, fmt.Sprintf("buy=%s sell=%s canonical=%s", ctx.Candidate.Buy.CardID, ctx.Candidate.Sell.CardID, meta.CardID))
	}
	return Accept()
}

// SellerQualityStage rejects listings from low-trust buy-side sellers
// before any fee arithmetic runs. Both floors must pass.
type SellerQualityStage struct {
	MinRating decimal.Decimal
	MinSales  int
}

func NewSellerQualityStage() SellerQualityStage {
	return SellerQualityStage{MinRating: DefaultMinSellerRating, MinSales: DefaultMinSellerSales}
}

func (SellerQualityStage) Name() string { return "seller_quality" }

func (s SellerQualityStage) Evaluate(ctx *Context) Result {
	buy := ctx.Candidate.Buy
	if buy.SellerRating.LessThan(s.MinRating) {
		return Reject(ReasonSellerQualityFail, fmt.Sprintf("rating %s below floor %s", buy.SellerRating, s.MinRating))
	}
	if buy.SellerSales < s.MinSales {
		return Reject(ReasonSellerQualityFail, fmt.Sprintf("sale count %d below floor %d", buy.SellerSales, s.MinSales))
	}
	return Accept()
}
