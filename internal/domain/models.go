// Package domain contains the core data model shared by the valuation
// pipeline, the signal store and the cascade scheduler. Types here are
// pure data: no storage, no I/O.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Grade is a source-platform (Cardmarket-style) condition grade.
type Grade string

const (
	GradeMint        Grade = "MT"
	GradeNearMint    Grade = "NM"
	GradeExcellent   Grade = "EXC"
	GradeGood        Grade = "GD"
	GradeLightPlayed Grade = "LP"
	GradePlayed      Grade = "PL"
	GradePoor        Grade = "PO"
)

// TargetGrade is a sell-side (TCGPlayer-style) condition grade.
type TargetGrade string

const (
	TargetNearMint         TargetGrade = "NM"
	TargetLightlyPlayed    TargetGrade = "LP"
	TargetModeratelyPlayed TargetGrade = "MP"
	TargetHeavilyPlayed    TargetGrade = "HP"
)

// Quote is one observed marketplace listing. Quotes are append-only and
// produced solely by the ingestion collaborator; the core never mutates them.
type Quote struct {
	CardID         string
	Source         string
	SellerID       string
	Price          decimal.Decimal
	Currency       string // "EUR" or "USD"
	Condition      Grade
	SellerRating   decimal.Decimal // percentage, e.g. 98.5
	SellerSales    int
	ShippingCost   decimal.Decimal
	Sales30d       int
	ActiveListings int
	ObservedAt     time.Time
	ListedAt       time.Time
}

// Validate reports whether the quote carries every field the pipeline
// needs. Incomplete quotes are skipped with an audit entry, never a crash.
func (q Quote) Validate() error {
	switch {
	case q.CardID == "":
		return fmt.Errorf("quote missing card id")
	case q.Source == "":
		return fmt.Errorf("quote missing source")
	case q.Currency == "":
		return fmt.Errorf("quote missing currency")
	case q.Condition == "":
		return fmt.Errorf("quote missing condition")
	case q.Price.IsNegative() || q.Price.IsZero():
		return fmt.Errorf("quote price must be positive, got %s", q.Price)
	case q.ShippingCost.IsNegative():
		return fmt.Errorf("quote shipping cost must be non-negative, got %s", q.ShippingCost)
	case q.ObservedAt.IsZero():
		return fmt.Errorf("quote missing observation timestamp")
	}
	return nil
}

// CardMetadata is slow-changing reference data per card, owned by the
// metadata-refresh collaborator and read-only to the core.
type CardMetadata struct {
	CardID           string
	VariantID        string // canonical variant id, e.g. "sv1-25"
	Name             string
	SetName          string
	Category         string // product line, e.g. "pokemon"
	RegulationMark   string // format-legality marker, e.g. "G", "H"
	LegalityStandard string // "Standard" or "Banned"
	ReleaseDate      time.Time
	ReprintRumored   bool
	BuyURL           string
	SellURL          string
}

// PricePoint is one historical price observation used for trend slopes.
type PricePoint struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Candidate pairs a buy-side and sell-side quote for one card. The buy
// side is always a EUR marketplace listing and the sell side a USD market
// quote; the pipeline rejects any other currency pairing. SellerDensity
// is the count of same-seller opportunities in the current scan, computed by
// the scan before the pipeline runs.
type Candidate struct {
	Buy           Quote
	Sell          Quote
	Metadata      *CardMetadata // nil when the metadata row is missing
	SellerDensity int
	PriceHistory  []PricePoint // trailing 7 days, ascending
}

// FeeSchedule describes a marketplace selling-fee formula. Capped schedules
// compute min(price*Rate, Cap) + Fixed; uncapped schedules compute price*Rate.
type FeeSchedule struct {
	Name   string
	Rate   decimal.Decimal
	Cap    decimal.Decimal
	Fixed  decimal.Decimal
	Capped bool
}

// The three fee schedules observed in the wild.
var (
	// FeeScheduleCapped models the Feb 2026 TCGPlayer update:
	// min(P x 0.1075, $75) + $0.30.
	FeeScheduleCapped = FeeSchedule{
		Name:   "capped_marketplace",
		Rate:   decimal.RequireFromString("0.1075"),
		Cap:    decimal.RequireFromString("75.00"),
		Fixed:  decimal.RequireFromString("0.30"),
		Capped: true,
	}
	// FeeScheduleUncapped models eBay-style flat-rate fees: P x 0.1325.
	FeeScheduleUncapped = FeeSchedule{
		Name: "uncapped_marketplace",
		Rate: decimal.RequireFromString("0.1325"),
	}
	// FeeScheduleProfessional models professional-seller flat rates: P x 0.05.
	FeeScheduleProfessional = FeeSchedule{
		Name: "professional",
		Rate: decimal.RequireFromString("0.05"),
	}
)

// FeeScheduleByName resolves a profile's fee-schedule selection. An empty
// name falls back to the capped schedule.
func FeeScheduleByName(name string) (FeeSchedule, error) {
	switch name {
	case FeeScheduleCapped.Name, "":
		return FeeScheduleCapped, nil
	case FeeScheduleUncapped.Name:
		return FeeScheduleUncapped, nil
	case FeeScheduleProfessional.Name:
		return FeeScheduleProfessional, nil
	}
	return FeeSchedule{}, fmt.Errorf("unknown fee schedule %q", name)
}

// CustomsRegime selects the import-duty formula. It is resolved from the
// wall-clock date once, outside the pipeline, and passed in as a plain
// parameter so both regimes stay testable side by side.
type CustomsRegime string

const (
	// RegimeDeMinimis: no duty under the $800 de-minimis threshold,
	// 2.5% above it.
	RegimeDeMinimis CustomsRegime = "de_minimis"
	// RegimeFlatDuty: 21% VAT on the full value plus a flat EUR 3.00 per
	// item, the post-cliff EU rules.
	RegimeFlatDuty CustomsRegime = "flat_duty"
)

// RecipientProfile is a per-recipient configuration snapshot. The pipeline
// reads a copy per run; concurrent profile edits never affect an in-flight
// evaluation.
type RecipientProfile struct {
	ID                 string
	Country            string
	FeeSchedule        FeeSchedule
	Currency           string // display preference, "USD" or "EUR"
	MinProfit          decimal.Decimal
	MinHeadache        decimal.Decimal
	Categories         []string
	PriorityTier       int // 3 = premium, 2 = standard, 1 = free
	PriorityScore      decimal.Decimal
	StrictMetadata     bool // reject on missing metadata instead of UNKNOWN
	UseForwarder       bool
	ForwarderReceiving decimal.Decimal
	ForwarderConsolid  decimal.Decimal
	InsuranceRate      decimal.Decimal
	InsuranceEnabled   bool
}

// AcceptsCategory reports whether the recipient wants cards from the
// given product line. An empty preference list accepts everything, and
// cards whose category is unknown always pass.
func (p RecipientProfile) AcceptsCategory(category string) bool {
	if len(p.Categories) == 0 || category == "" {
		return true
	}
	for _, c := range p.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// RiskFlag annotates an accepted signal without rejecting it.
type RiskFlag string

const (
	FlagStaleData         RiskFlag = "STALE_DATA"
	FlagSpeculative       RiskFlag = "SPECULATIVE"
	FlagBundleOpportunity RiskFlag = "BUNDLE_OPPORTUNITY"
	FlagRotationWatch     RiskFlag = "ROTATION_WATCH"
	FlagRotationDanger    RiskFlag = "ROTATION_DANGER"
	FlagRotationUnknown   RiskFlag = "ROTATION_UNKNOWN"
)

// SignalStatus is the cascade state machine position of a signal.
type SignalStatus string

const (
	StatusPending   SignalStatus = "PENDING"
	StatusDelivered SignalStatus = "DELIVERED"
	StatusActed     SignalStatus = "ACTED"
	StatusExpired   SignalStatus = "EXPIRED"
	StatusRetired   SignalStatus = "RETIRED"
)
