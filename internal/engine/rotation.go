package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// RotationSpreadOverride: a spread of 40% or more keeps a rotation-risky
// candidate alive despite the suppression rule.
var RotationSpreadOverride = decimal.RequireFromString("0.40")

// RotationLevel grades how close a card is to falling out of its format.
type RotationLevel string

const (
	RotationSafe    RotationLevel = "SAFE"    // more than 180 days out, or no announced rotation
	RotationWatch   RotationLevel = "WATCH"   // 91-180 days
	RotationDanger  RotationLevel = "DANGER"  // 90 days or fewer
	RotationRotated RotationLevel = "ROTATED" // already out, or banned
	RotationUnknown RotationLevel = "UNKNOWN" // marker not in the calendar, or no metadata
)

// RotationCalendar maps a format-legality marker to its announced rotation
// date. Markers with a zero date are current and have no announced
// rotation. Updated manually when the publisher announces changes.
type RotationCalendar map[string]time.Time

// DefaultRotationCalendar reflects the published schedule: mark G rotates
// 2026-04-10; H and I are current with no announced date.
func DefaultRotationCalendar() RotationCalendar {
	return RotationCalendar{
		"G": time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		"H": {},
		"I": {},
	}
}

// RotationAssessment is the rotation-risk verdict for one candidate.
type RotationAssessment struct {
	Level        RotationLevel
	RotationDate time.Time // zero when unknown or unannounced
	DaysUntil    int       // meaningful only when RotationDate is set
}

// AssessRotation grades rotation risk from the legality marker.
func AssessRotation(marker, legality string, calendar RotationCalendar, now time.Time) RotationAssessment {
	if legality == "Banned" {
		return RotationAssessment{Level: RotationRotated}
	}
	if marker == "" {
		return RotationAssessment{Level: RotationUnknown}
	}
	rotationDate, ok := calendar[marker]
	if !ok {
		// A marker the calendar has never heard of is a marker that already
		// rotated out of every tracked format.
		return RotationAssessment{Level: RotationRotated}
	}
	if rotationDate.IsZero() {
		return RotationAssessment{Level: RotationSafe}
	}

	days := int(rotationDate.Sub(now).Hours() / 24)
	assessment := RotationAssessment{RotationDate: rotationDate, DaysUntil: days}
	switch {
	case days < 0:
		assessment.Level = RotationRotated
	case days <= 90:
		assessment.Level = RotationDanger
	case days <= 180:
		assessment.Level = RotationWatch
	default:
		assessment.Level = RotationSafe
	}
	return assessment
}

// RotationStage overlays the rotation calendar on the candidate. Rotated
// cards, and danger-window cards without a fat enough spread, are
// suppressed: selling into a liquidation cascade is how spreads evaporate
// between signal and sale. Survivors carry the level as a risk flag.
type RotationStage struct {
	Calendar RotationCalendar
}

func NewRotationStage() RotationStage {
	return RotationStage{Calendar: DefaultRotationCalendar()}
}

func (RotationStage) Name() string { return "rotation" }

func (s RotationStage) Evaluate(ctx *Context) Result {
	marker, legality := "", ""
	if meta := ctx.Candidate.Metadata; meta != nil {
		marker, legality = meta.RegulationMark, meta.LegalityStandard
	}

	assessment := AssessRotation(marker, legality, s.Calendar, ctx.Now)
	ctx.Rotation = assessment

	if assessment.Level == RotationRotated || assessment.Level == RotationDanger {
		spread := spreadRatio(ctx)
		if assessment.Level == RotationRotated || spread.LessThan(RotationSpreadOverride) {
			return Reject(ReasonRotationSuppressed,
				fmt.Sprintf("level %s, spread %s below override %s", assessment.Level, spread, RotationSpreadOverride))
		}
	}

	switch assessment.Level {
	case RotationWatch:
		ctx.AddFlag(domain.FlagRotationWatch)
	case RotationDanger:
		ctx.AddFlag(domain.FlagRotationDanger)
	case RotationUnknown:
		ctx.AddFlag(domain.FlagRotationUnknown)
	}
	return Accept()
}

// spreadRatio is the relative gap between the adjusted sell target and the
// acquisition cost.
func spreadRatio(ctx *Context) decimal.Decimal {
	if ctx.Acquisition.TotalUSD.IsZero() {
		return decimal.Zero
	}
	return ctx.Profit.AdjustedTarget.Sub(ctx.Acquisition.TotalUSD).
		DivRound(ctx.Acquisition.TotalUSD, 4)
}
