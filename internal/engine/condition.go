package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// ConditionMapping is the sell-side equivalent of a source-platform grade
// with its price penalty.
type ConditionMapping struct {
	SourceGrade domain.Grade
	TargetGrade domain.TargetGrade
	Multiplier  decimal.Decimal // applied to the target price, 0.85 = -15%
}

// conditionTable is the pessimistic cross-platform grade mapping. "Near
// Mint" means different things on different platforms: a source "Excellent"
// is routinely rejected as "Lightly Played" on the sell side, so the sell
// price must always use the translated grade. Poor is intentionally absent:
// candidates in Poor condition are rejected, never translated.
var conditionTable = map[domain.Grade]ConditionMapping{
	domain.GradeMint: {
		SourceGrade: domain.GradeMint,
		TargetGrade: domain.TargetNearMint,
		Multiplier:  decimal.RequireFromString("1.00"),
	},
	domain.GradeNearMint: {
		SourceGrade: domain.GradeNearMint,
		TargetGrade: domain.TargetNearMint,
		Multiplier:  decimal.RequireFromString("1.00"),
	},
	domain.GradeExcellent: {
		SourceGrade: domain.GradeExcellent,
		TargetGrade: domain.TargetLightlyPlayed,
		Multiplier:  decimal.RequireFromString("0.85"),
	},
	domain.GradeGood: {
		SourceGrade: domain.GradeGood,
		TargetGrade: domain.TargetModeratelyPlayed,
		Multiplier:  decimal.RequireFromString("0.75"),
	},
	domain.GradeLightPlayed: {
		SourceGrade: domain.GradeLightPlayed,
		TargetGrade: domain.TargetModeratelyPlayed,
		Multiplier:  decimal.RequireFromString("0.75"),
	},
	domain.GradePlayed: {
		SourceGrade: domain.GradePlayed,
		TargetGrade: domain.TargetHeavilyPlayed,
		Multiplier:  decimal.RequireFromString("0.60"),
	},
}

// TranslateCondition maps a source grade to its sell-side equivalent.
// Returns an error for Poor (and unknown) grades; those candidates must be
// rejected, never priced.
func TranslateCondition(grade domain.Grade) (ConditionMapping, error) {
	if grade == domain.GradePoor {
		return ConditionMapping{}, fmt.Errorf("grade %q never translates: poor/damaged cards do not generate signals", grade)
	}
	mapping, ok := conditionTable[grade]
	if !ok {
		return ConditionMapping{}, fmt.Errorf("unknown condition grade %q", grade)
	}
	return mapping, nil
}

// ConditionStage translates the buy-side condition grade and records the
// penalty for downstream pricing.
type ConditionStage struct{}

func (ConditionStage) Name() string { return "condition" }

func (ConditionStage) Evaluate(ctx *Context) Result {
	mapping, err := TranslateCondition(ctx.Candidate.Buy.Condition)
	if err != nil {
		return Reject(ReasonConditionReject, err.Error())
	}
	ctx.Condition = mapping
	return Accept()
}
