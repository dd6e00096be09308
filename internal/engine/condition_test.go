package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/radar/internal/domain"
)

func TestTranslateCondition(t *testing.T) {
	tests := []struct {
		grade      domain.Grade
		target     domain.TargetGrade
		multiplier string
	}{
		{domain.GradeMint, domain.TargetNearMint, "1.00"},
		{domain.GradeNearMint, domain.TargetNearMint, "1.00"},
		{domain.GradeExcellent, domain.TargetLightlyPlayed, "0.85"},
		{domain.GradeGood, domain.TargetModeratelyPlayed, "0.75"},
		{domain.GradeLightPlayed, domain.TargetModeratelyPlayed, "0.75"},
		{domain.GradePlayed, domain.TargetHeavilyPlayed, "0.60"},
	}

	for _, tt := range tests {
		t.Run(string(tt.grade), func(t *testing.T) {
			mapping, err := TranslateCondition(tt.grade)
			require.NoError(t, err)
			assert.Equal(t, tt.target, mapping.TargetGrade)
			assert.True(t, mapping.Multiplier.Equal(decimal.RequireFromString(tt.multiplier)),
				"multiplier %s", mapping.Multiplier)
		})
	}
}

func TestTranslateConditionRejectsPoor(t *testing.T) {
	_, err := TranslateCondition(domain.GradePoor)
	assert.Error(t, err)
}

func TestTranslateConditionRejectsUnknownGrade(t *testing.T) {
	_, err := TranslateCondition(domain.Grade("MINTY"))
	assert.Error(t, err)
}

func TestConditionStageRejectsPoor(t *testing.T) {
	ctx := testContext()
	ctx.Candidate.Buy.Condition = domain.GradePoor

	result := ConditionStage{}.Evaluate(ctx)
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonConditionReject, result.Reason)
}

func TestConditionStageRecordsMapping(t *testing.T) {
	ctx := testContext()
	ctx.Candidate.Buy.Condition = domain.GradeExcellent

	result := ConditionStage{}.Evaluate(ctx)
	require.True(t, result.Accepted)
	assert.Equal(t, domain.TargetLightlyPlayed, ctx.Condition.TargetGrade)
	assert.True(t, ctx.Condition.Multiplier.Equal(decimal.RequireFromString("0.85")))
}
