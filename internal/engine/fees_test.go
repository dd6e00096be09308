package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/radar/internal/domain"
)

func TestSellingFeeCapped(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  string
	}{
		{"below cap", "500.00", "54.05"},  // 500 * 0.1075 + 0.30
		{"above cap", "1000.00", "75.30"}, // capped at 75, plus fixed
		{"zero price", "0.00", "0.30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := SellingFee(decimal.RequireFromString(tt.price), domain.FeeScheduleCapped)
			require.NoError(t, err)
			assert.True(t, fee.Equal(decimal.RequireFromString(tt.want)), "got %s", fee)
		})
	}
}

func TestSellingFeeUncapped(t *testing.T) {
	fee, err := SellingFee(decimal.RequireFromString("1000.00"), domain.FeeScheduleUncapped)
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("132.50")), "got %s", fee)
}

func TestSellingFeeProfessional(t *testing.T) {
	fee, err := SellingFee(decimal.RequireFromString("500.00"), domain.FeeScheduleProfessional)
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("25.00")), "got %s", fee)
}

func TestSellingFeeRejectsNegativePrice(t *testing.T) {
	_, err := SellingFee(decimal.RequireFromString("-1"), domain.FeeScheduleCapped)
	assert.Error(t, err)
}

func TestCustomsDutyDeMinimis(t *testing.T) {
	forex := testForex()

	duty, err := CustomsDuty(decimal.RequireFromString("799.99"), domain.RegimeDeMinimis, forex)
	require.NoError(t, err)
	assert.True(t, duty.IsZero(), "got %s", duty)

	duty, err = CustomsDuty(decimal.RequireFromString("800.00"), domain.RegimeDeMinimis, forex)
	require.NoError(t, err)
	assert.True(t, duty.Equal(decimal.RequireFromString("20.00")), "got %s", duty)
}

func TestCustomsDutyFlatDuty(t *testing.T) {
	// 21% VAT on 100 plus EUR 3.00 at the buffered rate (3.18).
	duty, err := CustomsDuty(decimal.RequireFromString("100.00"), domain.RegimeFlatDuty, testForex())
	require.NoError(t, err)
	assert.True(t, duty.Equal(decimal.RequireFromString("24.18")), "got %s", duty)
}

func TestCustomsDutyUnknownRegime(t *testing.T) {
	_, err := CustomsDuty(decimal.RequireFromString("100.00"), domain.CustomsRegime("tariff_v9"), testForex())
	assert.Error(t, err)
}

func TestFeeStageWithForwarderAndInsurance(t *testing.T) {
	ctx := testContext()
	ctx.Profile.UseForwarder = true
	ctx.Profile.ForwarderReceiving = decimal.RequireFromString("3.50")
	ctx.Profile.ForwarderConsolid = decimal.RequireFromString("7.50")
	ctx.Profile.InsuranceEnabled = true
	ctx.Profile.InsuranceRate = decimal.RequireFromString("0.025")
	ctx.Condition = ConditionMapping{Multiplier: decimal.NewFromInt(1)}
	ctx.Acquisition = AcquisitionCost{TotalUSD: decimal.RequireFromString("34.92")}

	result := FeeStage{}.Evaluate(ctx)
	require.True(t, result.Accepted)

	assert.True(t, ctx.Fees.ForwarderFee.Equal(decimal.RequireFromString("11.00")), "forwarder %s", ctx.Fees.ForwarderFee)
	assert.True(t, ctx.Fees.InsuranceFee.Equal(decimal.RequireFromString("0.87")), "insurance %s", ctx.Fees.InsuranceFee)
}

func TestFeeStageAmortizesForwarderAcrossBundle(t *testing.T) {
	ctx := testContext()
	ctx.Profile.UseForwarder = true
	ctx.Profile.ForwarderReceiving = decimal.RequireFromString("3.50")
	ctx.Profile.ForwarderConsolid = decimal.RequireFromString("7.50")
	ctx.Candidate.SellerDensity = 5
	ctx.Condition = ConditionMapping{Multiplier: decimal.NewFromInt(1)}
	ctx.Acquisition = AcquisitionCost{TotalUSD: decimal.RequireFromString("20.00")}

	result := FeeStage{}.Evaluate(ctx)
	require.True(t, result.Accepted)

	assert.True(t, ctx.Fees.ForwarderFee.Equal(decimal.RequireFromString("2.20")), "forwarder %s", ctx.Fees.ForwarderFee)
	assert.True(t, ctx.Fees.InsuranceFee.IsZero())
}

func TestFeeStageSkipsInsuranceUnderFloor(t *testing.T) {
	ctx := testContext()
	ctx.Profile.UseForwarder = true
	ctx.Profile.ForwarderReceiving = decimal.RequireFromString("3.50")
	ctx.Profile.ForwarderConsolid = decimal.RequireFromString("7.50")
	ctx.Profile.InsuranceEnabled = true
	ctx.Profile.InsuranceRate = decimal.RequireFromString("0.025")
	ctx.Condition = ConditionMapping{Multiplier: decimal.NewFromInt(1)}
	ctx.Acquisition = AcquisitionCost{TotalUSD: decimal.RequireFromString("29.99")}

	result := FeeStage{}.Evaluate(ctx)
	require.True(t, result.Accepted)
	assert.True(t, ctx.Fees.InsuranceFee.IsZero())
}
