package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Headache tier boundaries: profit-per-transaction above 15 is easy money,
// 5 to 15 is a decent deal, at or under 5 is bulk labor.
var (
	HeadacheTier1Floor = decimal.RequireFromString("15.00")
	HeadacheTier2Floor = decimal.RequireFromString("5.00")
)

// HeadacheResult is the labor-to-profit verdict.
type HeadacheResult struct {
	Score        decimal.Decimal // net profit per transaction
	Tier         int
	Transactions int
}

// HeadacheScore divides net profit across the transactions needed to
// realize it and assigns a tier.
func HeadacheScore(netProfit decimal.Decimal, transactions int) (HeadacheResult, error) {
	if transactions <= 0 {
		return HeadacheResult{}, fmt.Errorf("transactions must be positive, got %d", transactions)
	}
	score := netProfit.DivRound(decimal.NewFromInt(int64(transactions)), 2)

	tier := 3
	switch {
	case score.GreaterThan(HeadacheTier1Floor):
		tier = 1
	case score.GreaterThan(HeadacheTier2Floor):
		tier = 2
	}
	return HeadacheResult{Score: score, Tier: tier, Transactions: transactions}, nil
}

// HeadacheStage scores labor-to-profit and applies the recipient's floor.
// Each card in the seller bundle is one transaction to list and reconcile.
type HeadacheStage struct{}

func (HeadacheStage) Name() string { return "headache" }

func (HeadacheStage) Evaluate(ctx *Context) Result {
	transactions := ctx.Candidate.SellerDensity
	if transactions < 1 {
		transactions = 1
	}

	result, err := HeadacheScore(ctx.Profit.NetProfit, transactions)
	if err != nil {
		return Reject(ReasonInternalError, err.Error())
	}
	ctx.Headache = result

	if result.Score.LessThan(ctx.Profile.MinHeadache) {
		return Reject(ReasonHeadacheFloorMiss,
			fmt.Sprintf("score %s below recipient floor %s", result.Score, ctx.Profile.MinHeadache))
	}
	return Accept()
}
