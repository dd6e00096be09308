package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/metrics"
)

// DefaultScanWorkers bounds parallel candidate evaluation.
const DefaultScanWorkers = 8

// DefaultInternalErrorLimit: past this many internal errors the batch is
// flagged for operator attention instead of being retried blindly.
const DefaultInternalErrorLimit = 10

// Evaluation is the full outcome of running one candidate through the
// chain: the decision, the stage that decided it, and the accumulated
// context for the audit snapshot.
type Evaluation struct {
	Ctx      *Context
	Accepted bool
	Reason   RejectReason
	Detail   string
	Stage    string   // stage that produced the decision
	Trail    []string // stages completed before the decision
}

// Snapshot renders every intermediate value computed up to the decision
// point. Stages that never ran leave no trace: a variant-mismatched
// candidate's snapshot carries no fee or profit figures.
func (e *Evaluation) Snapshot() map[string]any {
	ctx := e.Ctx
	snap := map[string]any{
		"card_id":        ctx.Candidate.Buy.CardID,
		"recipient_id":   ctx.Profile.ID,
		"customs_regime": string(ctx.Regime),
		"forex_rate":     ctx.Forex.Rate.String(),
		"evaluated_at":   ctx.Now.UTC().Format(time.RFC3339),
		"quotes": map[string]any{
			"buy_price":      ctx.Candidate.Buy.Price.String(),
			"buy_currency":   ctx.Candidate.Buy.Currency,
			"buy_shipping":   ctx.Candidate.Buy.ShippingCost.String(),
			"buy_condition":  string(ctx.Candidate.Buy.Condition),
			"seller_rating":  ctx.Candidate.Buy.SellerRating.String(),
			"seller_sales":   ctx.Candidate.Buy.SellerSales,
			"sell_price":     ctx.Candidate.Sell.Price.String(),
			"sell_currency":  ctx.Candidate.Sell.Currency,
			"seller_density": ctx.Candidate.SellerDensity,
		},
	}

	for _, stage := range e.Trail {
		switch stage {
		case "condition":
			snap["condition"] = map[string]any{
				"source_grade": string(ctx.Condition.SourceGrade),
				"target_grade": string(ctx.Condition.TargetGrade),
				"multiplier":   ctx.Condition.Multiplier.String(),
			}
		case "effective_price":
			snap["acquisition"] = map[string]any{
				"total_usd":         ctx.Acquisition.TotalUSD.String(),
				"card_only_usd":     ctx.Acquisition.CardOnlyUSD.String(),
				"shipping_eur":      ctx.Acquisition.ShippingEUR.String(),
				"full_shipping_eur": ctx.Acquisition.FullShippingEUR.String(),
				"shipping_deferred": ctx.Acquisition.ShippingDeferred,
			}
		case "fees":
			snap["fees"] = map[string]any{
				"selling":   ctx.Fees.SellingFee.String(),
				"customs":   ctx.Fees.CustomsDuty.String(),
				"forwarder": ctx.Fees.ForwarderFee.String(),
				"insurance": ctx.Fees.InsuranceFee.String(),
				"total":     ctx.Fees.Total.String(),
			}
		case "profit":
			snap["profit"] = map[string]any{
				"adjusted_target": ctx.Profit.AdjustedTarget.String(),
				"revenue":         ctx.Profit.Revenue.String(),
				"total_costs":     ctx.Profit.TotalCosts.String(),
				"net":             ctx.Profit.NetProfit.String(),
				"margin_pct":      ctx.Profit.MarginPct.String(),
				"min_profit":      ctx.Profile.MinProfit.String(),
			}
		case "velocity":
			snap["velocity"] = map[string]any{
				"raw":        ctx.Velocity.Raw.String(),
				"confidence": ctx.Velocity.ConfidenceFactor.String(),
				"maturity":   ctx.Velocity.MaturityDecay.String(),
				"staleness":  ctx.Velocity.StalenessPenalty.String(),
				"score":      ctx.Velocity.Score.String(),
				"tier":       ctx.Velocity.Tier,
			}
		case "trend":
			snap["trend"] = map[string]any{
				"slope_daily":    ctx.PriceSlope.String(),
				"classification": string(ctx.Trend),
			}
		case "rotation":
			snap["rotation"] = map[string]any{
				"level":      string(ctx.Rotation.Level),
				"days_until": ctx.Rotation.DaysUntil,
			}
		case "headache":
			snap["headache"] = map[string]any{
				"score":        ctx.Headache.Score.String(),
				"tier":         ctx.Headache.Tier,
				"transactions": ctx.Headache.Transactions,
				"min_headache": ctx.Profile.MinHeadache.String(),
			}
		case "bundle":
			snap["bundle"] = map[string]any{
				"density": ctx.Bundle.Density,
				"tier":    string(ctx.Bundle.Tier),
			}
		}
	}

	if !e.Accepted {
		snap["rejection"] = map[string]any{
			"reason": string(e.Reason),
			"stage":  e.Stage,
			"detail": e.Detail,
		}
	}
	if len(ctx.Flags) > 0 {
		snap["risk_flags"] = ctx.FlagStrings()
	}
	return snap
}

// Pipeline runs candidates through the ordered stage chain.
type Pipeline struct {
	stages []Stage
	log    zerolog.Logger
}

// New builds the pipeline with the production stage order. Ordering is
// load-bearing: the variant gate must run before any arithmetic, and the
// bundle stage must run last because it may re-price the whole candidate.
func New(log zerolog.Logger) *Pipeline {
	return &Pipeline{
		stages: []Stage{
			VariantStage{},
			NewSellerQualityStage(),
			ConditionStage{},
			EffectivePriceStage{},
			FeeStage{},
			ProfitStage{},
			VelocityStage{},
			TrendStage{},
			NewRotationStage(),
			HeadacheStage{},
			BundleStage{},
		},
		log: log.With().Str("module", "engine").Logger(),
	}
}

// Stages exposes the configured chain, mostly for tests.
func (p *Pipeline) Stages() []Stage { return p.stages }

// Evaluate runs one candidate through the chain, stopping at the first
// rejection. A panic inside a stage is contained here and surfaces as an
// INTERNAL_ERROR evaluation, never as a crashed batch.
func (p *Pipeline) Evaluate(ctx *Context) (ev *Evaluation) {
	ev = &Evaluation{Ctx: ctx}

	defer func() {
		if r := recover(); r != nil {
			ev.Accepted = false
			ev.Reason = ReasonInternalError
			ev.Detail = fmt.Sprintf("panic: %v", r)
			p.log.Error().
				Str("card_id", ctx.Candidate.Buy.CardID).
				Str("stage", ev.Stage).
				Interface("panic", r).
				Msg("Stage panicked")
		}
	}()

	if err := ctx.Candidate.Buy.Validate(); err != nil {
		ev.Reason = ReasonInvalidQuote
		ev.Detail = "buy side: " + err.Error()
		return ev
	}
	if err := ctx.Candidate.Sell.Validate(); err != nil {
		ev.Reason = ReasonInvalidQuote
		ev.Detail = "sell side: " + err.Error()
		return ev
	}
	// Every conversion downstream assumes a EUR listing sold into USD;
	// a quote in any other currency would be silently re-converted.
	if ctx.Candidate.Buy.Currency != "EUR" {
		ev.Reason = ReasonInvalidQuote
		ev.Detail = fmt.Sprintf("buy side: expected EUR listing, got %s", ctx.Candidate.Buy.Currency)
		return ev
	}
	if ctx.Candidate.Sell.Currency != "USD" {
		ev.Reason = ReasonInvalidQuote
		ev.Detail = fmt.Sprintf("sell side: expected USD quote, got %s", ctx.Candidate.Sell.Currency)
		return ev
	}

	for _, stage := range p.stages {
		ev.Stage = stage.Name()
		result := stage.Evaluate(ctx)
		if !result.Accepted {
			ev.Reason = result.Reason
			ev.Detail = result.Detail
			p.log.Debug().
				Str("card_id", ctx.Candidate.Buy.CardID).
				Str("stage", stage.Name()).
				Str("reason", string(result.Reason)).
				Msg("Candidate rejected")
			return ev
		}
		ev.Trail = append(ev.Trail, stage.Name())
	}

	ev.Accepted = true
	return ev
}

// BatchStats summarizes one scan over a candidate batch.
type BatchStats struct {
	Evaluated      int
	Accepted       int
	Rejected       int
	InternalErrors int
	Flagged        bool // internal errors crossed the operator-attention limit
	Elapsed        time.Duration
}

// BatchInput is everything one scan needs beyond the candidates: the
// profile snapshot, the pre-resolved customs regime, and the forex rate
// value (owned by the caller; no stage fetches rates).
type BatchInput struct {
	Profile domain.RecipientProfile
	Regime  domain.CustomsRegime
	Forex   domain.ForexRate
	Now     time.Time
	Workers int
}

// EvaluateBatch evaluates candidates in parallel and hands every outcome,
// accepted or rejected, to sink. Candidates are independent; sink calls are
// serialized so the store sees single-writer semantics. A failing sink
// aborts the scan (storage trouble is not a per-candidate condition); a
// failing candidate never does.
func (p *Pipeline) EvaluateBatch(
	ctx context.Context,
	candidates []domain.Candidate,
	input BatchInput,
	sink func(*Evaluation) error,
) (BatchStats, error) {
	start := time.Now()
	workers := input.Workers
	if workers <= 0 {
		workers = DefaultScanWorkers
	}

	var (
		mu    sync.Mutex
		stats BatchStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			ev := p.Evaluate(&Context{
				Candidate: candidate,
				Profile:   input.Profile,
				Regime:    input.Regime,
				Forex:     input.Forex,
				Now:       input.Now,
			})

			mu.Lock()
			defer mu.Unlock()

			stats.Evaluated++
			if ev.Accepted {
				stats.Accepted++
				metrics.CandidateAccepted()
			} else {
				stats.Rejected++
				metrics.CandidateRejected(string(ev.Reason))
				if ev.Reason == ReasonInternalError {
					stats.InternalErrors++
				}
			}
			return sink(ev)
		})
	}

	err := g.Wait()
	stats.Elapsed = time.Since(start)
	metrics.ScanCompleted(stats.Elapsed)

	if stats.InternalErrors > DefaultInternalErrorLimit {
		stats.Flagged = true
		p.log.Error().
			Int("internal_errors", stats.InternalErrors).
			Int("evaluated", stats.Evaluated).
			Msg("Batch flagged: internal error count over limit")
	}

	return stats, err
}
