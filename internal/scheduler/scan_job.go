package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/engine"
	"github.com/aristath/radar/internal/modules/exclusivity"
	"github.com/aristath/radar/internal/modules/signals"
	"github.com/aristath/radar/internal/notify"
)

// CandidateSource produces the candidates for one scan pass.
type CandidateSource interface {
	Candidates(watchlist []string) []domain.Candidate
}

// ForexSource provides the EUR/USD rate for one scan pass. The rate is
// fetched once per pass and handed to the pipeline as a value; no stage
// ever fetches rates itself.
type ForexSource interface {
	GetForexRate(fromCurrency, toCurrency string) (domain.ForexRate, error)
}

// ScanJob runs one full valuation pass: assemble candidates, evaluate
// them against recipients in rotation order, persist signals and audit
// rows, deliver notifications.
type ScanJob struct {
	pipeline *engine.Pipeline
	source   CandidateSource
	forex    ForexSource
	rotator  *exclusivity.Rotator
	store    *signals.Store
	notifier notify.Notifier

	watchlist []string
	// regimes maps recipient ID to the customs regime of their
	// destination country, resolved once at configuration load.
	regimes map[string]domain.CustomsRegime
	workers int
	now     func() time.Time
	log     zerolog.Logger
}

// NewScanJob creates the scan job.
func NewScanJob(
	pipeline *engine.Pipeline,
	source CandidateSource,
	forex ForexSource,
	rotator *exclusivity.Rotator,
	store *signals.Store,
	notifier notify.Notifier,
	watchlist []string,
	regimes map[string]domain.CustomsRegime,
	workers int,
	log zerolog.Logger,
) *ScanJob {
	return &ScanJob{
		pipeline:  pipeline,
		source:    source,
		forex:     forex,
		rotator:   rotator,
		store:     store,
		notifier:  notifier,
		watchlist: watchlist,
		regimes:   regimes,
		workers:   workers,
		now:       time.Now,
		log:       log.With().Str("job", "scan").Logger(),
	}
}

// SetClock overrides the time source, used in tests.
func (j *ScanJob) SetClock(now func() time.Time) {
	j.now = now
}

// Name returns the job name for scheduling and logging.
func (j *ScanJob) Name() string {
	return "scan"
}

// Run executes one scan pass. Recipients are tried in rotation order:
// the first recipient whose profile accepts a candidate gets the signal
// exclusively, and later recipients never see it. Rejection audits are
// written for the first profile only; re-auditing the same candidate
// against every remaining recipient adds rows without adding information.
func (j *ScanJob) Run() error {
	now := j.now()

	forex, err := j.forex.GetForexRate("EUR", "USD")
	if err != nil {
		j.log.Error().Err(err).Msg("Scan aborted, forex rate unavailable")
		return err
	}

	candidates := j.source.Candidates(j.watchlist)
	candidates = j.filterActive(candidates)
	if len(candidates) == 0 {
		j.log.Info().Msg("Nothing to evaluate")
		return nil
	}

	ordered, err := j.rotator.Order(nil)
	if err != nil {
		j.log.Error().Err(err).Msg("Scan aborted, rotation order unavailable")
		return err
	}

	remaining := candidates
	for i, profile := range ordered {
		if len(remaining) == 0 {
			break
		}

		regime, ok := j.regimes[profile.ID]
		if !ok {
			j.log.Warn().Str("recipient_id", profile.ID).Msg("No customs regime configured, skipping recipient")
			continue
		}

		// Category preference is a routing concern, not a valuation
		// outcome: skipped candidates stay available to later
		// recipients and leave no audit row.
		batch := make([]domain.Candidate, 0, len(remaining))
		var next []domain.Candidate
		for _, c := range remaining {
			if profile.AcceptsCategory(candidateCategory(c)) {
				batch = append(batch, c)
			} else {
				next = append(next, c)
			}
		}
		if len(batch) == 0 {
			remaining = next
			continue
		}

		auditRejections := i == 0

		stats, err := j.pipeline.EvaluateBatch(context.Background(), batch, engine.BatchInput{
			Profile: profile,
			Regime:  regime,
			Forex:   forex,
			Now:     now,
			Workers: j.workers,
		}, func(ev *engine.Evaluation) error {
			if ev.Accepted {
				return j.assign(ev, profile, now)
			}
			next = append(next, ev.Ctx.Candidate)
			if auditRejections {
				return j.store.Persist(nil, auditFromEvaluation(ev, now))
			}
			return nil
		})
		if err != nil {
			j.log.Error().Err(err).Str("recipient_id", profile.ID).Msg("Scan pass failed")
			return err
		}

		j.log.Info().
			Str("recipient_id", profile.ID).
			Int("evaluated", stats.Evaluated).
			Int("accepted", stats.Accepted).
			Int("rejected", stats.Rejected).
			Bool("flagged", stats.Flagged).
			Dur("elapsed", stats.Elapsed).
			Msg("Scan pass complete")

		remaining = next
	}

	return nil
}

func candidateCategory(c domain.Candidate) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.Category
}

// filterActive drops candidates whose card already has an open signal,
// which keeps repeated scans over unchanged data idempotent.
func (j *ScanJob) filterActive(candidates []domain.Candidate) []domain.Candidate {
	var out []domain.Candidate
	for _, c := range candidates {
		variantID := ""
		if c.Metadata != nil {
			variantID = c.Metadata.VariantID
		}
		active, err := j.store.HasActiveForCard(c.Buy.CardID, variantID)
		if err != nil {
			j.log.Warn().Err(err).Str("card_id", c.Buy.CardID).Msg("Active-signal check failed, keeping candidate")
			out = append(out, c)
			continue
		}
		if !active {
			out = append(out, c)
		}
	}
	return out
}

func (j *ScanJob) assign(ev *engine.Evaluation, profile domain.RecipientProfile, now time.Time) error {
	sig := signalFromEvaluation(ev, profile, now)
	if err := j.store.Persist(sig, auditFromEvaluation(ev, now)); err != nil {
		return err
	}

	if err := j.notifier.Notify(notify.BuildPayload(sig, profile)); err != nil {
		j.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Notification failed")
		return nil
	}
	if err := j.store.MarkDelivered(sig.ID, now); err != nil {
		j.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to mark signal delivered")
	}
	return nil
}

func signalFromEvaluation(ev *engine.Evaluation, profile domain.RecipientProfile, now time.Time) *signals.Signal {
	ctx := ev.Ctx

	variantID := ""
	buyURL := ""
	sellURL := ""
	if ctx.Candidate.Metadata != nil {
		variantID = ctx.Candidate.Metadata.VariantID
		buyURL = ctx.Candidate.Metadata.BuyURL
		sellURL = ctx.Candidate.Metadata.SellURL
	}

	return &signals.Signal{
		ID:          uuid.NewString(),
		CardID:      ctx.Candidate.Buy.CardID,
		VariantID:   variantID,
		RecipientID: profile.ID,
		Status:      domain.StatusPending,

		BuyPrice:       ctx.Candidate.Buy.Price,
		BuyCurrency:    ctx.Candidate.Buy.Currency,
		AcquisitionUSD: ctx.Acquisition.TotalUSD,
		AdjustedTarget: ctx.Profit.AdjustedTarget,
		NetProfit:      ctx.Profit.NetProfit,
		MarginPct:      ctx.Profit.MarginPct,
		VelocityScore:  ctx.Velocity.Score,
		HeadacheScore:  ctx.Headache.Score,
		Trend:          string(ctx.Trend),
		BundleTier:     string(ctx.Bundle.Tier),
		SellerDensity:  ctx.Candidate.SellerDensity,
		RiskFlags:      ctx.FlagStrings(),
		BuyURL:         buyURL,
		SellURL:        sellURL,

		CascadeCount:     0,
		ServedRecipients: []string{},
		ExpiresAt:        now.Add(exclusivity.ExclusivityWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func auditFromEvaluation(ev *engine.Evaluation, now time.Time) signals.AuditRecord {
	return signals.AuditRecord{
		CardID:          ev.Ctx.Candidate.Buy.CardID,
		RecipientID:     ev.Ctx.Profile.ID,
		Accepted:        ev.Accepted,
		RejectionReason: string(ev.Reason),
		RejectionStage:  rejectionStage(ev),
		Snapshot:        ev.Snapshot(),
		CreatedAt:       now,
	}
}

func rejectionStage(ev *engine.Evaluation) string {
	if ev.Accepted {
		return ""
	}
	return ev.Stage
}
