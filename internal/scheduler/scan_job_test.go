package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/engine"
	"github.com/aristath/radar/internal/modules/exclusivity"
	"github.com/aristath/radar/internal/modules/signals"
)

type staticSource struct {
	candidates []domain.Candidate
}

func (s *staticSource) Candidates([]string) []domain.Candidate {
	return s.candidates
}

type staticForex struct {
	rate domain.ForexRate
	err  error
}

func (s *staticForex) GetForexRate(from, to string) (domain.ForexRate, error) {
	return s.rate, s.err
}

func scanTestNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func scanTestForex() *staticForex {
	return &staticForex{rate: domain.ForexRate{
		Pair:      "EURUSD",
		Rate:      decimal.RequireFromString("1.08"),
		FetchedAt: scanTestNow().Add(-10 * time.Minute),
	}}
}

func scanTestProfile(id string, minProfit string) domain.RecipientProfile {
	return domain.RecipientProfile{
		ID:           id,
		Country:      "US",
		FeeSchedule:  domain.FeeScheduleCapped,
		MinProfit:    decimal.RequireFromString(minProfit),
		MinHeadache:  decimal.RequireFromString("5.00"),
		PriorityTier: 2,
	}
}

// scanTestCandidate clears every pipeline stage for a recipient with a
// $10 profit floor: EUR 28.99 NM buy against a USD 65.00 target.
func scanTestCandidate() domain.Candidate {
	now := scanTestNow()
	return domain.Candidate{
		Buy: domain.Quote{
			CardID:       "sv1-25",
			Source:       "cardmarket",
			SellerID:     "berlin_cards",
			Price:        decimal.RequireFromString("28.99"),
			Currency:     "EUR",
			Condition:    domain.GradeNearMint,
			SellerRating: decimal.RequireFromString("99.5"),
			SellerSales:  500,
			ShippingCost: decimal.RequireFromString("4.00"),
			ObservedAt:   now.Add(-10 * time.Minute),
		},
		Sell: domain.Quote{
			CardID:         "sv1-25",
			Source:         "tcgplayer",
			Price:          decimal.RequireFromString("65.00"),
			Currency:       "USD",
			Condition:      domain.GradeNearMint,
			Sales30d:       30,
			ActiveListings: 9,
			ObservedAt:     now.Add(-10 * time.Minute),
		},
		Metadata: &domain.CardMetadata{
			CardID:           "sv1-25",
			VariantID:        "sv1-25",
			RegulationMark:   "H",
			LegalityStandard: "Standard",
			ReleaseDate:      now.Add(-200 * 24 * time.Hour),
		},
		SellerDensity: 1,
		PriceHistory: []domain.PricePoint{
			{Price: decimal.RequireFromString("60.00"), ObservedAt: now.Add(-6 * 24 * time.Hour)},
			{Price: decimal.RequireFromString("63.00"), ObservedAt: now},
		},
	}
}

func newTestScanJob(
	t *testing.T,
	store *signals.Store,
	profiles []domain.RecipientProfile,
	source CandidateSource,
	forex ForexSource,
	notifier *recordingNotifier,
) *ScanJob {
	t.Helper()

	regimes := make(map[string]domain.CustomsRegime, len(profiles))
	for _, p := range profiles {
		regimes[p.ID] = domain.RegimeDeMinimis
	}

	rotator := exclusivity.NewRotator(profiles, store, zerolog.Nop())
	job := NewScanJob(engine.New(zerolog.Nop()), source, forex, rotator, store, notifier,
		[]string{"sv1-25"}, regimes, 2, zerolog.Nop())
	job.SetClock(scanTestNow)
	return job
}

func TestScanJobAssignsSignalExclusively(t *testing.T) {
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}
	profiles := []domain.RecipientProfile{
		scanTestProfile("rec-1", "10.00"),
		scanTestProfile("rec-2", "10.00"),
	}

	job := newTestScanJob(t, store, profiles,
		&staticSource{candidates: []domain.Candidate{scanTestCandidate()}},
		scanTestForex(), notifier)
	require.NoError(t, job.Run())

	// First in rotation order gets it; nobody else sees it.
	got, err := store.ListForRecipient("rec-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StatusDelivered, got[0].Status)
	assert.True(t, got[0].NetProfit.Equal(decimal.RequireFromString("22.79")), "net %s", got[0].NetProfit)
	assert.True(t, got[0].ExpiresAt.Equal(scanTestNow().Add(exclusivity.ExclusivityWindow)))

	other, err := store.ListForRecipient("rec-2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.Len(t, notifier.payloads, 1)
	assert.Equal(t, "rec-1", notifier.payloads[0].RecipientID)
}

func TestScanJobFallsThroughToNextRecipient(t *testing.T) {
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}
	profiles := []domain.RecipientProfile{
		scanTestProfile("rec-1", "100.00"), // floor above the candidate's net
		scanTestProfile("rec-2", "10.00"),
	}

	job := newTestScanJob(t, store, profiles,
		&staticSource{candidates: []domain.Candidate{scanTestCandidate()}},
		scanTestForex(), notifier)
	require.NoError(t, job.Run())

	got, err := store.ListForRecipient("rec-2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// The first profile's rejection left an audit row; the acceptance
	// left another for the winner.
	rejected, err := store.AuditForRecipient("rec-1", 10)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.False(t, rejected[0].Accepted)
	assert.Equal(t, "PROFIT_THRESHOLD_MISS", rejected[0].RejectionReason)

	accepted, err := store.AuditForRecipient("rec-2", 10)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.True(t, accepted[0].Accepted)
}

func TestScanJobRepeatedRunsAreIdempotent(t *testing.T) {
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}
	profiles := []domain.RecipientProfile{scanTestProfile("rec-1", "10.00")}
	source := &staticSource{candidates: []domain.Candidate{scanTestCandidate()}}

	job := newTestScanJob(t, store, profiles, source, scanTestForex(), notifier)
	require.NoError(t, job.Run())
	require.NoError(t, job.Run())

	got, err := store.ListForRecipient("rec-1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1, "unchanged data must not mint a second signal")
	assert.Len(t, notifier.payloads, 1)
}

func TestScanJobAuditsRejectionsOnceAcrossRoster(t *testing.T) {
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}
	profiles := []domain.RecipientProfile{
		scanTestProfile("rec-1", "500.00"),
		scanTestProfile("rec-2", "500.00"),
		scanTestProfile("rec-3", "500.00"),
	}

	job := newTestScanJob(t, store, profiles,
		&staticSource{candidates: []domain.Candidate{scanTestCandidate()}},
		scanTestForex(), notifier)
	require.NoError(t, job.Run())

	first, err := store.AuditForRecipient("rec-1", 10)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	for _, id := range []string{"rec-2", "rec-3"} {
		rest, err := store.AuditForRecipient(id, 10)
		require.NoError(t, err)
		assert.Empty(t, rest, "recipient %s", id)
	}
	assert.Empty(t, notifier.payloads)
}

func TestScanJobAbortsWithoutForexRate(t *testing.T) {
	store := newSchedulerTestStore(t)
	job := newTestScanJob(t, store,
		[]domain.RecipientProfile{scanTestProfile("rec-1", "10.00")},
		&staticSource{candidates: []domain.Candidate{scanTestCandidate()}},
		&staticForex{err: errors.New("provider down")},
		&recordingNotifier{})

	assert.Error(t, job.Run())
}

func TestScanJobSkipsRecipientWithoutRegime(t *testing.T) {
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}
	profiles := []domain.RecipientProfile{
		scanTestProfile("rec-1", "10.00"),
		scanTestProfile("rec-2", "10.00"),
	}

	rotator := exclusivity.NewRotator(profiles, store, zerolog.Nop())
	job := NewScanJob(engine.New(zerolog.Nop()),
		&staticSource{candidates: []domain.Candidate{scanTestCandidate()}},
		scanTestForex(), rotator, store, notifier,
		[]string{"sv1-25"},
		map[string]domain.CustomsRegime{"rec-2": domain.RegimeDeMinimis},
		2, zerolog.Nop())
	job.SetClock(scanTestNow)

	require.NoError(t, job.Run())

	// rec-1 has no regime configured, so the signal falls to rec-2.
	got, err := store.ListForRecipient("rec-2", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestScanJobCategoryPreferenceRouting(t *testing.T) {
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}

	candidate := scanTestCandidate()
	candidate.Metadata.Category = "pokemon"

	mtgOnly := scanTestProfile("rec-1", "10.00")
	mtgOnly.Categories = []string{"mtg"}
	anything := scanTestProfile("rec-2", "10.00")

	job := newTestScanJob(t, store,
		[]domain.RecipientProfile{mtgOnly, anything},
		&staticSource{candidates: []domain.Candidate{candidate}},
		scanTestForex(), notifier)
	require.NoError(t, job.Run())

	// The pokemon card skips rec-1 entirely and lands on rec-2.
	sigs, err := store.ListForRecipient("rec-2", 10)
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	sigs, err = store.ListForRecipient("rec-1", 10)
	require.NoError(t, err)
	assert.Empty(t, sigs)

	// A preference skip is not a valuation rejection: no audit for rec-1.
	audits, err := store.AuditForRecipient("rec-1", 10)
	require.NoError(t, err)
	assert.Empty(t, audits)
}
