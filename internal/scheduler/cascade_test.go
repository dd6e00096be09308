package scheduler

import (
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/modules/exclusivity"
	"github.com/aristath/radar/internal/modules/signals"
	"github.com/aristath/radar/internal/notify"
)

type recordingNotifier struct {
	payloads []notify.Payload
	fail     bool
}

func (n *recordingNotifier) Notify(payload notify.Payload) error {
	if n.fail {
		return errors.New("webhook down")
	}
	n.payloads = append(n.payloads, payload)
	return nil
}

func newSchedulerTestStore(t *testing.T) *signals.Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../database/schemas/radar_schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return signals.NewStore(db, zerolog.Nop())
}

func schedulerProfile(id string, tier int) domain.RecipientProfile {
	return domain.RecipientProfile{ID: id, PriorityTier: tier}
}

func expiredSignal(id, recipientID string, now time.Time) *signals.Signal {
	created := now.Add(-4 * time.Hour)
	return &signals.Signal{
		ID:               id,
		CardID:           "sv1-25",
		VariantID:        "sv1-25",
		RecipientID:      recipientID,
		Status:           domain.StatusPending,
		BuyPrice:         decimal.RequireFromString("28.99"),
		BuyCurrency:      "EUR",
		AcquisitionUSD:   decimal.RequireFromString("34.92"),
		AdjustedTarget:   decimal.RequireFromString("65.00"),
		NetProfit:        decimal.RequireFromString("22.79"),
		MarginPct:        decimal.RequireFromString("39.49"),
		VelocityScore:    decimal.RequireFromString("2.1"),
		HeadacheScore:    decimal.RequireFromString("22.79"),
		Trend:            "momentum",
		BundleTier:       "single_card",
		SellerDensity:    1,
		RiskFlags:        []string{},
		ServedRecipients: []string{},
		ExpiresAt:        now.Add(-time.Minute),
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func auditFor(sig *signals.Signal) signals.AuditRecord {
	return signals.AuditRecord{
		CardID:      sig.CardID,
		RecipientID: sig.RecipientID,
		Accepted:    true,
		Snapshot:    map[string]any{"card_id": sig.CardID},
		CreatedAt:   sig.CreatedAt,
	}
}

func newTestScheduler(
	t *testing.T,
	store *signals.Store,
	profiles []domain.RecipientProfile,
	notifier notify.Notifier,
	now time.Time,
) *CascadeScheduler {
	t.Helper()

	rotator := exclusivity.NewRotator(profiles, store, zerolog.Nop())
	sched := NewCascadeScheduler(store, rotator, notifier, zerolog.Nop())
	sched.SetClock(func() time.Time { return now })
	return sched
}

func TestActionable(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Normal lifecycle: delivered long ago, window lapses at expiry. The
	// signal must stay untouchable until the full post-expiry cooldown
	// has run down.
	sig := &signals.Signal{
		ExpiresAt: expiry,
		UpdatedAt: expiry.Add(-180 * time.Minute),
	}

	assert.False(t, Actionable(sig, expiry.Add(-time.Second)), "window still open")
	assert.False(t, Actionable(sig, expiry), "expiry instant is inside the cooldown")
	assert.False(t, Actionable(sig, expiry.Add(CascadeCooldown-time.Millisecond)))
	assert.True(t, Actionable(sig, expiry.Add(CascadeCooldown)), "cooldown boundary is inclusive")
	assert.True(t, Actionable(sig, expiry.Add(CascadeCooldown+time.Millisecond)))

	// Re-delivered after the window already lapsed: the transition
	// cooldown holds it back even though expiry+cooldown has passed.
	sig.UpdatedAt = expiry.Add(CascadeCooldown)
	assert.False(t, Actionable(sig, expiry.Add(CascadeCooldown+time.Second)))
	assert.True(t, Actionable(sig, expiry.Add(2*CascadeCooldown)))
}

func TestTickCascadesExpiredSignal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}

	sig := expiredSignal("sig-1", "rec-1", now)
	require.NoError(t, store.Persist(sig, auditFor(sig)))

	sched := newTestScheduler(t, store,
		[]domain.RecipientProfile{schedulerProfile("rec-1", 2), schedulerProfile("rec-2", 2)},
		notifier, now)
	sched.Tick()

	got, err := store.GetForRecipient("sig-1", "rec-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Equal(t, 1, got.CascadeCount)
	assert.Equal(t, []string{"rec-1"}, got.ServedRecipients)
	assert.True(t, got.ExpiresAt.Equal(now.Add(exclusivity.ExclusivityWindow)))

	require.Len(t, notifier.payloads, 1)
	assert.Equal(t, "sig-1", notifier.payloads[0].SignalID)
	assert.Equal(t, "rec-2", notifier.payloads[0].RecipientID)
}

func TestTickHonorsCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}

	// Expired, but it transitioned only a moment ago.
	sig := expiredSignal("sig-1", "rec-1", now)
	sig.UpdatedAt = now.Add(-2 * time.Second)
	require.NoError(t, store.Persist(sig, auditFor(sig)))

	sched := newTestScheduler(t, store,
		[]domain.RecipientProfile{schedulerProfile("rec-1", 2), schedulerProfile("rec-2", 2)},
		notifier, now)
	sched.Tick()

	got, err := store.GetForRecipient("sig-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CascadeCount)
	assert.Empty(t, notifier.payloads)
}

func TestTickLeavesUnexpiredSignalsAlone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}

	sig := expiredSignal("sig-1", "rec-1", now)
	sig.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, store.Persist(sig, auditFor(sig)))

	sched := newTestScheduler(t, store,
		[]domain.RecipientProfile{schedulerProfile("rec-1", 2), schedulerProfile("rec-2", 2)},
		notifier, now)
	sched.Tick()

	got, err := store.GetForRecipient("sig-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, notifier.payloads)
}

func TestTickRetiresAtCascadeCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}

	sig := expiredSignal("sig-1", "rec-1", now)
	sig.CascadeCount = MaxCascades
	require.NoError(t, store.Persist(sig, auditFor(sig)))

	sched := newTestScheduler(t, store,
		[]domain.RecipientProfile{schedulerProfile("rec-1", 2), schedulerProfile("rec-2", 2)},
		notifier, now)

	var retired []string
	sched.OnRetire(func(s *signals.Signal) { retired = append(retired, s.ID) })
	sched.Tick()

	got, err := store.GetForRecipient("sig-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetired, got.Status)
	assert.Empty(t, notifier.payloads)
	assert.Equal(t, []string{"sig-1"}, retired)
}

func TestTickExpiresWhenRosterExhausted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{}

	sig := expiredSignal("sig-1", "rec-1", now)
	require.NoError(t, store.Persist(sig, auditFor(sig)))

	// rec-1 already holds it and nobody else is on the roster.
	sched := newTestScheduler(t, store,
		[]domain.RecipientProfile{schedulerProfile("rec-1", 2)},
		notifier, now)
	sched.Tick()

	got, err := store.GetForRecipient("sig-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Empty(t, notifier.payloads)
}

func TestTickNotifyFailureLeavesSignalPending(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSchedulerTestStore(t)
	notifier := &recordingNotifier{fail: true}

	sig := expiredSignal("sig-1", "rec-1", now)
	require.NoError(t, store.Persist(sig, auditFor(sig)))

	sched := newTestScheduler(t, store,
		[]domain.RecipientProfile{schedulerProfile("rec-1", 2), schedulerProfile("rec-2", 2)},
		notifier, now)
	sched.Tick()

	// The hand-off happened but delivery did not.
	got, err := store.GetForRecipient("sig-1", "rec-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.DeliveredAt)
}

func TestStartStopIdempotent(t *testing.T) {
	store := newSchedulerTestStore(t)
	sched := newTestScheduler(t, store, nil, &recordingNotifier{}, time.Now())

	sched.Start()
	sched.Start() // second start is a no-op
	sched.Stop()
	sched.Stop() // second stop is a no-op
}
