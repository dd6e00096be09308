// Package scheduler runs the background loops: the cascade scheduler
// that walks signals through their lifecycle, and the cron-driven scan
// and maintenance jobs.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/modules/exclusivity"
	"github.com/aristath/radar/internal/modules/signals"
	"github.com/aristath/radar/internal/notify"
)

const (
	// TickInterval is how often the scheduler scans for expired signals.
	TickInterval = 5 * time.Second

	// CascadeCooldown is the minimum pause after any lifecycle transition
	// before the same signal may transition again.
	CascadeCooldown = 10 * time.Second

	// MaxCascades caps how many times a signal may change hands. Past the
	// cap the signal is retired regardless of remaining recipients.
	MaxCascades = 5
)

// CascadeScheduler moves expired signals to the next recipient in
// rotation order. All deadlines are absolute timestamps in the store, so
// a restart resumes exactly where the previous process left off.
type CascadeScheduler struct {
	store    *signals.Store
	rotator  *exclusivity.Rotator
	notifier notify.Notifier
	now      func() time.Time
	onRetire func(*signals.Signal)

	stop    chan struct{}
	stopped bool
	started bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewCascadeScheduler creates the scheduler.
func NewCascadeScheduler(
	store *signals.Store,
	rotator *exclusivity.Rotator,
	notifier notify.Notifier,
	log zerolog.Logger,
) *CascadeScheduler {
	return &CascadeScheduler{
		store:    store,
		rotator:  rotator,
		notifier: notifier,
		now:      time.Now,
		stop:     make(chan struct{}),
		log:      log.With().Str("module", "cascade_scheduler").Logger(),
	}
}

// SetClock overrides the time source, used in tests.
func (s *CascadeScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// OnRetire registers a callback invoked after a signal is retired, for
// example to repost it on a lower-priority broadcast channel. Set before
// Start; the callback runs on the tick goroutine.
func (s *CascadeScheduler) OnRetire(fn func(*signals.Signal)) {
	s.onRetire = fn
}

// Start launches the tick loop.
func (s *CascadeScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && !s.stopped {
		s.log.Warn().Msg("Cascade scheduler already started, ignoring")
		return
	}
	if s.stopped {
		s.stop = make(chan struct{})
		s.stopped = false
	}
	s.started = true
	s.log.Info().Dur("interval", TickInterval).Msg("Cascade scheduler started")

	ticker := time.NewTicker(TickInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// Stop shuts the loop down and waits for the in-flight tick.
func (s *CascadeScheduler) Stop() {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("Cascade scheduler stopped")
}

// Tick processes every actionable signal once. Exposed so tests can
// drive the scheduler without the ticker.
func (s *CascadeScheduler) Tick() {
	now := s.now()

	active, err := s.store.Active()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load active signals")
		return
	}

	for i := range active {
		sig := &active[i]
		if !Actionable(sig, now) {
			continue
		}
		s.transition(sig, now)
	}
}

// Actionable reports whether the signal may cascade: the cooldown after
// its expiry must have fully elapsed, and the cooldown since its last
// state transition too, which covers late re-deliveries that happen
// after the window lapsed. Both checks compare against stored absolute
// timestamps. The post-expiry cooldown absorbs notification-delivery
// latency and must not be shortened.
func Actionable(sig *signals.Signal, now time.Time) bool {
	if now.Sub(sig.ExpiresAt) < CascadeCooldown {
		return false
	}
	return now.Sub(sig.UpdatedAt) >= CascadeCooldown
}

func (s *CascadeScheduler) transition(sig *signals.Signal, now time.Time) {
	if sig.CascadeCount >= MaxCascades {
		s.close(sig, domain.StatusRetired, now)
		return
	}

	next, found, err := s.rotator.NextFor(sig)
	if err != nil {
		s.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to pick next recipient")
		return
	}
	if !found {
		// Roster exhausted before the cap
		s.close(sig, domain.StatusExpired, now)
		return
	}

	moved, err := s.store.Cascade(sig, next.ID, now.Add(exclusivity.ExclusivityWindow), now)
	if err != nil {
		s.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Cascade update failed")
		return
	}
	if !moved {
		// Lost the compare-and-swap: the signal was acked or already
		// moved. Nothing to do, the next tick sees the fresh state.
		s.log.Debug().Str("signal_id", sig.ID).Msg("Cascade skipped, signal changed concurrently")
		return
	}

	s.log.Info().
		Str("signal_id", sig.ID).
		Str("from", sig.RecipientID).
		Str("to", next.ID).
		Int("cascade_count", sig.CascadeCount+1).
		Msg("Signal cascaded")

	fresh, err := s.store.GetForRecipient(sig.ID, next.ID)
	if err != nil {
		s.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to reload cascaded signal")
		return
	}
	s.deliver(fresh, next, now)
}

func (s *CascadeScheduler) deliver(sig *signals.Signal, profile domain.RecipientProfile, now time.Time) {
	if err := s.notifier.Notify(notify.BuildPayload(sig, profile)); err != nil {
		// Delivery failure leaves the signal PENDING; it stays visible
		// through the API and expires normally.
		s.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Notification failed")
		return
	}
	if err := s.store.MarkDelivered(sig.ID, now); err != nil {
		s.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to mark signal delivered")
	}
}

func (s *CascadeScheduler) close(sig *signals.Signal, status domain.SignalStatus, now time.Time) {
	closed, err := s.store.Close(sig, status, now)
	if err != nil {
		s.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to close signal")
		return
	}
	if !closed {
		return
	}
	s.log.Info().
		Str("signal_id", sig.ID).
		Str("status", string(status)).
		Int("cascade_count", sig.CascadeCount).
		Msg("Signal closed")

	if status == domain.StatusRetired && s.onRetire != nil {
		s.onRetire(sig)
	}
}
