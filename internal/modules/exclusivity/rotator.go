// Package exclusivity decides which recipient gets a signal. Exactly one
// recipient holds a signal at a time; rotation keeps the allocation fair
// across recipients of the same priority tier.
package exclusivity

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/modules/signals"
)

// ExclusivityWindow is how long a recipient holds a signal exclusively
// before the cascade moves it on.
const ExclusivityWindow = 180 * time.Minute

// Rotator orders recipients for signal assignment. Ordering is priority
// tier first, then least-recently-served inside a tier, with the static
// priority score and the recipient ID as deterministic tie breaks.
type Rotator struct {
	profiles []domain.RecipientProfile
	store    *signals.Store
	log      zerolog.Logger
}

// NewRotator creates a rotator over the configured recipient roster.
func NewRotator(profiles []domain.RecipientProfile, store *signals.Store, log zerolog.Logger) *Rotator {
	return &Rotator{
		profiles: profiles,
		store:    store,
		log:      log.With().Str("module", "exclusivity").Logger(),
	}
}

// Profiles returns the configured roster.
func (r *Rotator) Profiles() []domain.RecipientProfile {
	return r.profiles
}

// ProfileByID looks up one recipient.
func (r *Rotator) ProfileByID(id string) (domain.RecipientProfile, bool) {
	for _, p := range r.profiles {
		if p.ID == id {
			return p, true
		}
	}
	return domain.RecipientProfile{}, false
}

// Order returns recipients in assignment order, skipping the excluded
// IDs. A recipient never served ranks ahead of everyone served in the
// same tier.
func (r *Rotator) Order(exclude []string) ([]domain.RecipientProfile, error) {
	ledger, err := r.store.RotationLedger()
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation ledger: %w", err)
	}
	return orderProfiles(r.profiles, ledger, exclude), nil
}

// NextFor picks the next holder for a cascading signal: assignment order
// minus everyone who already held it, filtered to recipients whose
// thresholds the stored numbers still satisfy.
func (r *Rotator) NextFor(sig *signals.Signal) (domain.RecipientProfile, bool, error) {
	ordered, err := r.Order(nil)
	if err != nil {
		return domain.RecipientProfile{}, false, err
	}

	for _, p := range ordered {
		if sig.WasServed(p.ID) {
			continue
		}
		if !MeetsThresholds(p, sig.NetProfit, sig.HeadacheScore) {
			continue
		}
		return p, true, nil
	}
	return domain.RecipientProfile{}, false, nil
}

// MeetsThresholds reports whether the signal's numbers clear the
// recipient's personal floors.
func MeetsThresholds(p domain.RecipientProfile, netProfit, headacheScore decimal.Decimal) bool {
	return netProfit.GreaterThanOrEqual(p.MinProfit) &&
		headacheScore.GreaterThanOrEqual(p.MinHeadache)
}

func orderProfiles(
	profiles []domain.RecipientProfile,
	ledger map[string]signals.RotationEntry,
	exclude []string,
) []domain.RecipientProfile {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var ordered []domain.RecipientProfile
	for _, p := range profiles {
		if !excluded[p.ID] {
			ordered = append(ordered, p)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.PriorityTier != b.PriorityTier {
			return a.PriorityTier > b.PriorityTier
		}

		aServed, aOK := lastServed(ledger, a.ID)
		bServed, bOK := lastServed(ledger, b.ID)
		if aOK != bOK {
			// Never-served ranks first
			return !aOK
		}
		if aOK && !aServed.Equal(bServed) {
			return aServed.Before(bServed)
		}

		if !a.PriorityScore.Equal(b.PriorityScore) {
			return a.PriorityScore.GreaterThan(b.PriorityScore)
		}
		return a.ID < b.ID
	})

	return ordered
}

func lastServed(ledger map[string]signals.RotationEntry, id string) (time.Time, bool) {
	entry, ok := ledger[id]
	if !ok || entry.LastServedAt == nil {
		return time.Time{}, false
	}
	return *entry.LastServedAt, true
}
