package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ForexRate is an explicit exchange-rate value owned by the caller. The
// pipeline takes a rate value, never a rate-fetching function, so there is
// no hidden module-level cache and no network call inside a stage.
type ForexRate struct {
	Pair      string // e.g. "EURUSD"
	Rate      decimal.Decimal
	FetchedAt time.Time
}

// Stale reports whether the rate is older than ttl at the given instant.
func (r ForexRate) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(r.FetchedAt) >= ttl
}
