package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Very stable data (rarely changes)
	TTLCardMetadata = 30 * 24 * time.Hour // 30 days - set, rarity, regulation mark

	// Daily data
	TTLPriceHistory = 24 * time.Hour // 1 day - historical sale prices for trend slopes

	// Short-lived data (changes frequently)
	TTLExchangeRate = time.Hour        // 1 hour - EUR/USD spot rate
	TTLListings     = 10 * time.Minute // 10 minutes - live marketplace listings
	TTLQuotes       = 10 * time.Minute // 10 minutes - sell-side market quotes
)
