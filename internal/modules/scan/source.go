// Package scan assembles evaluation candidates from the marketplace
// clients: buy-side listings, sell-side quotes, catalog metadata, and
// the seller density across the watchlist.
package scan

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/radar/internal/domain"
)

// ListingSource provides buy-side listings and catalog metadata.
type ListingSource interface {
	GetListings(cardID string) ([]domain.Quote, error)
	GetMetadata(cardID string) (*domain.CardMetadata, error)
}

// QuoteSource provides sell-side market quotes and price history.
type QuoteSource interface {
	GetMarketQuote(cardID string) (*domain.Quote, error)
	GetPriceHistory(cardID string) ([]domain.PricePoint, error)
}

// Source builds candidates for a scan pass.
type Source struct {
	buySide  ListingSource
	sellSide QuoteSource
	log      zerolog.Logger
}

// NewSource creates a candidate source over the two marketplaces.
func NewSource(buySide ListingSource, sellSide QuoteSource, log zerolog.Logger) *Source {
	return &Source{
		buySide:  buySide,
		sellSide: sellSide,
		log:      log.With().Str("module", "scan").Logger(),
	}
}

// Candidates builds one candidate per watched card: the cheapest
// admissible listing paired with the market quote. SellerDensity counts
// how many watched cards that same seller offers, which is what makes
// bundled shipping worth considering.
//
// A card whose data cannot be fetched is skipped with a warning; one
// flaky card must not sink the whole scan.
func (s *Source) Candidates(watchlist []string) []domain.Candidate {
	// First pass: listings per card, and per-seller card coverage.
	listingsByCard := make(map[string][]domain.Quote, len(watchlist))
	cardsBySeller := make(map[string]map[string]bool)

	for _, cardID := range watchlist {
		listings, err := s.buySide.GetListings(cardID)
		if err != nil {
			s.log.Warn().Err(err).Str("card_id", cardID).Msg("Skipping card, listings unavailable")
			continue
		}
		if len(listings) == 0 {
			continue
		}
		listingsByCard[cardID] = listings
		for _, l := range listings {
			if l.SellerID == "" {
				continue
			}
			if cardsBySeller[l.SellerID] == nil {
				cardsBySeller[l.SellerID] = make(map[string]bool)
			}
			cardsBySeller[l.SellerID][cardID] = true
		}
	}

	// Second pass: pair the cheapest listing with the sell-side quote.
	var candidates []domain.Candidate
	for _, cardID := range watchlist {
		listings, ok := listingsByCard[cardID]
		if !ok {
			continue
		}

		buy := cheapest(listings)

		sell, err := s.sellSide.GetMarketQuote(cardID)
		if err != nil {
			s.log.Warn().Err(err).Str("card_id", cardID).Msg("Skipping card, market quote unavailable")
			continue
		}

		candidate := domain.Candidate{
			Buy:           buy,
			Sell:          *sell,
			SellerDensity: sellerDensity(cardsBySeller, buy.SellerID),
		}

		if meta, err := s.buySide.GetMetadata(cardID); err != nil {
			s.log.Warn().Err(err).Str("card_id", cardID).Msg("Metadata unavailable")
		} else {
			candidate.Metadata = meta
		}

		if history, err := s.sellSide.GetPriceHistory(cardID); err != nil {
			s.log.Debug().Err(err).Str("card_id", cardID).Msg("Price history unavailable")
		} else {
			candidate.PriceHistory = history
		}

		candidates = append(candidates, candidate)
	}

	s.log.Info().
		Int("watchlist", len(watchlist)).
		Int("candidates", len(candidates)).
		Msg("Candidates assembled")
	return candidates
}

func cheapest(listings []domain.Quote) domain.Quote {
	sorted := make([]domain.Quote, len(listings))
	copy(sorted, listings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price.LessThan(sorted[j].Price)
	})
	return sorted[0]
}

func sellerDensity(cardsBySeller map[string]map[string]bool, sellerID string) int {
	if sellerID == "" {
		return 1
	}
	n := len(cardsBySeller[sellerID])
	if n < 1 {
		return 1
	}
	return n
}

// Validate checks that a watchlist is usable.
func Validate(watchlist []string) error {
	if len(watchlist) == 0 {
		return fmt.Errorf("watchlist is empty")
	}
	seen := make(map[string]bool, len(watchlist))
	for _, id := range watchlist {
		if id == "" {
			return fmt.Errorf("watchlist contains an empty card id")
		}
		if seen[id] {
			return fmt.Errorf("watchlist contains duplicate card id %s", id)
		}
		seen[id] = true
	}
	return nil
}
