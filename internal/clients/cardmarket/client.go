// Package cardmarket fetches buy-side listings and card metadata from
// the European marketplace API.
package cardmarket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/clientdata"
	"github.com/aristath/radar/internal/domain"
)

// Client for the Cardmarket API.
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a Cardmarket client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.cardmarket.com/ws/v2.0"
	}
	return &Client{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log.With().Str("client", "cardmarket").Logger(),
		cacheRepo: cacheRepo,
	}
}

// listingDTO is the wire format for one marketplace listing.
type listingDTO struct {
	SellerID     string  `json:"seller_id"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	Condition    string  `json:"condition"`
	SellerRating float64 `json:"seller_rating"`
	SellerSales  int     `json:"seller_sales"`
	ShippingCost float64 `json:"shipping_cost"`
	ListingURL   string  `json:"listing_url"`
	ListedAt     string  `json:"listed_at"`
}

type listingsResponse struct {
	CardID   string       `json:"card_id"`
	Listings []listingDTO `json:"listings"`
}

// GetListings returns live buy-side quotes for a card, cache-first.
// ObservedAt is the fetch time for fresh data and the cache write time
// for cached data, so staleness scoring stays honest.
func (c *Client) GetListings(cardID string) ([]domain.Quote, error) {
	var parsed listingsResponse

	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("cardmarket_listings", cardID)
		if err == nil && data != nil {
			if err := json.Unmarshal(data, &parsed); err == nil {
				c.log.Debug().Str("card_id", cardID).Int("listings", len(parsed.Listings)).Msg("Cache hit")
				return c.toQuotes(cardID, parsed.Listings), nil
			}
		}
	}

	reqURL := fmt.Sprintf("%s/products/%s/articles", c.baseURL, url.PathEscape(cardID))
	resp, err := c.client.Get(reqURL)
	if err != nil {
		return c.staleFallback(cardID, fmt.Errorf("API request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.staleFallback(cardID, fmt.Errorf("API returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return c.staleFallback(cardID, fmt.Errorf("failed to parse response: %w", err))
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("cardmarket_listings", cardID, parsed, clientdata.TTLListings); err != nil {
			c.log.Warn().Err(err).Str("card_id", cardID).Msg("Failed to cache listings")
		}
	}

	c.log.Debug().Str("card_id", cardID).Int("listings", len(parsed.Listings)).Msg("Fetched listings")
	return c.toQuotes(cardID, parsed.Listings), nil
}

func (c *Client) staleFallback(cardID string, cause error) ([]domain.Quote, error) {
	if c.cacheRepo == nil {
		return nil, cause
	}
	data, err := c.cacheRepo.Get("cardmarket_listings", cardID)
	if err != nil || data == nil {
		return nil, cause
	}

	var parsed listingsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, cause
	}

	c.log.Warn().Err(cause).Str("card_id", cardID).Msg("API failed, using stale cached listings")
	return c.toQuotes(cardID, parsed.Listings), nil
}

func (c *Client) toQuotes(cardID string, listings []listingDTO) []domain.Quote {
	now := time.Now()
	quotes := make([]domain.Quote, 0, len(listings))
	for _, l := range listings {
		q := domain.Quote{
			CardID:       cardID,
			Source:       "cardmarket",
			SellerID:     l.SellerID,
			Price:        decimal.NewFromFloat(l.Price),
			Currency:     l.Currency,
			Condition:    domain.Grade(l.Condition),
			SellerRating: decimal.NewFromFloat(l.SellerRating),
			SellerSales:  l.SellerSales,
			ShippingCost: decimal.NewFromFloat(l.ShippingCost),
			ObservedAt:   now,
		}
		if l.Currency == "" {
			q.Currency = "EUR"
		}
		if t, err := time.Parse(time.RFC3339, l.ListedAt); err == nil {
			q.ListedAt = t
		}
		quotes = append(quotes, q)
	}
	return quotes
}

// GetMetadata returns the card's catalog entry: variant, regulation
// mark, legality, release date.
func (c *Client) GetMetadata(cardID string) (*domain.CardMetadata, error) {
	var meta domain.CardMetadata

	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("card_metadata", cardID)
		if err == nil && data != nil {
			if err := json.Unmarshal(data, &meta); err == nil {
				return &meta, nil
			}
		}
	}

	reqURL := fmt.Sprintf("%s/products/%s", c.baseURL, url.PathEscape(cardID))
	resp, err := c.client.Get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("card_metadata", cardID, meta, clientdata.TTLCardMetadata); err != nil {
			c.log.Warn().Err(err).Str("card_id", cardID).Msg("Failed to cache metadata")
		}
	}

	return &meta, nil
}
