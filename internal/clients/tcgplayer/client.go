// Package tcgplayer fetches sell-side market quotes and price history
// from the US marketplace API.
package tcgplayer

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

// Client for the TCGplayer API.
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a TCGplayer client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.tcgplayer.com/v1.39.0"
	}
	return &Client{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log.With().Str("client", "tcgplayer").Logger(),
		cacheRepo: cacheRepo,
	}
}

// marketQuoteDTO is the wire format for the aggregate market quote.
type marketQuoteDTO struct {
	CardID         string  `json:"card_id"`
	MarketPrice    float64 `json:"market_price"`
	Condition      string  `json:"condition"`
	Sales30d       int     `json:"sales_30d"`
	ActiveListings int     `json:"active_listings"`
	ProductURL     string  `json:"product_url"`
}

// GetMarketQuote returns the sell-side market quote for a card,
// cache-first with stale fallback.
func (c *Client) GetMarketQuote(cardID string) (*domain.Quote, error) {
	var dto marketQuoteDTO

	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("tcgplayer_quotes", cardID)
		if err == nil && data != nil {
			if err := json.Unmarshal(data, &dto); err == nil {
				c.log.Debug().Str("card_id", cardID).Msg("Cache hit")
				return c.toQuote(cardID, dto), nil
			}
		}
	}

	reqURL := fmt.Sprintf("%s/pricing/product/%s", c.baseURL, url.PathEscape(cardID))
	resp, err := c.client.Get(reqURL)
	if err != nil {
		return c.staleFallback(cardID, fmt.Errorf("API request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.staleFallback(cardID, fmt.Errorf("API returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return c.staleFallback(cardID, fmt.Errorf("failed to parse response: %w", err))
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("tcgplayer_quotes", cardID, dto, clientdata.TTLQuotes); err != nil {
			c.log.Warn().Err(err).Str("card_id", cardID).Msg("Failed to cache quote")
		}
	}

	return c.toQuote(cardID, dto), nil
}

func (c *Client) staleFallback(cardID string, cause error) (*domain.Quote, error) {
	if c.cacheRepo == nil {
		return nil, cause
	}
	data, err := c.cacheRepo.Get("tcgplayer_quotes", cardID)
	if err != nil || data == nil {
		return nil, cause
	}

	var dto marketQuoteDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, cause
	}

	c.log.Warn().Err(cause).Str("card_id", cardID).Msg("API failed, using stale cached quote")
	return c.toQuote(cardID, dto), nil
}

func (c *Client) toQuote(cardID string, dto marketQuoteDTO) *domain.Quote {
	condition := dto.Condition
	if condition == "" {
		condition = string(domain.TargetNearMint)
	}
	return &domain.Quote{
		CardID:         cardID,
		Source:         "tcgplayer",
		Price:          decimal.NewFromFloat(dto.MarketPrice),
		Currency:       "USD",
		Condition:      domain.Grade(condition),
		Sales30d:       dto.Sales30d,
		ActiveListings: dto.ActiveListings,
		ObservedAt:     time.Now(),
	}
}

// pricePointDTO is one day in the price history series.
type pricePointDTO struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

type priceHistoryResponse struct {
	CardID string          `json:"card_id"`
	Points []pricePointDTO `json:"points"`
}

// GetPriceHistory returns the daily price series used for trend slopes,
// oldest first.
func (c *Client) GetPriceHistory(cardID string) ([]domain.PricePoint, error) {
	var parsed priceHistoryResponse

	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("price_history", cardID)
		if err == nil && data != nil {
			if err := json.Unmarshal(data, &parsed); err == nil {
				return c.toPoints(parsed.Points)
			}
		}
	}

	reqURL := fmt.Sprintf("%s/pricing/product/%s/history", c.baseURL, url.PathEscape(cardID))
	resp, err := c.client.Get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("price_history", cardID, parsed, clientdata.TTLPriceHistory); err != nil {
			c.log.Warn().Err(err).Str("card_id", cardID).Msg("Failed to cache price history")
		}
	}

	return c.toPoints(parsed.Points)
}

func (c *Client) toPoints(dtos []pricePointDTO) ([]domain.PricePoint, error) {
	points := make([]domain.PricePoint, 0, len(dtos))
	for _, p := range dtos {
		t, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price history date %q: %w", p.Date, err)
		}
		points = append(points, domain.PricePoint{
			ObservedAt: t,
			Price:      decimal.NewFromFloat(p.Price),
		})
	}
	return points, nil
}
