package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/modules/signals"
)

func testSignal() *signals.Signal {
	return &signals.Signal{
		ID:             "sig-1",
		CardID:         "sv1-25",
		VariantID:      "sv1-25",
		RecipientID:    "rec-1",
		BuyPrice:       decimal.RequireFromString("28.99"),
		BuyCurrency:    "EUR",
		AcquisitionUSD: decimal.RequireFromString("34.92"),
		AdjustedTarget: decimal.RequireFromString("65.00"),
		NetProfit:      decimal.RequireFromString("22.79"),
		MarginPct:      decimal.RequireFromString("39.49"),
		VelocityScore:  decimal.RequireFromString("2.1"),
		HeadacheScore:  decimal.RequireFromString("22.79"),
		Trend:          "momentum",
		BundleTier:     "single_card",
		SellerDensity:  1,
		RiskFlags:      []string{"SPECULATIVE"},
		BuyURL:         "https://www.cardmarket.com/en/Pokemon/Products/Singles/test",
		SellURL:        "https://www.tcgplayer.com/product/12345",
		CascadeCount:   1,
		ExpiresAt:      time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
	}
}

func TestBuildPayload(t *testing.T) {
	profile := domain.RecipientProfile{ID: "rec-2"}
	payload := BuildPayload(testSignal(), profile)

	assert.Equal(t, "sig-1", payload.SignalID)
	assert.Equal(t, "rec-2", payload.RecipientID, "payload addresses the current holder, not the original")
	assert.Equal(t, "28.99", payload.BuyPrice)
	assert.Equal(t, "34.92", payload.AcquisitionUSD)
	assert.Equal(t, "22.79", payload.NetProfit)
	assert.Equal(t, []string{"SPECULATIVE"}, payload.RiskFlags)
	assert.Equal(t, "https://www.tcgplayer.com/product/12345", payload.SellURL)
	assert.Equal(t, 1, payload.CascadeCount)
}

func TestBuildPayloadFallsBackToSearchLinks(t *testing.T) {
	sig := testSignal()
	sig.BuyURL = ""
	sig.SellURL = ""

	payload := BuildPayload(sig, domain.RecipientProfile{ID: "rec-1"})
	assert.Contains(t, payload.BuyURL, "cardmarket.com")
	assert.Contains(t, payload.BuyURL, "sv1-25")
	assert.Contains(t, payload.SellURL, "tcgplayer.com")
}

func TestSearchURLsEscapeCardIDs(t *testing.T) {
	buyURL := CardmarketSearchURL("pikachu ex #25")
	assert.NotContains(t, buyURL, " ")
	assert.NotContains(t, buyURL, "#")

	sellURL := TCGPlayerSearchURL("pikachu ex #25")
	assert.NotContains(t, sellURL, " ")
	assert.NotContains(t, sellURL, "#")
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	assert.NoError(t, n.Notify(BuildPayload(testSignal(), domain.RecipientProfile{ID: "rec-1"})))
}
