// Package notify builds and delivers recipient-facing signal payloads.
package notify

import (
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/modules/signals"
)

// Payload is what a recipient actually sees: the financials, the risk
// flags, how long the exclusive hold lasts, and links to both markets.
type Payload struct {
	SignalID       string    `json:"signal_id"`
	CardID         string    `json:"card_id"`
	VariantID      string    `json:"variant_id,omitempty"`
	RecipientID    string    `json:"recipient_id"`
	BuyPrice       string    `json:"buy_price"`
	BuyCurrency    string    `json:"buy_currency"`
	AcquisitionUSD string    `json:"acquisition_usd"`
	TargetPrice    string    `json:"target_price"`
	NetProfit      string    `json:"net_profit"`
	MarginPct      string    `json:"margin_pct"`
	VelocityScore  string    `json:"velocity_score"`
	HeadacheScore  string    `json:"headache_score"`
	Trend          string    `json:"trend"`
	BundleTier     string    `json:"bundle_tier"`
	SellerDensity  int       `json:"seller_density"`
	RiskFlags      []string  `json:"risk_flags"`
	BuyURL         string    `json:"buy_url"`
	SellURL        string    `json:"sell_url"`
	CascadeCount   int       `json:"cascade_count"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// BuildPayload renders a signal for one recipient. Missing listing URLs
// fall back to marketplace search links so the payload is always
// actionable.
func BuildPayload(sig *signals.Signal, profile domain.RecipientProfile) Payload {
	buyURL := sig.BuyURL
	if buyURL == "" {
		buyURL = CardmarketSearchURL(sig.CardID)
	}
	sellURL := sig.SellURL
	if sellURL == "" {
		sellURL = TCGPlayerSearchURL(sig.CardID)
	}

	return Payload{
		SignalID:       sig.ID,
		CardID:         sig.CardID,
		VariantID:      sig.VariantID,
		RecipientID:    profile.ID,
		BuyPrice:       sig.BuyPrice.StringFixed(2),
		BuyCurrency:    sig.BuyCurrency,
		AcquisitionUSD: sig.AcquisitionUSD.StringFixed(2),
		TargetPrice:    sig.AdjustedTarget.StringFixed(2),
		NetProfit:      sig.NetProfit.StringFixed(2),
		MarginPct:      sig.MarginPct.StringFixed(2),
		VelocityScore:  sig.VelocityScore.String(),
		HeadacheScore:  sig.HeadacheScore.StringFixed(2),
		Trend:          sig.Trend,
		BundleTier:     sig.BundleTier,
		SellerDensity:  sig.SellerDensity,
		RiskFlags:      sig.RiskFlags,
		BuyURL:         buyURL,
		SellURL:        sellURL,
		CascadeCount:   sig.CascadeCount,
		ExpiresAt:      sig.ExpiresAt,
	}
}

// CardmarketSearchURL links to the buy-side marketplace search.
func CardmarketSearchURL(cardID string) string {
	return "https://www.cardmarket.com/en/Pokemon/Products/Search?searchString=" +
		url.QueryEscape(cardID)
}

// TCGPlayerSearchURL links to the sell-side marketplace search.
func TCGPlayerSearchURL(cardID string) string {
	return "https://www.tcgplayer.com/search/pokemon/product?q=" +
		url.QueryEscape(cardID)
}

// Notifier delivers a payload to a recipient.
type Notifier interface {
	Notify(payload Payload) error
}

// LogNotifier writes payloads to the structured log. It is the default
// delivery channel and the one used in development.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("module", "notify").Logger()}
}

// Notify logs the payload at info level.
func (n *LogNotifier) Notify(payload Payload) error {
	n.log.Info().
		Str("signal_id", payload.SignalID).
		Str("recipient_id", payload.RecipientID).
		Str("card_id", payload.CardID).
		Str("net_profit", payload.NetProfit).
		Str("margin_pct", payload.MarginPct).
		Strs("risk_flags", payload.RiskFlags).
		Int("cascade_count", payload.CascadeCount).
		Time("expires_at", payload.ExpiresAt).
		Str("buy_url", payload.BuyURL).
		Str("sell_url", payload.SellURL).
		Msg("Signal delivery")
	return nil
}
