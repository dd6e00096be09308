// Package signals owns the signal lifecycle: persistence, the audit
// trail, and the recipient rotation ledger.
package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// Signal is an accepted arbitrage opportunity assigned to one recipient.
// Exclusivity is encoded in RecipientID; past holders live in
// ServedRecipients so the cascade never revisits them.
type Signal struct {
	ID          string
	CardID      string
	VariantID   string
	RecipientID string
	Status      domain.SignalStatus

	BuyPrice       decimal.Decimal
	BuyCurrency    string
	AcquisitionUSD decimal.Decimal
	AdjustedTarget decimal.Decimal
	NetProfit      decimal.Decimal
	MarginPct      decimal.Decimal
	VelocityScore  decimal.Decimal
	HeadacheScore  decimal.Decimal
	Trend          string
	BundleTier     string
	SellerDensity  int
	RiskFlags      []string
	BuyURL         string
	SellURL        string

	CascadeCount     int
	ServedRecipients []string
	ActedOn          bool
	ActedAt          *time.Time
	DeliveredAt      *time.Time
	ExpiresAt        time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WasServed reports whether the recipient already held this signal.
func (s *Signal) WasServed(recipientID string) bool {
	if s.RecipientID == recipientID {
		return true
	}
	for _, id := range s.ServedRecipients {
		if id == recipientID {
			return true
		}
	}
	return false
}

// AuditRecord is one immutable evaluation outcome. Rejected candidates
// have no SignalID.
type AuditRecord struct {
	ID              int64
	SignalID        string
	CardID          string
	RecipientID     string
	Accepted        bool
	RejectionReason string
	RejectionStage  string
	Snapshot        map[string]any
	CreatedAt       time.Time
}

// RotationEntry is the last-served ledger row for one recipient.
type RotationEntry struct {
	RecipientID  string
	LastServedAt *time.Time
	ServedCount  int
	UpdatedAt    time.Time
}
