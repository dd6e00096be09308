package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/radar/internal/database"
	"github.com/aristath/radar/internal/modules/signals"
)

// Handlers serves the API endpoints. Every signal and audit route takes
// the recipient ID from the path and scopes the store query with it;
// there is no way to read another recipient's rows through this surface.
type Handlers struct {
	log         zerolog.Logger
	store       *signals.Store
	databases   []*database.DB
	scanJob     Job
	startupTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(log zerolog.Logger, store *signals.Store, databases []*database.DB, scanJob Job) *Handlers {
	return &Handlers{
		log:         log.With().Str("component", "handlers").Logger(),
		store:       store,
		databases:   databases,
		scanJob:     scanJob,
		startupTime: time.Now(),
	}
}

// HandleListSignals returns the recipient's signals, newest first.
func (h *Handlers) HandleListSignals(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sigs, err := h.store.ListForRecipient(recipientID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("recipient_id", recipientID).Msg("Failed to list signals")
		h.respondError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"recipient_id": recipientID,
		"signals":      signalViews(sigs),
	})
}

// HandleGetSignal returns one signal if it belongs to the recipient.
func (h *Handlers) HandleGetSignal(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	signalID := chi.URLParam(r, "signalID")

	sig, err := h.store.GetForRecipient(signalID, recipientID)
	if errors.Is(err, signals.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("signal_id", signalID).Msg("Failed to get signal")
		h.respondError(w, http.StatusInternalServerError, "failed to get signal")
		return
	}

	h.respondJSON(w, http.StatusOK, signalView(sig))
}

// HandleAck flips the acted_on latch for the recipient's signal. The
// operation is idempotent; repeated acks return 200.
func (h *Handlers) HandleAck(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	signalID := chi.URLParam(r, "signalID")

	err := h.store.Ack(signalID, recipientID, time.Now())
	if errors.Is(err, signals.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("signal_id", signalID).Msg("Failed to ack signal")
		h.respondError(w, http.StatusInternalServerError, "failed to ack signal")
		return
	}

	h.log.Info().Str("signal_id", signalID).Str("recipient_id", recipientID).Msg("Signal acked")
	h.respondJSON(w, http.StatusOK, map[string]any{
		"signal_id": signalID,
		"acted_on":  true,
	})
}

// HandleAudit returns the recipient's evaluation history including
// rejections, newest first.
func (h *Handlers) HandleAudit(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.store.AuditForRecipient(recipientID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("recipient_id", recipientID).Msg("Failed to load audit records")
		h.respondError(w, http.StatusInternalServerError, "failed to load audit records")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"recipient_id": recipientID,
		"records":      records,
	})
}

// HandleTriggerScan runs the scan job on demand.
func (h *Handlers) HandleTriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.scanJob == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scan job not configured")
		return
	}

	go func() {
		if err := h.scanJob.Run(); err != nil {
			h.log.Error().Err(err).Msg("Manual scan failed")
		}
	}()

	h.respondJSON(w, http.StatusAccepted, map[string]any{
		"job":     h.scanJob.Name(),
		"started": true,
	})
}

// HandleHealth reports process and database health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := make(map[string]string, len(h.databases))
	for _, db := range h.databases {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(ctx); err != nil {
			dbStatus[db.Name()] = err.Error()
			status = "degraded"
		} else {
			dbStatus[db.Name()] = "ok"
		}
	}

	response := map[string]any{
		"status":         status,
		"uptime_seconds": int(time.Since(h.startupTime).Seconds()),
		"databases":      dbStatus,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["memory_used_pct"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		response["cpu_pct"] = percents[0]
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, code, response)
}

// SignalView is the JSON shape of a signal on the API.
type SignalView struct {
	ID             string     `json:"id"`
	CardID         string     `json:"card_id"`
	VariantID      string     `json:"variant_id,omitempty"`
	Status         string     `json:"status"`
	BuyPrice       string     `json:"buy_price"`
	BuyCurrency    string     `json:"buy_currency"`
	AcquisitionUSD string     `json:"acquisition_usd"`
	AdjustedTarget string     `json:"adjusted_target"`
	NetProfit      string     `json:"net_profit"`
	MarginPct      string     `json:"margin_pct"`
	VelocityScore  string     `json:"velocity_score"`
	HeadacheScore  string     `json:"headache_score"`
	Trend          string     `json:"trend"`
	BundleTier     string     `json:"bundle_tier"`
	SellerDensity  int        `json:"seller_density"`
	RiskFlags      []string   `json:"risk_flags"`
	BuyURL         string     `json:"buy_url,omitempty"`
	SellURL        string     `json:"sell_url,omitempty"`
	CascadeCount   int        `json:"cascade_count"`
	ActedOn        bool       `json:"acted_on"`
	ActedAt        *time.Time `json:"acted_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func signalView(sig *signals.Signal) SignalView {
	return SignalView{
		ID:             sig.ID,
		CardID:         sig.CardID,
		VariantID:      sig.VariantID,
		Status:         string(sig.Status),
		BuyPrice:       sig.BuyPrice.StringFixed(2),
		BuyCurrency:    sig.BuyCurrency,
		AcquisitionUSD: sig.AcquisitionUSD.StringFixed(2),
		AdjustedTarget: sig.AdjustedTarget.StringFixed(2),
		NetProfit:      sig.NetProfit.StringFixed(2),
		MarginPct:      sig.MarginPct.StringFixed(2),
		VelocityScore:  sig.VelocityScore.String(),
		HeadacheScore:  sig.HeadacheScore.StringFixed(2),
		Trend:          sig.Trend,
		BundleTier:     sig.BundleTier,
		SellerDensity:  sig.SellerDensity,
		RiskFlags:      sig.RiskFlags,
		BuyURL:         sig.BuyURL,
		SellURL:        sig.SellURL,
		CascadeCount:   sig.CascadeCount,
		ActedOn:        sig.ActedOn,
		ActedAt:        sig.ActedAt,
		DeliveredAt:    sig.DeliveredAt,
		ExpiresAt:      sig.ExpiresAt,
		CreatedAt:      sig.CreatedAt,
	}
}

func signalViews(sigs []signals.Signal) []SignalView {
	views := make([]SignalView, 0, len(sigs))
	for i := range sigs {
		views = append(views, signalView(&sigs[i]))
	}
	return views
}

func (h *Handlers) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, map[string]string{"error": message})
}
