package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/modules/signals"
)

type fakeJob struct {
	ran chan struct{}
}

func (f *fakeJob) Name() string { return "scan" }

func (f *fakeJob) Run() error {
	f.ran <- struct{}{}
	return nil
}

func newTestServer(t *testing.T) (*Server, *signals.Store, *fakeJob) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../database/schemas/radar_schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	store := signals.NewStore(db, zerolog.Nop())
	job := &fakeJob{ran: make(chan struct{}, 1)}

	srv := New(Config{
		Log:     zerolog.Nop(),
		Port:    0,
		Store:   store,
		ScanJob: job,
		DevMode: true,
	})
	return srv, store, job
}

func seedSignal(t *testing.T, store *signals.Store, id, recipientID string) *signals.Signal {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sig := &signals.Signal{
		ID:               id,
		CardID:           "sv1-25",
		VariantID:        "sv1-25",
		RecipientID:      recipientID,
		Status:           domain.StatusPending,
		BuyPrice:         decimal.RequireFromString("28.99"),
		BuyCurrency:      "EUR",
		AcquisitionUSD:   decimal.RequireFromString("34.92"),
		AdjustedTarget:   decimal.RequireFromString("65.00"),
		NetProfit:        decimal.RequireFromString("22.79"),
		MarginPct:        decimal.RequireFromString("39.49"),
		VelocityScore:    decimal.RequireFromString("2.1"),
		HeadacheScore:    decimal.RequireFromString("22.79"),
		Trend:            "momentum",
		BundleTier:       "single_card",
		SellerDensity:    1,
		RiskFlags:        []string{},
		ServedRecipients: []string{},
		ExpiresAt:        now.Add(3 * time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.Persist(sig, signals.AuditRecord{
		CardID:      sig.CardID,
		RecipientID: recipientID,
		Accepted:    true,
		Snapshot:    map[string]any{"card_id": sig.CardID},
		CreatedAt:   now,
	}))
	return sig
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestListSignalsIsRecipientScoped(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedSignal(t, store, "sig-1", "rec-1")
	seedSignal(t, store, "sig-2", "rec-1")
	seedSignal(t, store, "sig-3", "rec-2")

	rec := doRequest(srv, http.MethodGet, "/api/recipients/rec-1/signals")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RecipientID string       `json:"recipient_id"`
		Signals     []SignalView `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rec-1", body.RecipientID)
	assert.Len(t, body.Signals, 2)
}

func TestGetSignal(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedSignal(t, store, "sig-1", "rec-1")

	rec := doRequest(srv, http.MethodGet, "/api/recipients/rec-1/signals/sig-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var view SignalView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "sig-1", view.ID)
	assert.Equal(t, "22.79", view.NetProfit)
	assert.Equal(t, "PENDING", view.Status)
}

func TestGetSignalHidesOtherRecipients(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedSignal(t, store, "sig-1", "rec-1")

	// Same 404 whether the signal is missing or belongs to someone else.
	rec := doRequest(srv, http.MethodGet, "/api/recipients/rec-2/signals/sig-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/api/recipients/rec-1/signals/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAckIsIdempotent(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedSignal(t, store, "sig-1", "rec-1")

	rec := doRequest(srv, http.MethodPost, "/api/recipients/rec-1/signals/sig-1/ack")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetForRecipient("sig-1", "rec-1")
	require.NoError(t, err)
	assert.True(t, got.ActedOn)

	// Repeat ack still succeeds.
	rec = doRequest(srv, http.MethodPost, "/api/recipients/rec-1/signals/sig-1/ack")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAckByNonOwnerIs404(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedSignal(t, store, "sig-1", "rec-1")

	rec := doRequest(srv, http.MethodPost, "/api/recipients/rec-2/signals/sig-1/ack")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	got, err := store.GetForRecipient("sig-1", "rec-1")
	require.NoError(t, err)
	assert.False(t, got.ActedOn, "a non-owner ack must not touch the latch")
}

func TestAuditEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedSignal(t, store, "sig-1", "rec-1")

	rec := doRequest(srv, http.MethodGet, "/api/recipients/rec-1/audit")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RecipientID string           `json:"recipient_id"`
		Records     []map[string]any `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Records, 1)
}

func TestTriggerScan(t *testing.T) {
	srv, _, job := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/jobs/scan")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-job.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scan job never ran")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
