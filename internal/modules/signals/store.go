package signals

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/database"
	"github.com/aristath/radar/internal/domain"
	"github.com/aristath/radar/internal/metrics"
)

// ErrNotFound is returned when a signal does not exist or does not
// belong to the requesting recipient. The two cases are deliberately
// indistinguishable to callers.
var ErrNotFound = errors.New("signal not found")

const timeLayout = time.RFC3339Nano

// Store handles signal, audit, and rotation persistence. All reads and
// writes that act on behalf of a recipient take the recipient ID and
// scope the query with it.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a signal store.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "signals").Logger(),
	}
}

// Persist writes one evaluation outcome atomically. An accepted
// candidate writes the signal row, its audit row, and the rotation
// ledger touch in a single transaction; a rejection writes only the
// audit row. Either everything lands or nothing does.
func (s *Store) Persist(sig *Signal, audit AuditRecord) error {
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if sig != nil {
			if err := insertSignal(tx, sig); err != nil {
				return err
			}
			audit.SignalID = sig.ID
			if err := touchRotation(tx, sig.RecipientID, sig.CreatedAt); err != nil {
				return err
			}
		}
		return insertAudit(tx, audit)
	})
	if err != nil {
		return err
	}

	if sig != nil {
		metrics.SignalPersisted()
		s.log.Info().
			Str("signal_id", sig.ID).
			Str("card_id", sig.CardID).
			Str("recipient_id", sig.RecipientID).
			Str("net_profit", sig.NetProfit.String()).
			Msg("Signal persisted")
	}
	return nil
}

func insertSignal(tx *sql.Tx, sig *Signal) error {
	flags, err := json.Marshal(sig.RiskFlags)
	if err != nil {
		return fmt.Errorf("failed to marshal risk flags: %w", err)
	}
	served, err := json.Marshal(sig.ServedRecipients)
	if err != nil {
		return fmt.Errorf("failed to marshal served recipients: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO signals (
		id, card_id, variant_id, recipient_id, status,
		buy_price, buy_currency, acquisition_usd, adjusted_target,
		net_profit, margin_pct, velocity_score, headache_score,
		trend, bundle_tier, seller_density, risk_flags, buy_url, sell_url,
		cascade_count, served_recipients, acted_on, expires_at,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		sig.ID, sig.CardID, sig.VariantID, sig.RecipientID, string(sig.Status),
		sig.BuyPrice.String(), sig.BuyCurrency, sig.AcquisitionUSD.String(), sig.AdjustedTarget.String(),
		sig.NetProfit.String(), sig.MarginPct.String(), sig.VelocityScore.String(), sig.HeadacheScore.String(),
		sig.Trend, sig.BundleTier, sig.SellerDensity, string(flags), sig.BuyURL, sig.SellURL,
		sig.CascadeCount, string(served), formatTime(sig.ExpiresAt),
		formatTime(sig.CreatedAt), formatTime(sig.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

func insertAudit(tx *sql.Tx, rec AuditRecord) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal audit snapshot: %w", err)
	}

	signalID := sql.NullString{String: rec.SignalID, Valid: rec.SignalID != ""}
	reason := sql.NullString{String: rec.RejectionReason, Valid: rec.RejectionReason != ""}
	stage := sql.NullString{String: rec.RejectionStage, Valid: rec.RejectionStage != ""}

	_, err = tx.Exec(`INSERT INTO signal_audit (
		signal_id, card_id, recipient_id, accepted,
		rejection_reason, rejection_stage, snapshot, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		signalID, rec.CardID, rec.RecipientID, boolToInt(rec.Accepted),
		reason, stage, string(snapshot), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func touchRotation(tx *sql.Tx, recipientID string, now time.Time) error {
	ts := formatTime(now)
	_, err := tx.Exec(`INSERT INTO recipient_rotation (recipient_id, last_served_at, served_count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(recipient_id) DO UPDATE SET
			last_served_at = excluded.last_served_at,
			served_count = served_count + 1,
			updated_at = excluded.updated_at`,
		recipientID, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to update rotation ledger: %w", err)
	}
	return nil
}

const signalColumns = `id, card_id, variant_id, recipient_id, status,
	buy_price, buy_currency, acquisition_usd, adjusted_target,
	net_profit, margin_pct, velocity_score, headache_score,
	trend, bundle_tier, seller_density, risk_flags, buy_url, sell_url,
	cascade_count, served_recipients, acted_on, acted_at, delivered_at,
	expires_at, created_at, updated_at`

// GetForRecipient returns a signal only if it currently belongs to the
// recipient.
func (s *Store) GetForRecipient(id, recipientID string) (*Signal, error) {
	row := s.db.QueryRow(`SELECT `+signalColumns+` FROM signals WHERE id = ? AND recipient_id = ?`,
		id, recipientID)

	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query signal: %w", err)
	}
	return sig, nil
}

// ListForRecipient returns the recipient's signals, newest first.
func (s *Store) ListForRecipient(recipientID string, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+signalColumns+` FROM signals
		WHERE recipient_id = ? ORDER BY created_at DESC LIMIT ?`,
		recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	return collectSignals(rows)
}

// Active returns every signal the cascade scheduler must look at:
// not acted on and not terminally closed.
func (s *Store) Active() ([]Signal, error) {
	rows, err := s.db.Query(`SELECT `+signalColumns+` FROM signals
		WHERE acted_on = 0 AND status IN (?, ?)`,
		string(domain.StatusPending), string(domain.StatusDelivered))
	if err != nil {
		return nil, fmt.Errorf("failed to query active signals: %w", err)
	}
	defer rows.Close()

	return collectSignals(rows)
}

// HasActiveForCard reports whether the card already has an open signal.
// Used to keep repeated scans idempotent.
func (s *Store) HasActiveForCard(cardID, variantID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM signals
		WHERE card_id = ? AND variant_id = ? AND acted_on = 0 AND status IN (?, ?)`,
		cardID, variantID, string(domain.StatusPending), string(domain.StatusDelivered)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active signals for card: %w", err)
	}
	return count > 0, nil
}

// Ack flips the acted_on latch. The latch is one-way: once set it never
// clears, and a signal already acted on acks idempotently. Acking a
// signal owned by another recipient returns ErrNotFound.
func (s *Store) Ack(id, recipientID string, now time.Time) error {
	res, err := s.db.Exec(`UPDATE signals
		SET acted_on = 1, acted_at = ?, status = ?, updated_at = ?
		WHERE id = ? AND recipient_id = ? AND acted_on = 0`,
		formatTime(now), string(domain.StatusActed), formatTime(now), id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to ack signal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read ack result: %w", err)
	}
	if affected == 1 {
		metrics.CascadeTransition("acted")
		return nil
	}

	// No row updated: either already acted (idempotent success) or not ours.
	var actedOn int
	err = s.db.QueryRow(`SELECT acted_on FROM signals WHERE id = ? AND recipient_id = ?`,
		id, recipientID).Scan(&actedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to verify ack: %w", err)
	}
	return nil
}

// MarkDelivered records notification delivery, PENDING to DELIVERED only.
func (s *Store) MarkDelivered(id string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE signals
		SET status = ?, delivered_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND acted_on = 0`,
		string(domain.StatusDelivered), formatTime(now), formatTime(now),
		id, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark signal delivered: %w", err)
	}
	return nil
}

// Cascade hands an expired signal to the next recipient. The update is
// compare-and-swap on cascade_count so a concurrent ack or a competing
// scheduler pass loses cleanly: zero rows affected means the signal
// changed underneath us and the caller should drop the attempt.
func (s *Store) Cascade(sig *Signal, nextRecipient string, expiresAt, now time.Time) (bool, error) {
	served := append(append([]string{}, sig.ServedRecipients...), sig.RecipientID)
	servedJSON, err := json.Marshal(served)
	if err != nil {
		return false, fmt.Errorf("failed to marshal served recipients: %w", err)
	}

	// The hand-off and the rotation touch commit together: a stale
	// ledger would skew fairness ordering for every later assignment.
	var moved bool
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE signals
			SET recipient_id = ?, cascade_count = cascade_count + 1,
				served_recipients = ?, expires_at = ?, status = ?,
				delivered_at = NULL, updated_at = ?
			WHERE id = ? AND cascade_count = ? AND acted_on = 0`,
			nextRecipient, string(servedJSON), formatTime(expiresAt),
			string(domain.StatusPending), formatTime(now),
			sig.ID, sig.CascadeCount)
		if err != nil {
			return fmt.Errorf("failed to cascade signal: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read cascade result: %w", err)
		}
		if affected != 1 {
			return nil
		}
		moved = true
		return touchRotation(tx, nextRecipient, now)
	})
	if err != nil {
		return false, err
	}
	if moved {
		metrics.CascadeTransition("cascade")
	}
	return moved, nil
}

// Close retires a signal terminally (EXPIRED or RETIRED). Guarded by the
// same CAS so a just-acted signal is never closed.
func (s *Store) Close(sig *Signal, status domain.SignalStatus, now time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE signals
		SET status = ?, updated_at = ?
		WHERE id = ? AND cascade_count = ? AND acted_on = 0`,
		string(status), formatTime(now), sig.ID, sig.CascadeCount)
	if err != nil {
		return false, fmt.Errorf("failed to close signal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read close result: %w", err)
	}
	if affected == 1 {
		metrics.CascadeTransition(statusTransitionLabel(status))
		metrics.CascadeSettled(sig.CascadeCount)
		return true, nil
	}
	return false, nil
}

func statusTransitionLabel(status domain.SignalStatus) string {
	switch status {
	case domain.StatusExpired:
		return "expired"
	case domain.StatusRetired:
		return "retired"
	default:
		return "closed"
	}
}

// AuditForRecipient returns the recipient's evaluation history, newest
// first, rejections included.
func (s *Store) AuditForRecipient(recipientID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, signal_id, card_id, recipient_id, accepted,
		rejection_reason, rejection_stage, snapshot, created_at
		FROM signal_audit WHERE recipient_id = ? ORDER BY id DESC LIMIT ?`,
		recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	return collectAudit(rows)
}

// AuditBefore returns audit records created strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *Store) AuditBefore(cutoff time.Time, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`SELECT id, signal_id, card_id, recipient_id, accepted,
		rejection_reason, rejection_stage, snapshot, created_at
		FROM signal_audit WHERE created_at < ? ORDER BY id ASC LIMIT ?`,
		formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	return collectAudit(rows)
}

// DeleteAuditThrough removes archived audit rows up to and including id.
func (s *Store) DeleteAuditThrough(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM signal_audit WHERE id <= ?`, id); err != nil {
		return fmt.Errorf("failed to prune audit records: %w", err)
	}
	return nil
}

// RotationLedger returns last-served entries keyed by recipient ID.
// Recipients never served have no entry.
func (s *Store) RotationLedger() (map[string]RotationEntry, error) {
	rows, err := s.db.Query(`SELECT recipient_id, last_served_at, served_count, updated_at
		FROM recipient_rotation`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation ledger: %w", err)
	}
	defer rows.Close()

	ledger := make(map[string]RotationEntry)
	for rows.Next() {
		var (
			entry      RotationEntry
			lastServed sql.NullString
			updatedAt  string
		)
		if err := rows.Scan(&entry.RecipientID, &lastServed, &entry.ServedCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rotation entry: %w", err)
		}
		if lastServed.Valid {
			t, err := parseTime(lastServed.String)
			if err != nil {
				return nil, err
			}
			entry.LastServedAt = &t
		}
		if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		ledger[entry.RecipientID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rotation ledger: %w", err)
	}
	return ledger, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*Signal, error) {
	var (
		sig                                     Signal
		status, trend, bundleTier               string
		buyPrice, acqUSD, adjTarget, netProfit  string
		marginPct, velocityScore, headacheScore string
		flagsJSON, servedJSON                   string
		actedOn                                 int
		actedAt, deliveredAt                    sql.NullString
		expiresAt, createdAt, updatedAt         string
	)

	err := row.Scan(&sig.ID, &sig.CardID, &sig.VariantID, &sig.RecipientID, &status,
		&buyPrice, &sig.BuyCurrency, &acqUSD, &adjTarget,
		&netProfit, &marginPct, &velocityScore, &headacheScore,
		&trend, &bundleTier, &sig.SellerDensity, &flagsJSON, &sig.BuyURL, &sig.SellURL,
		&sig.CascadeCount, &servedJSON, &actedOn, &actedAt, &deliveredAt,
		&expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sig.Status = domain.SignalStatus(status)
	sig.Trend = trend
	sig.BundleTier = bundleTier
	sig.ActedOn = actedOn != 0

	for _, pair := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{buyPrice, &sig.BuyPrice}, {acqUSD, &sig.AcquisitionUSD},
		{adjTarget, &sig.AdjustedTarget}, {netProfit, &sig.NetProfit},
		{marginPct, &sig.MarginPct}, {velocityScore, &sig.VelocityScore},
		{headacheScore, &sig.HeadacheScore},
	} {
		d, err := decimal.NewFromString(pair.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse decimal column %q: %w", pair.raw, err)
		}
		*pair.dest = d
	}

	if err := json.Unmarshal([]byte(flagsJSON), &sig.RiskFlags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk flags: %w", err)
	}
	if err := json.Unmarshal([]byte(servedJSON), &sig.ServedRecipients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal served recipients: %w", err)
	}

	if actedAt.Valid {
		t, err := parseTime(actedAt.String)
		if err != nil {
			return nil, err
		}
		sig.ActedAt = &t
	}
	if deliveredAt.Valid {
		t, err := parseTime(deliveredAt.String)
		if err != nil {
			return nil, err
		}
		sig.DeliveredAt = &t
	}
	if sig.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if sig.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sig.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &sig, nil
}

func collectSignals(rows *sql.Rows) ([]Signal, error) {
	var out []Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		out = append(out, *sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return out, nil
}

func collectAudit(rows *sql.Rows) ([]AuditRecord, error) {
	var out []AuditRecord
	for rows.Next() {
		var (
			rec                     AuditRecord
			signalID, reason, stage sql.NullString
			accepted                int
			snapshotJSON, createdAt string
		)
		if err := rows.Scan(&rec.ID, &signalID, &rec.CardID, &rec.RecipientID, &accepted,
			&reason, &stage, &snapshotJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.SignalID = signalID.String
		rec.RejectionReason = reason.String
		rec.RejectionStage = stage.String
		rec.Accepted = accepted != 0
		if err := json.Unmarshal([]byte(snapshotJSON), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit snapshot: %w", err)
		}
		var err error
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
