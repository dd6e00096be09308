package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/radar/internal/modules/signals"
)

// BlobStore is the object storage surface the archiver needs.
type BlobStore interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// DefaultArchiveRetention is how long audit rows stay in SQLite before
// being shipped to object storage and pruned.
const DefaultArchiveRetention = 30 * 24 * time.Hour

const archiveBatchSize = 5000

// ArchiveJob ships old audit rows to object storage as JSON lines and
// prunes them locally. The audit table is append-only; without this the
// ledger database grows without bound.
type ArchiveJob struct {
	store     *signals.Store
	blob      BlobStore
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewArchiveJob creates the archive job.
func NewArchiveJob(store *signals.Store, blob BlobStore, retention time.Duration, log zerolog.Logger) *ArchiveJob {
	if retention <= 0 {
		retention = DefaultArchiveRetention
	}
	return &ArchiveJob{
		store:     store,
		blob:      blob,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("job", "audit_archive").Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (j *ArchiveJob) Name() string {
	return "audit_archive"
}

// Run archives one batch per invocation. Upload first, prune after: a
// failed upload leaves the rows in place for the next run.
func (j *ArchiveJob) Run() error {
	now := j.now()
	cutoff := now.Add(-j.retention)

	records, err := j.store.AuditBefore(cutoff, archiveBatchSize)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to load audit records for archiving")
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode audit record %d: %w", rec.ID, err)
		}
	}

	lastID := records[len(records)-1].ID
	key := fmt.Sprintf("audit/%s/audit-%d-%d.jsonl",
		now.UTC().Format("2006/01/02"), records[0].ID, lastID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := j.blob.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		j.log.Error().Err(err).Str("key", key).Msg("Audit archive upload failed")
		return err
	}

	if err := j.store.DeleteAuditThrough(lastID); err != nil {
		// Rows will be re-uploaded next run; duplicate objects are
		// harmless since keys encode the ID range.
		j.log.Error().Err(err).Msg("Failed to prune archived audit rows")
		return err
	}

	j.log.Info().
		Int("records", len(records)).
		Str("key", key).
		Msg("Audit batch archived")
	return nil
}
