package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/radar/internal/database"
)

// MaintenanceJob checkpoints the WAL on every database so the WAL files
// stay bounded on long-running deployments.
type MaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job.
func NewMaintenanceJob(databases []*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run checkpoints each database. A failure on one database does not stop
// the others.
func (j *MaintenanceJob) Run() error {
	var lastErr error
	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			lastErr = err
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint complete")
	}
	return lastErr
}
