package clientdata

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestNewCleanupJob(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, zerolog.Nop())

	assert.NotNil(t, job)
}

func TestCleanupJobName(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, zerolog.Nop())

	assert.Equal(t, "client_data_cleanup", job.Name())
}

func TestCleanupJobRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, zerolog.Nop())

	now := time.Now()
	expiredAt := now.Add(-time.Hour).Unix()
	freshAt := now.Add(time.Hour).Unix()

	insertExpiredAndFresh(t, db, "cardmarket_listings", "card_id", expiredAt, freshAt)
	insertExpiredAndFresh(t, db, "tcgplayer_quotes", "card_id", expiredAt, freshAt)
	insertExpiredAndFresh(t, db, "exchangerate", "pair", expiredAt, freshAt)

	var countBefore int
	db.QueryRow("SELECT (SELECT COUNT(*) FROM cardmarket_listings) + (SELECT COUNT(*) FROM tcgplayer_quotes) + (SELECT COUNT(*) FROM exchangerate)").Scan(&countBefore)
	assert.Equal(t, 6, countBefore) // 2 per table (1 expired + 1 fresh)

	err := job.Run()
	require.NoError(t, err)

	var countAfter int
	db.QueryRow("SELECT (SELECT COUNT(*) FROM cardmarket_listings) + (SELECT COUNT(*) FROM tcgplayer_quotes) + (SELECT COUNT(*) FROM exchangerate)").Scan(&countAfter)
	assert.Equal(t, 3, countAfter) // 1 fresh per table
}

func TestCleanupJobRunEmptyTables(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, zerolog.Nop())

	err := job.Run()
	require.NoError(t, err)
}

func TestCleanupJobRunAllExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, zerolog.Nop())

	expiredAt := time.Now().Add(-time.Hour).Unix()

	_, err := db.Exec("INSERT INTO cardmarket_listings (card_id, data, expires_at) VALUES (?, ?, ?)", "sv8-001", `{}`, expiredAt)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO cardmarket_listings (card_id, data, expires_at) VALUES (?, ?, ?)", "sv8-002", `{}`, expiredAt)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO tcgplayer_quotes (card_id, data, expires_at) VALUES (?, ?, ?)", "sv8-003", `{}`, expiredAt)
	require.NoError(t, err)

	err = job.Run()
	require.NoError(t, err)

	var count int
	db.QueryRow("SELECT COUNT(*) FROM cardmarket_listings").Scan(&count)
	assert.Equal(t, 0, count)
	db.QueryRow("SELECT COUNT(*) FROM tcgplayer_quotes").Scan(&count)
	assert.Equal(t, 0, count)
}

func TestCleanupJobRunAllFresh(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	job := NewCleanupJob(repo, zerolog.Nop())

	freshAt := time.Now().Add(time.Hour).Unix()

	_, err := db.Exec("INSERT INTO cardmarket_listings (card_id, data, expires_at) VALUES (?, ?, ?)", "sv8-001", `{}`, freshAt)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO cardmarket_listings (card_id, data, expires_at) VALUES (?, ?, ?)", "sv8-002", `{}`, freshAt)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO tcgplayer_quotes (card_id, data, expires_at) VALUES (?, ?, ?)", "sv8-003", `{}`, freshAt)
	require.NoError(t, err)

	err = job.Run()
	require.NoError(t, err)

	var count int
	db.QueryRow("SELECT COUNT(*) FROM cardmarket_listings").Scan(&count)
	assert.Equal(t, 2, count)
	db.QueryRow("SELECT COUNT(*) FROM tcgplayer_quotes").Scan(&count)
	assert.Equal(t, 1, count)
}

// Helper function to insert one expired and one fresh entry per table
func insertExpiredAndFresh(t *testing.T, db *sql.DB, table, keyCol string, expiredAt, freshAt int64) {
	t.Helper()

	var key1, key2 string
	if keyCol == "pair" {
		key1 = "EUR:USD"
		key2 = "GBP:USD"
	} else {
		key1 = "expired_" + table
		key2 = "fresh_" + table
	}

	_, err := db.Exec(
		"INSERT INTO "+table+" ("+keyCol+", data, expires_at) VALUES (?, ?, ?)",
		key1, `{"status":"expired"}`, expiredAt,
	)
	require.NoError(t, err)

	_, err = db.Exec(
		"INSERT INTO "+table+" ("+keyCol+", data, expires_at) VALUES (?, ?, ?)",
		key2, `{"status":"fresh"}`, freshAt,
	)
	require.NoError(t, err)
}
