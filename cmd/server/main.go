// Package main is the entry point for the Radar card arbitrage system.
// It scans marketplace listings, runs candidates through the valuation
// pipeline, assigns accepted signals exclusively via rotation, and
// cascades unacted signals to the next recipient.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aristath/radar/internal/blob/s3"
	"github.com/aristath/radar/internal/clientdata"
	"github.com/aristath/radar/internal/clients/cardmarket"
	"github.com/aristath/radar/internal/clients/exchangerate"
	"github.com/aristath/radar/internal/clients/tcgplayer"
	"github.com/aristath/radar/internal/config"
	"github.com/aristath/radar/internal/database"
	"github.com/aristath/radar/internal/engine"
	"github.com/aristath/radar/internal/modules/exclusivity"
	"github.com/aristath/radar/internal/modules/scan"
	"github.com/aristath/radar/internal/modules/signals"
	"github.com/aristath/radar/internal/notify"
	"github.com/aristath/radar/internal/scheduler"
	"github.com/aristath/radar/internal/server"
	"github.com/aristath/radar/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("recipients", len(cfg.Recipients)).
		Int("watchlist", len(cfg.Watchlist)).
		Msg("Starting radar")

	// Databases: the ledger-profile radar database holds signals and the
	// audit trail; the cache database holds external API responses.
	radarDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "radar.db"),
		Profile: database.ProfileLedger,
		Name:    "radar",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open radar database")
	}
	defer radarDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{radarDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Migration failed")
		}
	}

	// Stores and clients
	store := signals.NewStore(radarDB.Conn(), log)
	cacheRepo := clientdata.NewRepository(cacheDB.Conn())

	forexClient := exchangerate.NewClient(cacheRepo, log)
	buySide := cardmarket.NewClient(cfg.CardmarketBaseURL, cacheRepo, log)
	sellSide := tcgplayer.NewClient(cfg.TCGPlayerBaseURL, cacheRepo, log)

	// Core modules
	pipeline := engine.New(log)
	rotator := exclusivity.NewRotator(cfg.Recipients, store, log)
	notifier := notify.NewLogNotifier(log)
	source := scan.NewSource(buySide, sellSide, log)

	scanJob := scheduler.NewScanJob(
		pipeline, source, forexClient, rotator, store, notifier,
		cfg.Watchlist, cfg.Regimes, cfg.ScanWorkers, log,
	)

	// Background loops: the cascade ticker plus cron-driven jobs.
	cascade := scheduler.NewCascadeScheduler(store, rotator, notifier, log)
	cascade.Start()
	defer cascade.Stop()

	cronRunner := cron.New()
	scheduleJob := func(spec string, job interface {
		Name() string
		Run() error
	}) {
		_, err := cronRunner.AddFunc(spec, func() {
			if err := job.Run(); err != nil {
				log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
			}
		})
		if err != nil {
			log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to schedule job")
		}
	}

	scheduleJob(cfg.ScanSchedule, scanJob)
	scheduleJob("0 3 * * *", clientdata.NewCleanupJob(cacheRepo, log))
	scheduleJob("30 3 * * *", scheduler.NewMaintenanceJob([]*database.DB{radarDB, cacheDB}, log))

	if cfg.ArchiveEnabled() {
		blobClient, err := s3blob.New(context.Background(), s3blob.ClientConfig{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3Endpoint != "",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		scheduleJob("0 4 * * *", scheduler.NewArchiveJob(store, blobClient, scheduler.DefaultArchiveRetention, log))
	} else {
		log.Info().Msg("Audit archiving disabled, no S3 bucket configured")
	}

	cronRunner.Start()
	defer cronRunner.Stop()

	// HTTP API
	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		RadarDB: radarDB,
		CacheDB: cacheDB,
		Store:   store,
		ScanJob: scanJob,
		DevMode: cfg.DevMode,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}

	log.Info().Msg("Radar stopped")
}
