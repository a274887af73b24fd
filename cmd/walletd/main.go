package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/textileio/go-walletsync/buildinfo"
	"github.com/textileio/go-walletsync/internal/router"
	"github.com/textileio/go-walletsync/pkg/backup"
	"github.com/textileio/go-walletsync/pkg/backup/restorer"
	"github.com/textileio/go-walletsync/pkg/blocksync"
	blocksyncimpl "github.com/textileio/go-walletsync/pkg/blocksync/impl"
	chainreaderimpl "github.com/textileio/go-walletsync/pkg/chainreader/impl"
	"github.com/textileio/go-walletsync/pkg/database"
	"github.com/textileio/go-walletsync/pkg/logging"
	"github.com/textileio/go-walletsync/pkg/metrics"
	"github.com/textileio/go-walletsync/pkg/nodestatus"
	"github.com/textileio/go-walletsync/pkg/session"
	txstoreimpl "github.com/textileio/go-walletsync/pkg/txstore/impl"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, dirPath := setupConfig()
	if err := logging.SetupLogger(buildinfo.GitCommit, cfg.Log.Level, cfg.Log.Human); err != nil {
		log.Fatal().Err(err).Msg("setting up logger")
	}
	d, err := cfg.durations()
	if err != nil {
		log.Fatal().Err(err).Msg("parsing configuration")
	}

	metricsServer, err := metrics.SetupInstrumentation(":"+cfg.Metrics.Port, "walletd")
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Metrics.Port).Msg("could not setup instrumentation")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	// Database.
	dbPath := path.Join(dirPath, "wallet.db")
	if cfg.Backup.RestoreFrom != "" {
		restoreDatabase(ctx, cfg.Backup.RestoreFrom, dbPath)
	}
	sqliteDB, err := database.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("opening database")
	}
	if err := metrics.RegisterFileSizeGauge("walletsync.database.size", dbPath); err != nil {
		log.Fatal().Err(err).Msg("registering database size gauge")
	}
	store, err := txstoreimpl.NewInstrumentedTxStore(txstoreimpl.NewTxStore(sqliteDB))
	if err != nil {
		log.Fatal().Err(err).Msg("instrumenting transaction store")
	}

	// Chain reader.
	ethReader, closeReader, err := chainreaderimpl.Dial(ctx, cfg.Chain.Endpoint, cfg.Chain.ChainID)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", cfg.Chain.Endpoint).Msg("failed to connect to ethereum endpoint")
	}
	throttledReader, err := chainreaderimpl.NewThrottledChainReader(ethReader, cfg.Chain.MaxCallsPerSecond, time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("creating throttled chain reader")
	}
	reader, err := chainreaderimpl.NewInstrumentedChainReader(throttledReader)
	if err != nil {
		log.Fatal().Err(err).Msg("instrumenting chain reader")
	}

	// Sync sessions.
	engine, err := blocksyncimpl.New(
		reader,
		store,
		blocksync.WithReorgOverlap(cfg.Sync.ReorgOverlap),
		blocksync.WithMinBlockDepth(cfg.Sync.MinBlockDepth),
		blocksync.WithFetchConcurrency(cfg.Sync.FetchConcurrency),
		blocksync.WithFetchTimeout(d.fetchTimeout),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("creating sync engine")
	}
	manager, err := session.NewManager(
		engine,
		store,
		reader,
		session.WithSyncInterval(d.syncInterval),
		session.WithPendingTTL(d.pendingTTL),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("creating session manager")
	}
	restored, err := manager.RestoreSessions(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("restoring sessions")
	}
	log.Info().Int("wallets", restored).Msg("sessions restored")
	for _, address := range cfg.wallets() {
		if _, err := manager.StartSession(ctx, address); err != nil {
			log.Fatal().Err(err).Str("address", address).Msg("starting session")
		}
	}

	var wg sync.WaitGroup

	// Node status.
	monitor, err := nodestatus.NewMonitor(reader, store, d.pollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("creating node status monitor")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	// Backups.
	var scheduler *backup.Scheduler
	if cfg.Backup.Enabled {
		backuper, err := backup.NewBackuper(
			dbPath,
			path.Join(dirPath, cfg.Backup.Dir),
			backup.WithVacuum(cfg.Backup.EnableVacuum),
			backup.WithCompression(cfg.Backup.EnableCompression),
			backup.WithPruning(cfg.Backup.Pruning.Enabled, cfg.Backup.Pruning.KeepFiles),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("creating backuper")
		}
		scheduler = backup.NewScheduler(d.backupFrequency, backuper, false)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run()
		}()
	}

	// HTTP API.
	r, err := router.ConfiguredRouter(manager, monitor, router.RateLimit{
		MaxRPI:     cfg.HTTP.MaxRequestPerInterval,
		Interval:   d.rateLimInterval,
		SyncMaxRPI: cfg.HTTP.SyncMaxRequestPerInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configuring router")
	}
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("serving http api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("port", cfg.HTTP.Port).Msg("could not start server")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cls := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cls()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutting down http server")
	}
	manager.Close()
	if scheduler != nil {
		scheduler.Shutdown()
	}
	wg.Wait()
	if err := throttledReader.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("closing chain reader limiter")
	}
	closeReader()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("closing transaction store")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutting down metrics server")
	}

	log.Info().Msg("daemon closed")
}

func restoreDatabase(ctx context.Context, src string, dbPath string) {
	if _, err := os.Stat(dbPath); err == nil {
		log.Info().Str("path", dbPath).Msg("database exists, skipping restore")
		return
	}

	log.Info().Str("from", src).Msg("restoring database from backup")
	if err := restorer.NewBackupRestorer(src, dbPath).Restore(ctx); err != nil {
		log.Fatal().Err(err).Str("from", src).Msg("restoring database")
	}
}
