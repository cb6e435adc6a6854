package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MKhiriev/go-record-sync/internal/adapter"
	"github.com/MKhiriev/go-record-sync/internal/config"
	"github.com/MKhiriev/go-record-sync/internal/crypto"
	"github.com/MKhiriev/go-record-sync/internal/logger"
	"github.com/MKhiriev/go-record-sync/internal/records"
	"github.com/MKhiriev/go-record-sync/internal/service"
	"github.com/MKhiriev/go-record-sync/internal/store"
	"github.com/MKhiriev/go-record-sync/internal/workers"
	"github.com/MKhiriev/go-record-sync/migrations"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

// credentialLeeway is how far ahead of expiry the worker warns about the
// storage credential.
const credentialLeeway = 5 * time.Minute

func main() {
	printBuildInfo()

	log := logger.NewLogger("syncd")
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}
	if cfg.App.LogToFile {
		log = logger.NewFileLogger("syncd")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewConnectSQLite(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect local database")
	}
	defer db.Close()

	if err = migrations.Migrate(db.DB); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	storages := store.NewStorages(db, log)
	if err = provisionStorageKey(ctx, cfg.App.StorageKey, storages.StateRepository); err != nil {
		log.Fatal().Err(err).Msg("provision storage key")
	}

	transport := adapter.NewHTTPTransport(adapter.HTTPTransportConfig{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.RequestTimeout,
	})

	cipher := crypto.NewRecordCipher()
	registry := records.NewRegistry()

	builder := service.NewManifestBuilder(storages.EntityRepository, storages.StateRepository, registry, cfg.App.DeviceID, log)
	coordinator := service.NewUploadCoordinator(transport, cipher, storages.StateRepository, log)
	fetcher := service.NewRecordFetcher(transport, cipher, cfg.Sync.MaxReadKeys, cfg.Sync.FetchConcurrency, log)
	merger := service.NewRecordMerger(registry, storages.EntityRepository, cipher, cfg.Sync.MergeConcurrency, log)

	orchestrator := service.NewSyncOrchestrator(transport, cipher, builder, coordinator, fetcher, merger, storages.EntityRepository, storages.StateRepository, log)
	orchestrator.OnKeyStale(func() {
		log.Warn().Msg("storage key rejected by remote records, waiting for re-provisioning")
	})
	orchestrator.OnProfileFetch(func(ids []string) {
		log.Info().Strs("ids", ids).Msg("profile refresh requested for merged contacts")
	})

	scheduler := service.NewScheduler(orchestrator, coordinator, builder, registry, storages.EntityRepository, storages.StateRepository, cfg.Sync.Debounce, log)

	worker := workers.NewSyncWorker(scheduler, log)
	worker.WatchCredentials(transport, credentialLeeway, func() {
		log.Warn().Msg("storage credential expiring soon, rotation required")
	})
	worker.Start(ctx, cfg.Sync.Interval)
	defer worker.Stop()

	// One immediate pass on startup so a fresh device converges without
	// waiting a full interval.
	scheduler.Trigger("startup")

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

// provisionStorageKey stores the configured account key if one was given.
// An empty setting leaves whatever key the state table already holds,
// including none at all; sync jobs then no-op until a key arrives.
func provisionStorageKey(ctx context.Context, encoded string, state store.StateRepository) error {
	if encoded == "" {
		return nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode storage key: %w", err)
	}
	return state.SetStorageKey(ctx, key)
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
