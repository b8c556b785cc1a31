// Gray Logic Hub - IoT Device Server
//
// This is the main entry point for the Gray Logic Hub. The hub mediates
// networked devices owned by users: three-stage authentication, domain
// membership and authorization, telemetry and image publishing, and an
// in-memory registry persisted to flat snapshot files.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-hub/migrations"

	"github.com/nerrad567/gray-logic-hub/internal/history"
	"github.com/nerrad567/gray-logic-hub/internal/imagestore"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/registry"
	"github.com/nerrad567/gray-logic-hub/internal/server"
	"github.com/nerrad567/gray-logic-hub/internal/snapshot"
	"github.com/nerrad567/gray-logic-hub/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Restore the registry from the last snapshot
	reg := registry.New()
	store, err := snapshot.NewStore(cfg.Hub.DataDir)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	state, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	reg.Restore(state)
	users, domains, devices := reg.Counts()
	log.Info("registry restored",
		"users", users,
		"domains", domains,
		"devices", devices,
	)

	// Per-device image store
	images, err := imagestore.New(filepath.Join(cfg.Hub.DataDir, "images"))
	if err != nil {
		return fmt.Errorf("opening image store: %w", err)
	}

	// Trusted client reference; unreadable is fatal before accepting
	attest, err := server.LoadAttestationRef(cfg.Hub.AttestationFile)
	if err != nil {
		return fmt.Errorf("loading attestation reference: %w", err)
	}
	log.Info("attestation reference loaded", "name", attest.Name, "size", attest.Size)

	// Telemetry fan-out: history always, broker and time-series if enabled
	recorder := telemetry.NewRecorder(history.NewRepository(db.DB))
	recorder.SetLogger(log)

	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		recorder.SetPublisher(mqttClient)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		recorder.SetPointWriter(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Snapshot scheduler
	scheduler := snapshot.NewScheduler(reg, store,
		time.Duration(cfg.Hub.SnapshotInterval)*time.Second,
		time.Duration(cfg.Hub.SnapshotInitialDelay)*time.Second,
	)
	scheduler.SetLogger(log)
	scheduler.Start()
	log.Info("snapshot scheduler started",
		"interval_s", cfg.Hub.SnapshotInterval,
		"dir", store.Dir(),
	)

	// TCP front end
	addr := net.JoinHostPort(cfg.Hub.Host, strconv.Itoa(cfg.Hub.Port))
	srv := server.New(addr, reg, images, attest, log)
	srv.SetTelemetry(recorder)
	srv.SetReadingSource(history.NewRepository(db.DB))
	if err := srv.Start(); err != nil {
		scheduler.Stop(time.Duration(cfg.Hub.ShutdownWait) * time.Second)
		return fmt.Errorf("starting server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Ordering: stop handlers first, then the scheduler, then force one
	// final snapshot so the last state always reaches disk.
	wait := time.Duration(cfg.Hub.ShutdownWait) * time.Second
	if !srv.Stop(wait) {
		log.Warn("server stop timed out")
	}
	if !scheduler.Stop(wait) {
		log.Warn("scheduler stop timed out")
	}
	if err := store.Save(reg.Snapshot()); err != nil {
		log.Error("final snapshot failed", "error", err)
	} else {
		log.Info("final snapshot written")
	}

	log.Info("Gray Logic Hub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
