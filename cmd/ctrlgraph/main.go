// ctrlgraph - GraphQL bridge for distributed instrument control buses.
//
// ctrlgraph exposes devices on a control bus (typed attributes, commands,
// change events) through a GraphQL API with WebSocket subscriptions,
// fronted by token authentication against an external session store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/openctl/ctrlgraph/migrations"

	"github.com/openctl/ctrlgraph/internal/api"
	"github.com/openctl/ctrlgraph/internal/audit"
	"github.com/openctl/ctrlgraph/internal/bus/mqttbus"
	"github.com/openctl/ctrlgraph/internal/gateway"
	"github.com/openctl/ctrlgraph/internal/graph"
	"github.com/openctl/ctrlgraph/internal/hub"
	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
	"github.com/openctl/ctrlgraph/internal/infrastructure/database"
	"github.com/openctl/ctrlgraph/internal/infrastructure/logging"
	"github.com/openctl/ctrlgraph/internal/infrastructure/telemetry"
	"github.com/openctl/ctrlgraph/internal/registry"
	"github.com/openctl/ctrlgraph/internal/session"
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
	log.Info("starting ctrlgraph",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	health := make(map[string]api.HealthChecker)

	// Audit trail (optional)
	var auditRepo *audit.Repository
	if cfg.Audit.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.Audit.Path,
			WALMode:     cfg.Audit.WALMode,
			BusyTimeout: cfg.Audit.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening audit database: %w", openErr)
		}
		defer func() {
			log.Info("closing audit database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing audit database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("audit database ready", "path", cfg.Audit.Path)

		auditRepo = audit.NewRepository(db.DB)
		health["audit"] = db
	} else {
		log.Info("audit trail disabled")
	}

	// Session store
	store := session.NewRedisStore(cfg.Session)
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing session store", "error", closeErr)
		}
	}()
	if err := store.HealthCheck(ctx); err != nil {
		// The bridge still starts: requests fail 503 until Redis returns.
		log.Warn("session store unreachable at startup", "error", err)
	} else {
		log.Info("session store connected", "addr", cfg.Session.StoreAddr)
	}
	health["session_store"] = store
	guard := session.NewGuard(store)

	// Control bus connection
	busClient, err := mqttbus.Connect(cfg.Bus)
	if err != nil {
		return fmt.Errorf("connecting to control bus: %w", err)
	}
	defer func() {
		log.Info("disconnecting from control bus")
		if closeErr := busClient.Close(); closeErr != nil {
			log.Error("error closing bus connection", "error", closeErr)
		}
	}()
	busClient.SetLogger(log)
	log.Info("control bus connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Bus.Broker.Host, cfg.Bus.Broker.Port),
		"client_id", cfg.Bus.Broker.ClientID,
	)
	health["bus"] = busClient

	dialer, err := mqttbus.NewDialer(busClient, cfg.Bus)
	if err != nil {
		return fmt.Errorf("creating bus dialer: %w", err)
	}
	defer func() {
		if closeErr := dialer.Close(); closeErr != nil {
			log.Error("error closing bus dialer", "error", closeErr)
		}
	}()

	// Device registry
	reg := registry.New(dialer, registry.Config{
		MaxAttempts:    cfg.Registry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Registry.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Registry.MaxBackoff) * time.Millisecond,
		IdleTTL:        time.Duration(cfg.Registry.IdleTTL) * time.Second,
	})
	reg.SetLogger(log)
	go reg.Run(ctx)
	defer func() {
		if closeErr := reg.Close(); closeErr != nil {
			log.Error("error closing registry", "error", closeErr)
		}
	}()

	// Gateway
	gw := gateway.New(gateway.Config{
		CallTimeout:      time.Duration(cfg.Gateway.CallTimeout) * time.Second,
		TransientRetries: cfg.Gateway.TransientRetries,
	})
	gw.SetLogger(log)
	gw.SetFaultReporter(reg)

	// Event hub
	eventHub := hub.New(reg, hub.Config{
		SubscriberBuffer:   cfg.Hub.SubscriberBuffer,
		ReregisterAttempts: cfg.Hub.ReregisterAttempts,
		ReregisterBackoff:  time.Duration(cfg.Hub.ReregisterBackoff) * time.Millisecond,
	})
	eventHub.SetLogger(log)
	defer func() {
		log.Info("closing event hub")
		if closeErr := eventHub.Close(); closeErr != nil {
			log.Error("error closing event hub", "error", closeErr)
		}
	}()

	// Telemetry sink (optional)
	if cfg.Telemetry.Enabled {
		sink, connErr := telemetry.Connect(cfg.Telemetry)
		if connErr != nil {
			return fmt.Errorf("connecting telemetry sink: %w", connErr)
		}
		defer func() {
			log.Info("closing telemetry sink")
			if closeErr := sink.Close(); closeErr != nil {
				log.Error("error closing telemetry sink", "error", closeErr)
			}
		}()
		sink.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
		eventHub.SetTap(sink)
		health["telemetry"] = sink
		log.Info("telemetry sink connected",
			"url", cfg.Telemetry.URL,
			"bucket", cfg.Telemetry.Bucket,
		)
	} else {
		log.Info("telemetry disabled")
	}

	// GraphQL schema
	var recorder audit.Recorder
	if auditRepo != nil {
		recorder = auditRepo
	}
	schema, err := graph.New(graph.Deps{
		Registry: reg,
		Gateway:  gw,
		Hub:      eventHub,
		Dialer:   dialer,
		Audit:    recorder,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("building schema: %w", err)
	}

	// API server
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Schema:  schema,
		Guard:   guard,
		Audit:   auditRepo,
		Health:  health,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, telemetry, hub, registry, dialer, bus, store, database.

	log.Info("ctrlgraph stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CTRLGRAPH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CTRLGRAPH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
