// Meterpoll - energy meter polling engine
//
// meterpoll reads power meters over Modbus/TCP in a continuous loop and
// serves the latest readings over HTTP, WebSocket and (optionally) MQTT.
// Which meters and registers are read comes from a configuration source:
// a CSV directory, an .xlsx workbook or the SQLite tables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/meterpoll/internal/api"
	"github.com/nerrad567/meterpoll/internal/command"
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/history"
	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/infrastructure/database"
	"github.com/nerrad567/meterpoll/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterpoll/internal/infrastructure/logging"
	"github.com/nerrad567/meterpoll/internal/infrastructure/mqtt"
	"github.com/nerrad567/meterpoll/internal/poller"
	"github.com/nerrad567/meterpoll/internal/relay"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
	"github.com/nerrad567/meterpoll/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting meterpoll",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// SQLite configuration source (optional)
	var (
		db    *database.DB
		fixed []source.Source
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", cfg.Database.Path)
		fixed = append(fixed, source.NewSQLite(db))
	}

	sources, err := source.NewSelector(cfg.Sources.Directory, cfg.Sources.Default, fixed...)
	if err != nil {
		// The first source found stays selected.
		log.Warn("default source unavailable", "source", cfg.Sources.Default, "error", err)
	}
	sources.SetLogger(log.Component("sources"))
	log.Info("configuration sources found", "count", len(sources.List()), "active", sources.ActiveID())

	reader := fieldbus.NewReader(fieldbus.ModbusDialer{})
	reader.SetSimulator(fieldbus.NewSimulatedDialer(uint64(time.Now().UnixNano()))) //nolint:gosec // simulator seed
	reader.SetLogger(log.Component("fieldbus"))

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub is created before the scheduler so it can receive events;
	// the API server attaches the command dispatcher to it.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"), nil)
	publishers := []poller.Publisher{hub}

	var mqttRelay *relay.MQTT
	if mqttClient != nil {
		mqttRelay = relay.NewMQTT(mqttClient, log.Component("relay.mqtt"))
		publishers = append(publishers, mqttRelay)
	}
	if influxClient != nil {
		publishers = append(publishers, relay.NewInflux(influxClient))
	}

	sched, err := poller.New(poller.Deps{
		Reader:    reader,
		Sources:   sources,
		Registry:  utility.NewRegistry(cfg.Poller.Cabinets, cfg.Poller.DefaultPort),
		History:   history.NewStore(cfg.Poller.HistorySize),
		Settings:  settingsLoader(cfg.Poller.SettingsFile),
		Publisher: relay.NewFanout(log.Component("relay"), publishers...),
		Logger:    log.Component("poller"),
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	if mqttRelay != nil {
		if err := mqttRelay.ServeCommands(command.NewDispatcher(sched)); err != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", err)
		}
	}

	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Poller:  sched,
		Hub:     hub,
		Version: version,
	}
	// Typed nils must not reach the interface fields.
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.Influx = influxClient
	}
	if db != nil {
		deps.DB = db
	}

	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	sched.Start(ctx)
	defer func() {
		log.Info("stopping scheduler")
		sched.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("startup health check failed", "error", err)
	}

	log.Info("initialisation complete, polling")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: scheduler, API server, hub,
	// InfluxDB, MQTT, database.
	log.Info("meterpoll stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses METERPOLL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("METERPOLL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the SQLite file and creates the configuration tables.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// settingsLoader re-reads the settings file at the start of every cycle.
func settingsLoader(path string) poller.SettingsLoader {
	return func() (config.Settings, error) {
		return config.LoadSettings(path)
	}
}

// healthCheck verifies the enabled backends. Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
