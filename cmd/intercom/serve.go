package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-intercom/internal/actuator"
	"github.com/nerrad567/gray-logic-intercom/internal/api"
	"github.com/nerrad567/gray-logic-intercom/internal/audit"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-intercom/internal/intercom"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/transport"
	"github.com/nerrad567/gray-logic-intercom/migrations"
)

// Relay drivers selectable with actuator.driver.
const (
	driverGPIO   = "gpio"
	driverMQTT   = "mqtt"
	driverMemory = "memory"
)

// stopTimeout bounds the coordinator shutdown after the signal context
// is already cancelled.
const stopTimeout = 5 * time.Second

// run is the serve lifecycle, separated from main for testability.
//
// Parameters:
//   - ctx: cancelled on SIGINT/SIGTERM
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Gray Logic Intercom",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("station", cfg.Station.ID)
	log.Info("configuration loaded", "path", configPath)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	mappingRepo := dtmf.NewSQLiteRepository(db.DB)
	mappings, err := initialMappings(ctx, mappingRepo, cfg.DTMF)
	if err != nil {
		return err
	}
	history := audit.NewSQLiteRepository(db.DB)

	checks := map[string]api.HealthChecker{"database": db}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := api.NewHub(cfg.WebSocket, log)
	sinks := []intercom.Notifier{
		intercom.NewMetricsSink(registry),
		audit.NewSink(history),
		hub,
	}

	var (
		mqttClient *mqtt.Client
		relayPub   actuator.Publisher
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Station.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		topics := mqttClient.Topics()
		sinks = append(sinks, intercom.NewMQTTSink(mqttClient, func(t intercom.EventType) string {
			return topics.Event(string(t))
		}, byte(cfg.MQTT.QoS)))
		relayPub = mqttClient
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		sinks = append(sinks, intercom.NewTelemetrySink(influxClient))
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	door, light, err := openRelays(cfg.Actuator, relayPub, mqtt.Topics{Station: cfg.Station.ID}, byte(cfg.MQTT.QoS))
	if err != nil {
		return fmt.Errorf("opening relays: %w", err)
	}
	defer releaseRelays(log, door, light)
	log.Info("relays ready", "driver", cfg.Actuator.Driver)

	server := net.JoinHostPort(cfg.SIP.Server.Host, strconv.Itoa(cfg.SIP.Server.Port))
	udp, err := transport.Dial(server, cfg.SIP.LocalPort)
	if err != nil {
		return fmt.Errorf("opening SIP transport: %w", err)
	}
	udp.SetLogger(log)
	log.Info("SIP transport bound", "local", udp.LocalAddr(), "server", server)

	coordinator, err := intercom.New(coordinatorConfig(cfg, mappings), intercom.Deps{
		Transport: udp,
		Door:      door,
		Light:     light,
		Store:     mappingRepo,
		Notifiers: sinks,
		Logger:    log,
	})
	if err != nil {
		//nolint:errcheck // the coordinator never took ownership
		udp.Close()
		return fmt.Errorf("creating coordinator: %w", err)
	}
	if err := coordinator.Start(ctx); err != nil {
		//nolint:errcheck // Stop closes the transport
		coordinator.Stop(context.Background())
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if stopErr := coordinator.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping coordinator", "error", stopErr)
		}
	}()

	if mqttClient != nil {
		topics := mqttClient.Topics()
		if err := mqttClient.Subscribe(topics.AllCommands(), byte(cfg.MQTT.QoS), func(topic string, payload []byte) error {
			name, ok := topics.CommandName(topic)
			if !ok {
				return fmt.Errorf("unexpected command topic %q", topic)
			}
			return coordinator.HandleCommand(ctx, name, payload)
		}); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Controller: coordinator,
		History:    history,
		Hub:        hub,
		Gatherer:   registry,
		Checks:     checks,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, coordinator, relays, InfluxDB,
	// MQTT, database.
	return nil
}

// mappingLoader reads the persisted tone table.
type mappingLoader interface {
	Load(ctx context.Context) ([]dtmf.Mapping, error)
}

// initialMappings picks the boot tone table: the stored table wins over
// the config file, and an empty config falls back to the defaults (nil).
func initialMappings(ctx context.Context, store mappingLoader, cfg config.DTMFConfig) ([]dtmf.Mapping, error) {
	stored, err := store.Load(ctx)
	switch {
	case err == nil:
		return stored, nil
	case !errors.Is(err, dtmf.ErrNoStoredMappings):
		return nil, fmt.Errorf("loading dtmf mappings: %w", err)
	}

	if len(cfg.Mappings) == 0 {
		return nil, nil
	}
	mappings := make([]dtmf.Mapping, 0, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		mappings = append(mappings, dtmf.Mapping{
			Tone:    m.Tone,
			Command: dtmf.Command(m.Command),
			Param:   m.Param,
			Enabled: m.Enabled,
		})
	}
	return mappings, nil
}

// coordinatorConfig translates the YAML configuration.
func coordinatorConfig(cfg *config.Config, mappings []dtmf.Mapping) intercom.Config {
	return intercom.Config{
		Station: cfg.Station.ID,
		Credentials: digest.Credentials{
			Username: cfg.SIP.Username,
			Domain:   cfg.SIP.Domain,
			Password: cfg.SIP.Password,
		},
		Callee:           cfg.SIP.Callee,
		UserAgent:        cfg.SIP.UserAgent,
		Expires:          cfg.SIP.Expires,
		RegisterInterval: cfg.SIP.RegisterIntervalDuration(),
		RegisterTimeout:  cfg.SIP.RegisterTimeoutDuration(),
		CallTimeout:      cfg.SIP.CallTimeoutDuration(),
		LockTimeout:      cfg.Coordinator.LockTimeout(),
		EventBuffer:      cfg.Coordinator.EventBuffer,
		Mappings:         mappings,
		DTMFDisabled:     !cfg.DTMF.Enabled,
		Actuator: actuator.Config{
			DoorPulse:       cfg.Actuator.DoorPulse(),
			Cooldown:        cfg.Actuator.Cooldown(),
			AutoHangup:      cfg.Actuator.AutoHangup.Enabled,
			AutoHangupDelay: cfg.Actuator.AutoHangupDelay(),
		},
	}
}

// openRelays builds the door and light relays for the configured driver.
//
// Parameters:
//   - cfg: actuator section of the config
//   - pub: MQTT publisher; nil when MQTT is disabled
//   - topics: station topics used by the mqtt driver
//   - qos: MQTT quality of service for relay commands
//
// Returns:
//   - door, light: ready relays, released
//   - error: unknown driver, missing pin, or mqtt driver without MQTT
func openRelays(cfg config.ActuatorConfig, pub actuator.Publisher, topics mqtt.Topics, qos byte) (door, light actuator.Relay, err error) {
	switch strings.ToLower(cfg.Driver) {
	case driverMemory, "":
		return actuator.NewMemoryRelay(), actuator.NewMemoryRelay(), nil

	case driverMQTT:
		if pub == nil {
			return nil, nil, fmt.Errorf("actuator driver %q requires mqtt.enabled", driverMQTT)
		}
		return actuator.NewMQTTRelay(pub, topics.RelaySet(cfg.Door.Address), qos),
			actuator.NewMQTTRelay(pub, topics.RelaySet(cfg.Light.Address), qos), nil

	case driverGPIO:
		d, err := actuator.OpenGPIORelay(cfg.Door.Pin, cfg.Door.ActiveLow)
		if err != nil {
			return nil, nil, fmt.Errorf("door relay: %w", err)
		}
		l, err := actuator.OpenGPIORelay(cfg.Light.Pin, cfg.Light.ActiveLow)
		if err != nil {
			//nolint:errcheck // already failing
			d.Release()
			return nil, nil, fmt.Errorf("light relay: %w", err)
		}
		return d, l, nil

	default:
		return nil, nil, fmt.Errorf("unknown actuator driver %q", cfg.Driver)
	}
}

// releaseRelays de-energises hardware relays on shutdown.
func releaseRelays(log *logging.Logger, relays ...actuator.Relay) {
	for _, r := range relays {
		rel, ok := r.(interface{ Release() error })
		if !ok {
			continue
		}
		if err := rel.Release(); err != nil {
			log.Error("error releasing relay", "error", err)
		}
	}
}
