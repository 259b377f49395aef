package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/nerrad567/gray-logic-dct/internal/api"
	"github.com/nerrad567/gray-logic-dct/internal/bridges/dct"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dct/internal/journal"
	_ "github.com/nerrad567/gray-logic-dct/migrations"
)

const (
	// journalRetention is how long command journal entries are kept.
	journalRetention = 30 * 24 * time.Hour

	// journalPruneInterval is how often expired entries are removed.
	journalPruneInterval = time.Hour
)

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Configuration file to load and persist runtime changes to
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting DCT bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	store, err := config.LoadStore(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := store.Config()
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	journalRepo := journal.NewSQLiteRepository(db.DB)
	journalWriter := journal.NewWriter(journalRepo, journal.WriterOptions{Logger: log})
	defer func() {
		if closeErr := journalWriter.Close(); closeErr != nil {
			log.Error("error closing journal", "error", closeErr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dct_journal_dropped_total",
			Help: "Journal entries dropped because the write queue was full.",
		}, func() float64 { return float64(journalWriter.Dropped()) }),
	)

	dialer := dct.NewWSDialer()
	session, err := dct.NewSession(dct.SessionOptions{
		Settings:  deviceSettings(cfg.Device),
		Dialer:    dialer,
		Scheduler: dct.NewClockScheduler(clock.RealClock{}),
		Logger:    log.With("component", "dct"),
		Journal:   journalWriter,
		Metrics:   dct.NewMetrics(registry),
		Persister: store,
	})
	if err != nil {
		return fmt.Errorf("creating device session: %w", err)
	}

	// The bridge's offline health message doubles as the MQTT will.
	lwt, err := json.Marshal(dct.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding LWT: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(dct.HealthTopic(), lwt))
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

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var samples dct.SampleSink
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		samples = influxSampleSink{client: influxClient}
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := dct.NewBridge(dct.BridgeOptions{
		BridgeID:         cfg.Bridge.ID,
		Version:          version,
		HealthInterval:   cfg.GetHealthInterval(),
		UnusedBufferText: cfg.Device.UnusedBufferText,
		Device:           session,
		MQTTClient:       &mqttBridgeAdapter{client: mqttClient},
		Stats:            dialer,
		Samples:          samples,
		Logger:           log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating DCT bridge: %w", err)
	}

	// The bridge subscribes to session state before the session connects,
	// so the first snapshot reaches MQTT.
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting DCT bridge: %w", err)
	}
	defer func() {
		log.Info("stopping DCT bridge")
		bridge.Stop()
	}()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting device session: %w", err)
	}
	defer session.Stop()
	log.Info("device session started",
		"device", dct.DeviceURL(cfg.Device.Host, cfg.Device.Port),
		"buffers", cfg.Device.Buffers,
	)

	server, err := api.New(api.Deps{
		Config:           cfg.API,
		Logger:           log,
		Device:           session,
		Health:           bridge.Health(),
		Journal:          journalRepo,
		DB:               db,
		Gatherer:         registry,
		UnusedBufferText: cfg.Device.UnusedBufferText,
		Version:          version,
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

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")
	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pruneJournal(gctx, journalRepo, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Deferred calls run in reverse order: API, session, bridge, InfluxDB,
	// MQTT, journal, database.
	log.Info("DCT bridge stopped")
	return nil
}

// deviceSettings maps the device config section onto session settings.
func deviceSettings(d config.DeviceConfig) dct.Settings {
	return dct.Settings{
		Host:                     d.Host,
		Port:                     d.Port,
		Buffers:                  d.Buffers,
		Polling:                  d.Polling,
		PollInterval:             d.PollInterval(),
		SetModes:                 d.SetModes,
		RecordingMode:            d.RecordingMode,
		PlaybackMode:             d.PlaybackMode,
		StopMode:                 d.StopMode,
		Verbose:                  d.Verbose,
		ForceSequentialRecording: d.ForceSequentialRecording,
		RecordIntoEarliest:       d.RecordIntoEarliest,
		UnusedBufferText:         d.UnusedBufferText,
		ReconnectDelay:           d.ReconnectDelay(),
		InFlightTimeout:          d.InFlightTimeout(),
	}
}

// pruneJournal removes expired journal entries once at startup and then
// every journalPruneInterval until ctx ends.
func pruneJournal(ctx context.Context, repo *journal.SQLiteRepository, log *logging.Logger) error {
	ticker := time.NewTicker(journalPruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, journalRetention)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("journal prune failed", "error", err)
		case n > 0:
			log.Info("journal pruned", "removed", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The device link is not checked here: the session reconnects on its
	// own and reports its state through bridge health.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the DCT bridge's
// MQTTClient interface. The primary difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - DCT bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements dct.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements dct.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Bridge handlers report failures through acks, not return values.
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements dct.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// influxSampleSink turns bridge buffer samples into InfluxDB points.
type influxSampleSink struct {
	client *influxdb.Client
}

// WriteBufferSample implements dct.SampleSink.
func (s influxSampleSink) WriteBufferSample(bridgeID string, b dct.Buffer, frameRate float64) {
	s.client.WriteBufferSample(bufferSample(bridgeID, b, frameRate))
}

func bufferSample(bridgeID string, b dct.Buffer, frameRate float64) influxdb.BufferSample {
	return influxdb.BufferSample{
		BridgeID:  bridgeID,
		Buffer:    b.Index,
		Status:    string(b.Status),
		Recorded:  b.Recorded,
		Available: b.Available,
		Pos:       b.Pos,
		Speed:     b.Speed,
		MarkIn:    b.MarkIn,
		MarkOut:   b.MarkOut,
		FrameRate: frameRate,
	}
}
