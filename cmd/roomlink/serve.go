package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/roomlink/internal/api"
	"github.com/nerrad567/roomlink/internal/bridges/broker"
	"github.com/nerrad567/roomlink/internal/driver"
	"github.com/nerrad567/roomlink/internal/driver/gpio"
	"github.com/nerrad567/roomlink/internal/gateway"
	"github.com/nerrad567/roomlink/internal/infrastructure/config"
	"github.com/nerrad567/roomlink/internal/infrastructure/database"
	"github.com/nerrad567/roomlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/roomlink/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/roomlink/internal/peer"
	"github.com/nerrad567/roomlink/internal/room"
	"github.com/nerrad567/roomlink/internal/telemetry"
	"github.com/nerrad567/roomlink/migrations"
)

func newServeCommand() *cobra.Command {
	var cfgFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath(cfgFlag))
		},
	}
	cmd.Flags().StringVarP(&cfgFlag, "config", "c", "", "config file (default $ROOMLINK_CONFIG or "+defaultConfigPath+")")
	return cmd
}

// serve wires every component and blocks until ctx is cancelled or a
// component fails. Deferred closes run in reverse order of opening.
func serve(ctx context.Context, path string) error {
	log := logging.Default()
	log.Info("starting RoomLink", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version).With("node", cfg.Node.Name)
	log.Info("configuration loaded", "path", path)

	id := gateway.Identity{
		Name:      cfg.Node.Name,
		Addresses: advertisedAddresses(cfg, log),
		Auth:      cfg.Node.AuthToken,
	}

	reg := room.NewRegistry()
	reg.SetLogger(log)

	// Peer snapshots
	var db *database.DB
	var store peer.Store = peer.NewMemoryStore()
	if cfg.Downlink.Store == "sqlite" {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		store = peer.NewSQLiteStore(db.DB)
		log.Info("peer store ready", "store", "sqlite", "path", cfg.Database.Path)
	}
	var mirror *peer.Mirror
	if cfg.Downlink.Mirror {
		mirror = peer.NewMirror(reg, cfg.Downlink.MirrorPrefix, log)
	}
	receiver := peer.NewReceiver(store, mirror, log)

	// Drivers
	pins, err := gpio.New(cfg.GPIO.Backend, cfg.GPIO.SysfsRoot)
	if err != nil {
		return err
	}
	drivers, err := driver.Build(driver.Env{
		GPIO:      pins,
		Logger:    log,
		Addresses: func() []string { return id.Addresses },
	}, cfg.Drivers)
	if err != nil {
		return fmt.Errorf("building drivers: %w", err)
	}
	defer func() {
		for _, d := range drivers {
			if closeErr := d.Close(); closeErr != nil {
				log.Error("error closing driver", "error", closeErr)
			}
		}
	}()
	if err := driver.Attach(reg, drivers); err != nil {
		return err
	}
	log.Info("drivers attached", "drivers", len(drivers), "objects", reg.Len(), "gpio", cfg.GPIO.Backend)

	// Hub synchronisation
	var hub *gateway.Client
	if cfg.Gateway.Hub != "" {
		hub = gateway.NewClient(cfg.Gateway.Hub, cfg.RequestTimeout())
	} else {
		log.Info("no hub configured, uplink and forwarding disabled")
	}
	forwarder := gateway.NewForwarder(gateway.ForwarderDeps{
		Client:    hub,
		Identity:  id,
		QueueSize: cfg.Gateway.ForwardQueue,
		Workers:   cfg.Gateway.ForwardWorkers,
		Logger:    log,
	})
	uplink := gateway.NewUplink(gateway.UplinkDeps{
		Registry:  reg,
		Client:    hub,
		Forwarder: forwarder,
		Identity:  id,
		Interval:  cfg.UplinkInterval(),
		Logger:    log,
	})

	// MQTT (optional)
	var mqttClient *mqtt.Client
	var bridge *broker.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Node.Name)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		bridge, err = broker.New(broker.Deps{
			Client:   mqttClient,
			Topics:   mqttClient.Topics(),
			Registry: reg,
			Interval: cfg.UplinkInterval(),
			QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated 0..2
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		log.Info("MQTT bridge ready",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", cfg.MQTT.TopicPrefix,
		)
	}

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	var recorder *telemetry.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

		recorder, err = telemetry.New(telemetry.Deps{
			Writer:   influxClient,
			Registry: reg,
			Node:     cfg.Node.Name,
			Interval: cfg.TelemetryInterval(),
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("creating telemetry recorder: %w", err)
		}
		log.Info("telemetry enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Gateway:   cfg.Gateway,
		Logger:    log,
		Registry:  reg,
		Identity:  id,
		Peers:     receiver,
		Uplink:    uplink,
		Forwarder: forwarder,
		MQTT:      mqttClient,
		DB:        db,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := srv.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	for _, d := range drivers {
		g.Go(func() error { return d.Run(gctx) })
	}
	g.Go(func() error { return forwarder.Run(gctx) })
	g.Go(func() error { return uplink.Run(gctx) })
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}

	log.Info("node running", "objects", reg.Len(), "addresses", id.Addresses)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("RoomLink stopped")
	return nil
}

// advertisedAddresses returns gateway.advertise when set and the
// discovered interface addresses otherwise.
func advertisedAddresses(cfg *config.Config, log *logging.Logger) []string {
	if len(cfg.Gateway.Advertise) > 0 {
		return cfg.Gateway.Advertise
	}
	addrs, err := gateway.LocalAddresses(cfg.Gateway.IncludePrivateBridges)
	if err != nil {
		log.Warn("address discovery failed", "error", err)
		return []string{}
	}
	return addrs
}

// healthCheck verifies the optional infrastructure connections.
// Nil collaborators are skipped.
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
