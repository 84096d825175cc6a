package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/atagone-core/internal/api"
	"github.com/nerrad567/atagone-core/internal/atagone"
	"github.com/nerrad567/atagone-core/internal/bridge"
	"github.com/nerrad567/atagone-core/internal/homekit"
	"github.com/nerrad567/atagone-core/internal/infrastructure/config"
	"github.com/nerrad567/atagone-core/internal/infrastructure/database"
	"github.com/nerrad567/atagone-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/atagone-core/internal/infrastructure/logging"
	"github.com/nerrad567/atagone-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/atagone-core/migrations"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
}

// run is the service, separated from the command for testability.
//
// Components start in dependency order and are closed by deferred calls in
// reverse order once ctx is cancelled.
func run(ctx context.Context, opts *options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Atag One Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	path, _ := opts.getConfigPath()
	log.Info("configuration loaded", "path", path)

	// Reinitialise logger with config settings
	log = newLogger(cfg)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Endpoint store
	store, db, err := openEndpointStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	}

	dev, err := newDevice(ctx, cfg, store, log)
	if err != nil {
		return err
	}

	// Sinks are registered before the poller starts.
	metrics := api.NewMetrics()
	poller := bridge.NewPoller(dev, bridge.PollerOptions{
		Interval: cfg.Device.GetPollInterval(),
		Timeout:  cfg.Device.GetHTTPTimeout(),
		Logger:   log.With("component", "poller"),
	}, metrics)

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		poller.AddSink(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT bridge (optional)
	var br *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, log.With("component", "mqtt"))
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		br, err = startBridge(ctx, cfg, dev, mqttClient, poller, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			br.Stop()
		}()
		poller.AddSink(br)
	} else {
		log.Info("MQTT bridge disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, apiErr := startAPI(ctx, cfg, dev, metrics, br, poller, log)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		poller.AddSink(srv.Hub())
	} else {
		log.Info("HTTP API disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	// HomeKit (optional)
	if cfg.HomeKit.Enabled {
		thermostat := homekit.NewThermostat(dev, homekit.Options{
			Name:        cfg.HomeKit.Name,
			Pin:         cfg.HomeKit.Pin,
			StoragePath: cfg.HomeKit.StoragePath,
			Port:        cfg.HomeKit.Port,
			Version:     version,
			MinTarget:   cfg.Device.Thermostat.MinTarget,
			MaxTarget:   cfg.Device.Thermostat.MaxTarget,
			Step:        cfg.Device.Thermostat.Step,
			Refresher:   poller,
			Logger:      log.With("component", "homekit"),
		})
		poller.AddSink(thermostat)
		g.Go(func() error {
			if hkErr := thermostat.ListenAndServe(gctx); hkErr != nil && !errors.Is(hkErr, http.ErrServerClosed) && gctx.Err() == nil {
				return fmt.Errorf("homekit: %w", hkErr)
			}
			return nil
		})
	} else {
		log.Info("HomeKit disabled")
	}

	// Discovery applies new endpoints to the device, then tells the poller.
	onDiscoveryError := func(err error) {
		log.Warn("discovery error", "error", err)
	}
	if discErr := dev.StartDiscovery(poller.EndpointChanged, onDiscoveryError); discErr != nil {
		if cfg.Device.IPAddress == "" {
			return fmt.Errorf("starting discovery: %w", discErr)
		}
		log.Warn("discovery unavailable, using configured address", "error", discErr)
	} else {
		defer func() {
			log.Info("stopping discovery")
			if stopErr := dev.StopDiscovery(); stopErr != nil {
				log.Error("error stopping discovery", "error", stopErr)
			}
		}()
		log.Info("discovery listening", "addr", dev.DiscoveryAddr())
	}

	g.Go(func() error {
		return poller.Run(gctx)
	})

	log.Info("initialisation complete, waiting for shutdown signal",
		"endpoint", dev.Endpoint().String(),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("Atag One Core stopped")
	return nil
}

// openEndpointStore returns the configured endpoint store. The sqlite
// backend also returns the open database for the caller to close.
func openEndpointStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (atagone.EndpointStore, *database.DB, error) {
	if cfg.Device.EndpointStore.Backend != config.StoreBackendSQLite {
		log.Info("endpoint store", "backend", config.StoreBackendFile, "path", cfg.Device.EndpointStore.Path)
		return atagone.NewFileStore(cfg.Device.EndpointStore.Path), nil, nil
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("endpoint store", "backend", config.StoreBackendSQLite, "path", db.Path())
	return atagone.NewSQLStore(db), db, nil
}

// newDevice builds the device facade from configuration.
func newDevice(ctx context.Context, cfg *config.Config, store atagone.EndpointStore, log *logging.Logger) (*atagone.Device, error) {
	var ep atagone.Endpoint
	if cfg.Device.IPAddress != "" {
		ep = atagone.EndpointForHost(cfg.Device.IPAddress)
	}

	dev, err := atagone.New(ctx, atagone.Options{
		Endpoint:        ep,
		Store:           store,
		PersistEndpoint: cfg.Device.CacheEndpoint,
		HTTPClient:      &http.Client{Timeout: cfg.Device.GetHTTPTimeout()},
		CacheWindow:     cfg.Device.GetCacheWindow(),
		DiscoveryAddr:   cfg.Device.DiscoveryAddress,
		Logger:          log.With("component", "device"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating device: %w", err)
	}
	return dev, nil
}

func startBridge(ctx context.Context, cfg *config.Config, dev *atagone.Device, client *mqtt.Client, poller *bridge.Poller, log *logging.Logger) (*bridge.Bridge, error) {
	br, err := bridge.New(bridge.Options{
		BridgeID:       cfg.MQTT.Broker.ClientID,
		Version:        version,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // Validated 0-2
		HealthInterval: cfg.MQTT.GetHealthInterval(),
		CommandTimeout: cfg.Device.GetHTTPTimeout(),
		MinTarget:      cfg.Device.Thermostat.MinTarget,
		MaxTarget:      cfg.Device.Thermostat.MaxTarget,
		Device:         dev,
		MQTT:           client,
		Poller:         poller,
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := br.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started", "bridge_id", cfg.MQTT.Broker.ClientID)
	return br, nil
}

func startAPI(ctx context.Context, cfg *config.Config, dev *atagone.Device, metrics *api.Metrics,
	br *bridge.Bridge, poller *bridge.Poller, log *logging.Logger) (*api.Server, error) {
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Thermostat: cfg.Device.Thermostat,
		Logger:     log.With("component", "api"),
		Device:     dev,
		Metrics:    metrics,
		Refresher:  poller,
		Version:    version,
	}
	if br != nil {
		deps.Health = br
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server listening", "addr", srv.Addr())
	return srv, nil
}
