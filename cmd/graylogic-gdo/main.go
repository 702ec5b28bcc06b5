// Gray Logic GDO - Ryobi garage door opener bridge
//
// This is the main entry point for the garage door bridge. It keeps a live
// session with the vendor cloud, mirrors the opener's state, and exposes it
// to Gray Logic Core over MQTT and to local clients over HTTP/WebSocket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-gdo/internal/api"
	"github.com/nerrad567/gray-logic-gdo/internal/bridges/ryobi"
	"github.com/nerrad567/gray-logic-gdo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gdo/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gdo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gdo/internal/infrastructure/mqtt"
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

// prepareTimeout bounds login and device resolution at startup.
const prepareTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic GDO bridge",
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

	// Cloud account: login and device resolution
	cloud, err := ryobi.NewCloudClient(ryobi.CloudConfig{
		BaseURL:    cfg.Ryobi.APIURL,
		Username:   cfg.Ryobi.Username,
		Password:   cfg.Ryobi.Password,
		HTTPClient: &http.Client{Timeout: cfg.GetHTTPTimeout()},
	})
	if err != nil {
		return fmt.Errorf("creating cloud client: %w", err)
	}

	prepCtx, prepCancel := context.WithTimeout(ctx, prepareTimeout)
	sessionCfg, err := ryobi.PrepareSession(prepCtx, cloud, sessionConfig(cfg))
	prepCancel()
	if err != nil {
		return fmt.Errorf("preparing session: %w", err)
	}
	log.Info("device resolved", "device_id", sessionCfg.DeviceID)

	session, err := ryobi.NewSession(sessionCfg)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	session.SetLogger(log.Component("session"))

	controller, err := ryobi.NewController(ryobi.ControllerOptions{
		DeviceID:  sessionCfg.DeviceID,
		Transport: session,
		Snapshots: cloud,
		Logger:    log.Component("controller"),
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	// Connect to InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		controller.AddObserver(ryobi.RecordHistory(influxClient, sessionCfg.DeviceID))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT and start the bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var bridge *ryobi.Bridge
		mqttClient, bridge, err = startBridge(ctx, cfg, sessionCfg, controller, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer func() {
			log.Info("stopping bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Start the local API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Controller: controller,
			Version:    version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Seed the model and run the live session until shutdown.
	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- controller.Start(ctx)
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		controller.Stop()
		<-sessionDone
	case err := <-sessionDone:
		// Run reports ctx.Err() when shutdown races the select.
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("session ended: %w", err)
		}
	}

	log.Info("Gray Logic GDO bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_GDO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_GDO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// sessionConfig maps the loaded config onto live session settings.
func sessionConfig(cfg *config.Config) ryobi.SessionConfig {
	return ryobi.SessionConfig{
		URL:           cfg.Ryobi.WSURL,
		Username:      cfg.Ryobi.Username,
		APIKey:        cfg.Ryobi.APIKey,
		DeviceID:      cfg.Ryobi.DeviceID,
		MaxRetries:    cfg.Ryobi.Session.MaxRetries,
		IOTimeout:     cfg.GetIOTimeout(),
		RetryDelay:    cfg.GetRetryDelay(),
		MaxRetryDelay: cfg.GetMaxRetryDelay(),
		PingInterval:  cfg.GetPingInterval(),
	}
}

// startBridge connects to the broker with the bridge's health LWT and
// starts the MQTT bridge.
func startBridge(ctx context.Context, cfg *config.Config, sessionCfg ryobi.SessionConfig, controller *ryobi.Controller, log *logging.Logger) (*mqtt.Client, *ryobi.Bridge, error) {
	bridgeID := "ryobi-" + sessionCfg.DeviceID

	lwt, err := json.Marshal(ryobi.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling LWT: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(ryobi.HealthTopic(), lwt))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
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

	bridge, err := ryobi.NewBridge(ryobi.BridgeOptions{
		BridgeID:       bridgeID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Address:        sessionCfg.URL,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Controller:     controller,
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started", "bridge_id", bridgeID)

	return mqttClient, bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. Infrastructure handlers return an error; bridge
// handlers do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements ryobi.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements ryobi.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements ryobi.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements ryobi.MQTTClient.
// The MQTT client lifecycle is owned by run's defer chain.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
