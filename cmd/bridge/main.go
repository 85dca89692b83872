package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "dyson2mqtt/internal/adapter/actor"
	"dyson2mqtt/internal/config"
	"dyson2mqtt/internal/core/actor"
	"dyson2mqtt/internal/server"
	"dyson2mqtt/internal/util/actorutil"
	"dyson2mqtt/pkg/dyson"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, mqttActorProvider(cfg, logger), deviceActorProvider(logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	// periodic full state refresh
	if cfg.Session.RefreshIntervalMillis > 0 {
		refresh := actor.NewRefreshScheduler(as, pid,
			time.Duration(cfg.Session.RefreshIntervalMillis)*time.Millisecond, logger)
		if err := refresh.Start(context.Background()); err != nil {
			panic(err)
		}
		defer refresh.Stop()
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => DYSON2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("DYSON2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("dyson2mqtt")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check devices
	if len(cfg.Devices) == 0 {
		return nil, errors.New("at least one device must be configured")
	}
	for _, d := range cfg.Devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, err := d.Resolve(); err != nil {
			return nil, err
		}
	}

	// check bounds
	if cfg.Session.ConnectTimeoutMillis < 1000 {
		return nil, errors.New("config param session.connect_timeout_millis should be >= 1000")
	}
	if cfg.Session.MaxConnectAttempts == 0 {
		return nil, errors.New("config param session.max_connect_attempts should be > 0")
	}
	if cfg.Session.BackoffMinMillis == 0 || cfg.Session.BackoffMaxMillis < cfg.Session.BackoffMinMillis {
		return nil, errors.New("config param session.backoff_max_millis should be >= session.backoff_min_millis > 0")
	}
	if cfg.Session.PollIntervalMillis > 0 && cfg.Session.PollIntervalMillis < 1000 {
		return nil, errors.New("config param session.poll_interval_millis should be 0 or >= 1000")
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.HostMQTTActorProvider {
	return func() *adactor.HostMQTTActor {
		return adactor.NewHostMQTTActor(cfg, logger)
	}
}

func deviceActorProvider(logger *zap.Logger) actor.DeviceActorProvider {
	return func(session config.SessionConfig, identity dyson.DeviceIdentity, host string,
		es *eventstream.EventStream) (pactor.Actor, error) {
		return adactor.NewDeviceSessionActor(session, identity, host, es, nil, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "dyson2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("session.connect_timeout_millis", 10000)
	viper.SetDefault("session.command_timeout_millis", 5000)
	viper.SetDefault("session.max_connect_attempts", 5)
	viper.SetDefault("session.backoff_min_millis", 1000)
	viper.SetDefault("session.backoff_max_millis", 60000)
	viper.SetDefault("session.poll_interval_millis", 30000)
	viper.SetDefault("session.refresh_interval_millis", 300000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	devices := make([]config.DeviceConfig, len(cfg.Devices))
	copy(devices, cfg.Devices)
	for i := range devices {
		if devices[i].Password != "" {
			devices[i].Password = "*redacted*"
		}
		if devices[i].Credential != "" {
			devices[i].Credential = "*redacted*"
		}
	}
	cfg.Devices = devices
	slog.Info("Using", "config", cfg)
}
