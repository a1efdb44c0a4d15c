// Blinkbridged bridges Blink cameras to Home Assistant over MQTT.
//
// It polls the Blink cloud API for system state, republishes it as Home
// Assistant MQTT discovery entities, and serves a small web dashboard
// for configuration, two-factor verification and camera snapshots.
//
// Configuration is read from a YAML file (see --config), then
// overridden by environment variables and flags.
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
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/trymwestin/blinkbridge/internal/buildinfo"
	"github.com/trymwestin/blinkbridge/internal/config"
	"github.com/trymwestin/blinkbridge/internal/core/auth"
	"github.com/trymwestin/blinkbridge/internal/core/blink"
	"github.com/trymwestin/blinkbridge/internal/core/bridge"
	"github.com/trymwestin/blinkbridge/internal/core/state"
	"github.com/trymwestin/blinkbridge/internal/httpapi"
	"github.com/trymwestin/blinkbridge/internal/imagestore"
	"github.com/trymwestin/blinkbridge/internal/mqtt"
)

const (
	flagConfig          = "config"
	flagListenAddress   = "listen-address"
	flagLogLevel        = "log-level"
	flagImagesDir       = "images-dir"
	flagCredentialsFile = "credentials-file"
)

func initFlags() {
	pflag.String(flagConfig, "/data/blinkbridge.yml", "config file path")
	pflag.String(flagListenAddress, "", "HTTP listen address (overrides config)")
	pflag.String(flagLogLevel, "", "log level: debug, info, warn, error (overrides config)")
	pflag.String(flagImagesDir, "", "snapshot image directory (overrides config)")
	pflag.String(flagCredentialsFile, "", "vendor credentials file (overrides config)")
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Fatalf("Unable to bind flags: %v", err)
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("blinkbridge")
	viper.AutomaticEnv()
}

func initLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	initFlags()

	cfgPath := viper.GetString(flagConfig)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Unable to load config: %v", err)
	}

	if v := viper.GetString(flagListenAddress); v != "" {
		cfg.ListenAddress = v
	}
	if v := viper.GetString(flagLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetString(flagImagesDir); v != "" {
		cfg.ImagesDir = v
	}
	if v := viper.GetString(flagCredentialsFile); v != "" {
		cfg.CredentialsFile = v
	}

	logger := initLogger(config.ParseLevel(cfg.LogLevel))
	logger.Info("starting", "build", buildinfo.String(), "config", cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfgPath, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, cfg config.Config, logger *slog.Logger) error {
	bus := state.NewEventBus(logger.With("component", "bus"))
	store := state.NewStateStore(bus, logger.With("component", "state"))

	credStore := auth.NewFileStore(cfg.CredentialsFile)
	client := blink.NewClient(credStore, logger.With("component", "blink"))
	images := imagestore.New(cfg.ImagesDir, logger.With("component", "images"))

	sup := bridge.NewSupervisor(client, images, store, cfg, logger.With("component", "bridge"))
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	mqttSvc := mqtt.NewService(sup, store, bus, logger.With("component", "mqtt"))
	mqttCfg := mqtt.Config{
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		SWVersion: buildinfo.Version,
	}
	if cfg.MQTTConfigured() {
		mqttCfg.BrokerURL = cfg.BrokerURL()
	}
	if err := mqttSvc.Start(ctx, mqttCfg); err != nil {
		// The dashboard must stay reachable to fix a broken broker config.
		logger.Error("MQTT publisher failed to start", "error", err)
	}

	api := httpapi.NewServer(sup, store, bus, images, mqttSvc, cfgPath, buildinfo.Version, logger.With("component", "http"))

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout, the websocket event stream is long-lived.
		IdleTimeout: 50 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mqttSvc.Stop(shutdownCtx); err != nil {
		logger.Warn("MQTT publisher shutdown", "error", err)
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Warn("bridge shutdown", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("stopped")
	return nil
}
