// Command fenced runs the virtual-fence evaluation engine: it consumes
// detection messages from MQTT, tests them against per-camera fence
// polygons, and persists admitted events to PostgreSQL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fencewatch/fencewatch/internal/config"
	"github.com/fencewatch/fencewatch/internal/database"
	"github.com/fencewatch/fencewatch/internal/fence"
	"github.com/fencewatch/fencewatch/internal/logging"
	"github.com/fencewatch/fencewatch/internal/mqttbus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	settings := config.LoadSettings()
	logger := logging.Setup(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing or broken catalog is not fatal: the engine idles with an
	// empty camera set until a restart brings a usable one.
	cameras, err := config.LoadCameras(settings.CamerasJSON)
	if err != nil {
		logger.Warn("Starting with empty camera set", "path", settings.CamerasJSON, "error", err)
	}

	db, err := database.Open(ctx, database.DefaultConfig(settings.DatabaseConnString()))
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	bus, err := mqttbus.Connect(mqttbus.Config{
		Host:     settings.MQTTHost,
		Port:     settings.MQTTPort,
		ClientID: "fencewatch-fence-engine",
		Username: settings.MQTTUsername,
		Password: settings.MQTTPassword,
	}, logger)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	engine := fence.NewEngine(cameras, db, fence.Options{
		Topic:           settings.MQTTTopic,
		QoS:             settings.MQTTQoS,
		CooldownSeconds: settings.CooldownSeconds,
		PositionDigits:  settings.PositionDigits,
	})

	logger.Info("Fence engine starting",
		"cameras", engine.CameraCount(),
		"cooldown_sec", settings.CooldownSeconds,
	)
	return engine.Run(ctx, bus)
}
