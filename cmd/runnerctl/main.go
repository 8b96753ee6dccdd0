// Command runnerctl expands the camera×model catalogs into one inference
// worker process per binding and supervises the fleet until shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fencewatch/fencewatch/internal/config"
	"github.com/fencewatch/fencewatch/internal/logging"
	"github.com/fencewatch/fencewatch/internal/runner"
	"github.com/fencewatch/fencewatch/internal/streamurl"
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

	// The launcher is useless without both catalogs; bail out loudly.
	cameras, err := config.LoadCameras(settings.CamerasJSON)
	if err != nil {
		return fmt.Errorf("camera catalog: %w", err)
	}
	models, err := config.LoadModels(settings.ModelsJSON)
	if err != nil {
		return fmt.Errorf("model catalog: %w", err)
	}

	topic := settings.MQTTTopic
	if topic == "" {
		topic = "vision"
	}
	planner := runner.NewPlanner(
		streamurl.Rewriter{
			InternalHost: settings.StreamHostInternal,
			InternalPort: settings.StreamPortInternal,
		},
		runner.MQTTParams{
			Host:     settings.MQTTHost,
			Port:     settings.MQTTPort,
			Topic:    topic,
			Username: settings.MQTTUsername,
			Password: settings.MQTTPassword,
			QoS:      int(settings.MQTTQoS),
		},
	)

	workers := planner.BuildPlan(cameras, models)
	logger.Info("Launch plan built", "cameras", len(cameras), "models", len(models), "workers", len(workers))

	supervisor := runner.NewSupervisor()
	if err := supervisor.Run(ctx, workers); err != nil {
		if errors.Is(err, runner.ErrNothingLaunched) {
			return fmt.Errorf("nothing to supervise: %w", err)
		}
		return err
	}
	return nil
}
