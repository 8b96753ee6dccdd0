// Command recorderd runs the per-camera rolling segment recorders, the
// short pre-event buffers, the segment postprocessor, and the event clipper
// that turns fence events into MP4 clips.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/fencewatch/fencewatch/internal/api"
	"github.com/fencewatch/fencewatch/internal/clipper"
	"github.com/fencewatch/fencewatch/internal/config"
	"github.com/fencewatch/fencewatch/internal/database"
	"github.com/fencewatch/fencewatch/internal/logging"
	"github.com/fencewatch/fencewatch/internal/mqttbus"
	"github.com/fencewatch/fencewatch/internal/recording"
	"github.com/fencewatch/fencewatch/internal/streamurl"
)

const diskWarnPercent = 90

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

	cameras, err := config.LoadCameras(settings.CamerasJSON)
	if err != nil {
		return fmt.Errorf("camera catalog: %w", err)
	}

	rewriter := streamurl.Rewriter{
		InternalHost: settings.StreamHostInternal,
		InternalPort: settings.StreamPortInternal,
	}

	var recorders []*recording.Recorder
	var buffers []*recording.Buffer
	var cameraIDs []string
	pullURLs := make(map[string]string)

	for _, cam := range cameras {
		if !cam.Enabled || strings.HasSuffix(cam.ID, "overlay") {
			continue
		}
		pull := rewriter.PullURL(cam.StreamID, rewriter.RewriteInternal(cam.RTSPURL))
		pullURLs[cam.ID] = pull
		cameraIDs = append(cameraIDs, cam.ID)

		recorders = append(recorders,
			recording.NewRecorder(cam.ID, pull, settings.RecordingsDir, settings.SegmentSeconds))
		if settings.BufferEnabled {
			buffers = append(buffers, recording.NewBuffer(
				cam.ID, pull, settings.BufferDir,
				settings.BufferSegmentSeconds, settings.BufferGOP, settings.BufferReencode))
		}
	}
	if len(cameraIDs) == 0 {
		return fmt.Errorf("no enabled cameras in %s", settings.CamerasJSON)
	}

	dbCfg := database.DefaultConfig(settings.DatabaseConnString())
	dbCfg.MaxConns = 3
	db, err := database.Open(ctx, dbCfg)
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
		ClientID: "fencewatch-recorder",
		Username: settings.MQTTUsername,
		Password: settings.MQTTPassword,
	}, logger)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	defer bus.Disconnect()

	container := "mkv"
	if settings.RemuxMP4 {
		container = "mp4"
	}
	postprocessor := recording.NewPostprocessor(
		settings.RecordingsDir, cameraIDs, container, settings.Faststart, settings.StableSeconds)

	clip := clipper.New(db, clipper.Options{
		SegmentsRoot:         settings.RecordingsDir,
		BufferRoot:           settings.BufferDir,
		EventsDir:            settings.EventsDir,
		SegmentSeconds:       settings.SegmentSeconds,
		BufferSegmentSeconds: settings.BufferSegmentSeconds,
		PreSeconds:           settings.PreSeconds,
		PostSeconds:          settings.PostSeconds,
		BufferEnabled:        settings.BufferEnabled,
		BufferReencode:       settings.BufferReencode,
		BufferGOP:            settings.BufferGOP,
		BufferReadyGrace:     settings.BufferReadyGrace,
		SegmentReadyGrace:    settings.SegmentReadyGrace,
		SegmentMaxWait:       settings.SegmentMaxWait,
		MinBytes:             settings.EventMinBytes,
		QoS:                  settings.MQTTQoS,
		PullURLs:             pullURLs,
	})

	diskMonitor := recording.NewDiskMonitor(settings.RecordingsDir, diskWarnPercent)
	sweeper := recording.NewRetentionSweeper(settings.BufferDir, settings.BufferRetention())

	// Background maintenance runs on one scheduler instead of a pile of
	// tickers.
	scheduler := cron.New(cron.WithSeconds())
	if settings.BufferEnabled {
		if _, err := scheduler.AddFunc("*/5 * * * * *", func() {
			if removed := sweeper.Sweep(); removed > 0 {
				logger.Debug("Buffer retention sweep", "removed", removed)
			}
		}); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	if _, err := scheduler.AddFunc("*/30 * * * * *", diskMonitor.Check); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	statusServer := api.NewServer(settings.StatusAddr, api.StatusSource{
		Recorders: func() []recording.RecorderStatus {
			out := make([]recording.RecorderStatus, 0, len(recorders))
			for _, r := range recorders {
				out = append(out, r.Status())
			}
			return out
		},
		Buffers: func() []recording.RecorderStatus {
			out := make([]recording.RecorderStatus, 0, len(buffers))
			for _, b := range buffers {
				out = append(out, b.Status())
			}
			return out
		},
		QueueDepth: clip.QueueDepth,
		Disk:       diskMonitor.Status,
		DBHealth:   db.Health,
	})

	logger.Info("Recorder starting",
		"cameras", len(cameraIDs),
		"segment_seconds", settings.SegmentSeconds,
		"buffer_enabled", settings.BufferEnabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range recorders {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}
	for _, b := range buffers {
		b := b
		g.Go(func() error { return b.Run(gctx) })
	}
	g.Go(func() error { return postprocessor.Run(gctx) })
	g.Go(func() error { return clip.Run(gctx, bus) })
	g.Go(func() error { return statusServer.Run(gctx) })

	return g.Wait()
}
