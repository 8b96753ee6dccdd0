package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// RecorderState describes what a recorder process is doing right now.
type RecorderState string

const (
	RecorderStateIdle     RecorderState = "idle"
	RecorderStateRunning  RecorderState = "running"
	RecorderStateBackoff  RecorderState = "backoff"
	RecorderStateStopping RecorderState = "stopping"
)

// restartDelay is how long to wait before relaunching a dead ffmpeg.
const restartDelay = 3 * time.Second

// dirEnsureInterval is how often the day directories are re-created while
// ffmpeg runs, so the strftime pattern never points into a missing directory
// across midnight.
const dirEnsureInterval = time.Minute

// RecorderStatus is a point-in-time snapshot for the status endpoint.
type RecorderStatus struct {
	CameraID  string        `json:"camera_id"`
	State     RecorderState `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Recorder keeps one ffmpeg segmenter alive for one camera, writing
// fixed-length MPEG-TS segments into the archive tree. The stream is copied,
// never transcoded, and audio is stripped.
type Recorder struct {
	cameraID       string
	pullURL        string
	root           string
	segmentSeconds int

	mu        sync.Mutex
	state     RecorderState
	pid       int
	restarts  int
	lastError string

	logger *slog.Logger
}

// NewRecorder builds a recorder for one camera. pullURL must already be
// rewritten for in-network access.
func NewRecorder(cameraID, pullURL, root string, segmentSeconds int) *Recorder {
	return &Recorder{
		cameraID:       cameraID,
		pullURL:        pullURL,
		root:           root,
		segmentSeconds: segmentSeconds,
		state:          RecorderStateIdle,
		logger:         slog.Default().With("component", "recorder", "camera", cameraID),
	}
}

// Status returns a snapshot of the recorder.
func (r *Recorder) Status() RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderStatus{
		CameraID:  r.cameraID,
		State:     r.state,
		PID:       r.pid,
		Restarts:  r.restarts,
		LastError: r.lastError,
	}
}

// Run keeps ffmpeg alive until ctx is cancelled. Every exit, expected or
// not, is followed by a fixed delay and a relaunch.
func (r *Recorder) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(r.root, r.cameraID), 0o755); err != nil {
		return fmt.Errorf("failed to create camera directory: %w", err)
	}

	for {
		if ctx.Err() != nil {
			r.setState(RecorderStateIdle)
			return nil
		}

		r.ensureDayDirs()
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			r.setState(RecorderStateIdle)
			r.logger.Info("Recorder stopped")
			return nil
		}

		if err != nil {
			r.setError(err)
		}
		r.logger.Warn("FFmpeg exited, restarting", "delay", restartDelay, "error", err)
		r.setState(RecorderStateBackoff)

		select {
		case <-ctx.Done():
			r.setState(RecorderStateIdle)
			return nil
		case <-time.After(restartDelay):
		}
		r.mu.Lock()
		r.restarts++
		r.mu.Unlock()
	}
}

// runOnce launches one ffmpeg segmenter and polls it until it exits or ctx
// is cancelled.
func (r *Recorder) runOnce(ctx context.Context) error {
	cmd := FFmpegCommand(ctx, r.buildArgs())

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	r.mu.Lock()
	r.state = RecorderStateRunning
	r.pid = cmd.Process.Pid
	r.mu.Unlock()
	r.logger.Info("FFmpeg started", "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(dirEnsureInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			// Cancellation signalled the muxer; wait for it to flush the
			// in-flight segment and exit.
			<-done
			return nil
		case <-ticker.C:
			r.ensureDayDirs()
		}
	}
}

// buildArgs constructs the segmenter invocation: copy the video stream into
// clock-aligned MPEG-TS segments named by their UTC start time.
func (r *Recorder) buildArgs() []string {
	pattern := filepath.Join(r.root, r.cameraID, StrftimePattern+".ts")
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-i", r.pullURL,
		"-an",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(r.segmentSeconds),
		"-segment_atclocktime", "1",
		"-reset_timestamps", "1",
		"-segment_format", "mpegts",
		"-strftime", "1",
		pattern,
	}
}

// ensureDayDirs pre-creates today's and tomorrow's day directories so
// ffmpeg's strftime pattern never points into a missing directory across
// midnight.
func (r *Recorder) ensureDayDirs() {
	now := time.Now().UTC()
	for _, t := range []time.Time{now, now.Add(24 * time.Hour)} {
		if err := EnsureDir(r.root, r.cameraID, t); err != nil {
			r.logger.Error("Failed to create day directory", "error", err)
		}
	}
}

func (r *Recorder) setState(s RecorderState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Recorder) setError(err error) {
	r.mu.Lock()
	r.lastError = err.Error()
	r.mu.Unlock()
}
