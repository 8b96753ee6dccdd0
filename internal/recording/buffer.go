package recording

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Buffer keeps a short rolling window of one-second re-encoded segments for
// one camera so event clips can reach back before the trigger. Layout
// mirrors the archive tree; only the duration and retention differ. Unlike
// the archive recorder this transcodes: every segment must open with a
// keyframe or concatenation at second granularity falls apart.
type Buffer struct {
	cameraID       string
	pullURL        string
	root           string
	segmentSeconds int
	gop            int
	reencode       bool

	mu        sync.Mutex
	state     RecorderState
	pid       int
	restarts  int
	lastError string

	logger *slog.Logger
}

// NewBuffer builds the pre-event buffer for one camera.
func NewBuffer(cameraID, pullURL, root string, segmentSeconds, gop int, reencode bool) *Buffer {
	return &Buffer{
		cameraID:       cameraID,
		pullURL:        pullURL,
		root:           root,
		segmentSeconds: segmentSeconds,
		gop:            gop,
		reencode:       reencode,
		state:          RecorderStateIdle,
		logger:         slog.Default().With("component", "buffer", "camera", cameraID),
	}
}

// Status returns a snapshot of the buffer writer.
func (b *Buffer) Status() RecorderStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return RecorderStatus{
		CameraID:  b.cameraID,
		State:     b.state,
		PID:       b.pid,
		Restarts:  b.restarts,
		LastError: b.lastError,
	}
}

// Run keeps the buffer ffmpeg alive until ctx is cancelled, restarting after
// the same fixed delay the archive recorder uses.
func (b *Buffer) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(b.root, b.cameraID), 0o755); err != nil {
		return fmt.Errorf("failed to create buffer directory: %w", err)
	}

	for {
		if ctx.Err() != nil {
			b.setState(RecorderStateIdle)
			return nil
		}

		b.ensureDayDirs()
		err := b.runOnce(ctx)
		if ctx.Err() != nil {
			b.setState(RecorderStateIdle)
			b.logger.Info("Buffer stopped")
			return nil
		}
		if err != nil {
			b.mu.Lock()
			b.lastError = err.Error()
			b.mu.Unlock()
		}
		b.logger.Warn("Buffer ffmpeg exited, restarting", "delay", restartDelay, "error", err)
		b.setState(RecorderStateBackoff)

		select {
		case <-ctx.Done():
			b.setState(RecorderStateIdle)
			return nil
		case <-time.After(restartDelay):
		}
		b.mu.Lock()
		b.restarts++
		b.mu.Unlock()
	}
}

func (b *Buffer) runOnce(ctx context.Context) error {
	cmd := FFmpegCommand(ctx, b.buildArgs())

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	b.mu.Lock()
	b.state = RecorderStateRunning
	b.pid = cmd.Process.Pid
	b.mu.Unlock()
	b.logger.Info("Buffer ffmpeg started", "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(dirEnsureInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			<-done
			return nil
		case <-ticker.C:
			b.ensureDayDirs()
		}
	}
}

// buildArgs re-encodes with a GOP pinned to the segment length so every
// one-second segment starts on a keyframe. With re-encoding off the stream
// is copied and clip starts snap to whatever keyframes the camera sends.
func (b *Buffer) buildArgs() []string {
	pattern := filepath.Join(b.root, b.cameraID, StrftimePattern+".ts")
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-i", b.pullURL,
		"-an",
	}
	args = append(args, EncodeArgs(b.reencode, b.gop)...)
	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(b.segmentSeconds),
		"-segment_atclocktime", "1",
		"-reset_timestamps", "1",
		"-segment_format", "mpegts",
		"-strftime", "1",
		pattern,
	)
	return args
}

// EncodeArgs returns the video codec arguments shared by the buffer writer
// and the clipper's live post-roll capture.
func EncodeArgs(reencode bool, gop int) []string {
	if !reencode {
		return []string{"-c", "copy"}
	}
	return []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-pix_fmt", "yuv420p",
	}
}

func (b *Buffer) ensureDayDirs() {
	now := time.Now().UTC()
	for _, t := range []time.Time{now, now.Add(24 * time.Hour)} {
		if err := EnsureDir(b.root, b.cameraID, t); err != nil {
			b.logger.Error("Failed to create day directory", "error", err)
		}
	}
}

func (b *Buffer) setState(s RecorderState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// RetentionSweeper deletes buffer segments older than the retention window.
// It runs on the shared cron scheduler rather than owning a goroutine.
type RetentionSweeper struct {
	root      string
	retention time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// NewRetentionSweeper builds a sweeper over the buffer root.
func NewRetentionSweeper(root string, retention time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		root:      root,
		retention: retention,
		now:       time.Now,
		logger:    slog.Default().With("component", "buffer_retention"),
	}
}

// Sweep walks the buffer tree and removes every segment whose start time has
// aged out. Returns how many files were deleted.
func (s *RetentionSweeper) Sweep() int {
	cutoff := s.now().UTC().Add(-s.retention)
	removed := 0

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".ts") {
			return nil
		}
		start, perr := ParseSegmentStart(path)
		if perr != nil {
			return nil
		}
		if start.Before(cutoff) {
			if rerr := os.Remove(path); rerr == nil {
				removed++
			} else if !os.IsNotExist(rerr) {
				s.logger.Warn("Failed to delete buffer segment", "path", path, "error", rerr)
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Buffer sweep failed", "error", err)
	}
	return removed
}
