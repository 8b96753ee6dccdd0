package clipper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fencewatch/fencewatch/internal/detection"
	"github.com/fencewatch/fencewatch/internal/mqttbus"
	"github.com/fencewatch/fencewatch/internal/recording"
)

// ThumbnailStore is the slice of the events table the clipper needs.
type ThumbnailStore interface {
	UpdateThumbnail(ctx context.Context, eventID, thumbnail string) error
}

// Job is one event waiting for clip extraction.
type Job struct {
	EventID   string
	CameraID  string
	EventTime time.Time
}

// Options configures the clipper.
type Options struct {
	SegmentsRoot string
	BufferRoot   string
	EventsDir    string

	SegmentSeconds       int
	BufferSegmentSeconds int
	PreSeconds           int
	PostSeconds          int

	BufferEnabled     bool
	BufferReencode    bool
	BufferGOP         int
	BufferReadyGrace  int
	SegmentReadyGrace int
	SegmentMaxWait    int

	MinBytes int64

	Topic string
	QoS   byte

	// PullURLs maps camera id to the live RTSP URL used for post-roll capture.
	PullURLs map[string]string
}

const defaultEventTopic = "vision/+/events"

// Clipper consumes event messages and renders one MP4 per event. A single
// worker drains the queue so clips for one burst of events come out in
// arrival order.
type Clipper struct {
	opts  Options
	store ThumbnailStore
	queue chan Job
	depth atomic.Int64

	run    func(ctx context.Context, args []string) error
	now    func() time.Time
	logger *slog.Logger
}

// New builds a clipper. The queue is generously buffered; the fence engine's
// cooldown bounds the event rate long before the buffer fills.
func New(store ThumbnailStore, opts Options) *Clipper {
	if opts.Topic == "" {
		opts.Topic = defaultEventTopic
	}
	return &Clipper{
		opts:   opts,
		store:  store,
		queue:  make(chan Job, 256),
		run:    runFFmpeg,
		now:    time.Now,
		logger: slog.Default().With("component", "clipper"),
	}
}

// QueueDepth returns how many jobs are waiting.
func (c *Clipper) QueueDepth() int {
	return int(c.depth.Load())
}

// HandleEvent parses an event payload and enqueues a job. Malformed payloads
// are dropped with a warning.
func (c *Clipper) HandleEvent(topic string, payload []byte) {
	var msg detection.EventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("Received invalid JSON on event topic", "topic", topic)
		return
	}
	if msg.ID == "" || msg.CameraID == "" {
		c.logger.Warn("Event payload missing id or camera", "topic", topic)
		return
	}

	job := Job{
		EventID:   msg.ID,
		CameraID:  msg.CameraID,
		EventTime: detection.ParseTimestamp(msg.Timestamp),
	}
	select {
	case c.queue <- job:
		c.depth.Add(1)
	default:
		c.logger.Error("Clip queue full, dropping event", "event", msg.ID)
	}
}

// Run subscribes to the event topic and drains the queue until ctx is
// cancelled.
func (c *Clipper) Run(ctx context.Context, bus *mqttbus.Client) error {
	if err := os.MkdirAll(c.opts.EventsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create events directory: %w", err)
	}
	if err := bus.Subscribe(c.opts.Topic, c.opts.QoS, c.HandleEvent); err != nil {
		return err
	}
	c.logger.Info("Clipper started", "topic", c.opts.Topic, "buffer_enabled", c.opts.BufferEnabled)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Clipper stopped", "queued", c.QueueDepth())
			return nil
		case job := <-c.queue:
			c.depth.Add(-1)
			c.process(ctx, job)
		}
	}
}

// process renders the clip for one event and attaches it to the event row.
func (c *Clipper) process(ctx context.Context, job Job) {
	clipStart := job.EventTime.Add(-time.Duration(c.opts.PreSeconds) * time.Second)
	clipEnd := job.EventTime.Add(time.Duration(c.opts.PostSeconds) * time.Second)
	out := filepath.Join(c.opts.EventsDir, job.EventID+".mp4")

	// An existing clip of plausible size wins; just refresh the row.
	if info, err := os.Stat(out); err == nil && info.Size() >= c.opts.MinBytes {
		c.logger.Info("Clip already exists", "event", job.EventID, "size", info.Size())
		c.updateThumbnail(ctx, job.EventID)
		return
	}

	var err error
	if c.opts.BufferEnabled {
		err = c.clipFromBuffer(ctx, job, clipStart, out)
	} else {
		err = c.clipFromSegments(ctx, job, clipStart, clipEnd, out)
	}
	if err != nil {
		c.logger.Error("Failed to render clip", "event", job.EventID, "error", err)
		return
	}

	info, err := os.Stat(out)
	if err != nil {
		c.logger.Error("Rendered clip missing", "event", job.EventID, "error", err)
		return
	}
	if info.Size() < c.opts.MinBytes {
		c.logger.Warn("Discarding undersized clip",
			"event", job.EventID, "size", info.Size(), "min", c.opts.MinBytes)
		_ = os.Remove(out)
		return
	}

	c.logger.Info("Clip rendered", "event", job.EventID, "path", out, "size", info.Size())
	c.updateThumbnail(ctx, job.EventID)
}

func (c *Clipper) updateThumbnail(ctx context.Context, eventID string) {
	if err := c.store.UpdateThumbnail(ctx, eventID, eventID+".mp4"); err != nil {
		c.logger.Error("Failed to update thumbnail", "event", eventID, "error", err)
	}
}

// clipFromBuffer assembles the clip from one-second pre-roll segments plus a
// live post-roll capture.
func (c *Clipper) clipFromBuffer(ctx context.Context, job Job, clipStart time.Time, out string) error {
	times := BufferSegmentTimes(clipStart, job.EventTime, c.opts.BufferSegmentSeconds)
	pre, missing := c.scanBufferSegments(job.CameraID, times)

	postPath := filepath.Join(os.TempDir(), "post_"+job.EventID+".ts")
	manifest := filepath.Join(os.TempDir(), "concat_"+job.EventID+".txt")
	defer func() {
		_ = os.Remove(postPath)
		_ = os.Remove(manifest)
	}()

	// Without the post-roll the clip cannot cover the event itself, so a
	// failed capture aborts the whole extraction.
	if err := c.capturePostRoll(ctx, job.CameraID, postPath); err != nil {
		return fmt.Errorf("post-roll capture failed for %s: %w", job.EventID, err)
	}
	if info, err := os.Stat(postPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("post-roll capture produced no data for %s", job.EventID)
	}

	// Segments near the event may not have been closed yet when we first
	// looked; give the buffer writer a beat and rescan.
	if missing > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(c.opts.BufferReadyGrace) * time.Second):
		}
		pre, missing = c.scanBufferSegments(job.CameraID, times)
		if missing > 0 {
			c.logger.Warn("Pre-roll segments missing after grace",
				"event", job.EventID, "missing", missing, "found", len(pre))
		}
	}

	parts := make([]string, 0, len(pre)+1)
	parts = append(parts, pre...)
	parts = append(parts, postPath)

	var offset, duration float64
	if len(pre) > 0 {
		firstStart, err := recording.ParseSegmentStart(pre[0])
		if err != nil {
			return err
		}
		// The first surviving segment may start after clipStart when early
		// pre-roll seconds are gone; never hand ffmpeg a negative seek.
		offset = clipStart.Sub(firstStart).Seconds()
		if offset < 0 {
			offset = 0
		}
		duration = float64(c.opts.PreSeconds + c.opts.PostSeconds)
	} else {
		duration = float64(c.opts.PostSeconds)
	}

	if err := writeManifest(manifest, parts); err != nil {
		return err
	}
	return c.render(ctx, manifest, offset, duration, out)
}

// scanBufferSegments resolves expected start times to existing non-empty
// buffer files, reporting how many are absent.
func (c *Clipper) scanBufferSegments(cameraID string, times []time.Time) (found []string, missing int) {
	for _, t := range times {
		path := recording.SegmentPath(c.opts.BufferRoot, cameraID, t, "ts")
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			found = append(found, path)
		} else {
			missing++
		}
	}
	return found, missing
}

// capturePostRoll records post_seconds of live stream into path, encoded the
// same way as the buffer segments so the concat demuxer sees one format.
func (c *Clipper) capturePostRoll(ctx context.Context, cameraID, path string) error {
	url, ok := c.opts.PullURLs[cameraID]
	if !ok || url == "" {
		return fmt.Errorf("no pull URL for camera %s", cameraID)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-i", url,
		"-an",
	}
	args = append(args, recording.EncodeArgs(c.opts.BufferReencode, c.opts.BufferGOP)...)
	args = append(args,
		"-t", strconv.Itoa(c.opts.PostSeconds),
		"-f", "mpegts",
		"-y", path,
	)
	return c.run(ctx, args)
}

// clipFromSegments cuts the clip out of the long archive segments, waiting
// for the covering segments to land on disk first.
func (c *Clipper) clipFromSegments(ctx context.Context, job Job, clipStart, clipEnd time.Time, out string) error {
	times := SegmentTimes(clipStart, clipEnd, c.opts.SegmentSeconds)

	paths, err := c.waitForSegments(ctx, job, times, clipEnd)
	if err != nil {
		return err
	}

	firstStart, err := recording.ParseSegmentStart(paths[0])
	if err != nil {
		return err
	}
	// With partial coverage the first found segment may start after
	// clipStart; never hand ffmpeg a negative seek.
	offset := clipStart.Sub(firstStart).Seconds()
	if offset < 0 {
		offset = 0
	}
	duration := clipEnd.Sub(clipStart).Seconds()

	manifest := filepath.Join(os.TempDir(), "concat_"+job.EventID+".txt")
	defer func() { _ = os.Remove(manifest) }()

	if err := writeManifest(manifest, paths); err != nil {
		return err
	}
	return c.render(ctx, manifest, offset, duration, out)
}

// waitForSegments polls for the expected segments until every readable one
// is present or the deadline passes. Partial coverage renders a partial
// clip; total absence aborts.
func (c *Clipper) waitForSegments(ctx context.Context, job Job, times []time.Time, clipEnd time.Time) ([]string, error) {
	deadline := c.now().Add(time.Duration(c.opts.SegmentMaxWait) * time.Second)

	for {
		now := c.now()
		var paths []string
		var missing []string
		for _, t := range times {
			if path, ok := findSegmentFile(c.opts.SegmentsRoot, job.CameraID, t); ok {
				paths = append(paths, path)
				continue
			}
			if segmentReadable(t, c.opts.SegmentSeconds, clipEnd, c.opts.SegmentReadyGrace, now) {
				missing = append(missing, t.Format("15-04-05"))
			} else {
				// Not expected on disk yet; keep waiting for it.
				missing = append(missing, t.Format("15-04-05")+"(pending)")
			}
		}

		if len(paths) == len(times) {
			return paths, nil
		}
		if now.After(deadline) {
			if len(paths) > 0 {
				c.logger.Warn("Proceeding with partial segment coverage",
					"event", job.EventID, "found", len(paths), "missing", missing)
				return paths, nil
			}
			return nil, fmt.Errorf("no segments for event %s (camera %s, wanted %v)",
				job.EventID, job.CameraID, missing)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// render runs the single muxer pass: concat, seek, cut, re-encode to a
// faststart MP4, then move into place.
func (c *Clipper) render(ctx context.Context, manifest string, offset, duration float64, out string) error {
	tmp := out + ".tmp"
	defer func() { _ = os.Remove(tmp) }()

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(duration),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-an",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y", tmp,
	}
	if err := c.run(ctx, args); err != nil {
		return err
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("failed to move clip into place: %w", err)
	}
	return nil
}

func writeManifest(path string, parts []string) error {
	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(&b, "file '%s'\n", abs)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat manifest: %w", err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func runFFmpeg(ctx context.Context, args []string) error {
	out, err := recording.FFmpegCommand(ctx, args).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
