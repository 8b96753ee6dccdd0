package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Processed-memo bounds: when the set reaches memoHigh it is trimmed back to
// the memoLow most recent entries.
const (
	memoHigh = 500
	memoLow  = 250
)

type fileSig struct {
	size  int64
	mtime time.Time
}

// Postprocessor remuxes finished MPEG-TS segments into a seekable container.
// A segment qualifies once its size and mtime have stopped changing and it
// is old enough that ffmpeg cannot still be appending to it.
type Postprocessor struct {
	root          string
	cameras       []string
	container     string // "mkv" or "mp4"
	faststart     bool
	stableSeconds int

	mu        sync.Mutex
	pending   map[string]fileSig
	processed map[string]struct{}
	order     []string

	run    func(ctx context.Context, args []string) error
	now    func() time.Time
	logger *slog.Logger
}

// NewPostprocessor builds a postprocessor over the archive root. container
// selects the target format; anything but "mp4" means Matroska. faststart
// only applies to MP4 output.
func NewPostprocessor(root string, cameras []string, container string, faststart bool, stableSeconds int) *Postprocessor {
	if container != "mp4" {
		container = "mkv"
	}
	return &Postprocessor{
		root:          root,
		cameras:       cameras,
		container:     container,
		faststart:     faststart,
		stableSeconds: stableSeconds,
		pending:       make(map[string]fileSig),
		processed:     make(map[string]struct{}),
		run:           runFFmpeg,
		now:           time.Now,
		logger:        slog.Default().With("component", "postprocess"),
	}
}

// Run sweeps once a second until ctx is cancelled.
func (p *Postprocessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	p.logger.Info("Postprocessor started", "container", p.container, "cameras", len(p.cameras))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Postprocessor stopped")
			return nil
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep scans today's and yesterday's day directories of every camera and
// remuxes each segment that has become stable since the previous sweep.
func (p *Postprocessor) Sweep(ctx context.Context) {
	now := p.now().UTC()
	for _, cam := range p.cameras {
		for _, day := range []time.Time{now, now.Add(-24 * time.Hour)} {
			p.sweepDir(ctx, SegmentDir(p.root, cam, day), now)
		}
	}
}

func (p *Postprocessor) sweepDir(ctx context.Context, dir string, now time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if p.alreadyProcessed(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if p.stable(path, info, now) {
			p.process(ctx, path)
		}
	}
}

// stable reports whether the file's (size, mtime) pair has not changed since
// the previous sweep and the file has been quiet for at least stableSeconds.
func (p *Postprocessor) stable(path string, info os.FileInfo, now time.Time) bool {
	sig := fileSig{size: info.Size(), mtime: info.ModTime()}

	p.mu.Lock()
	prev, seen := p.pending[path]
	p.pending[path] = sig
	p.mu.Unlock()

	if !seen || prev != sig {
		return false
	}
	return now.Sub(sig.mtime) >= time.Duration(p.stableSeconds)*time.Second
}

func (p *Postprocessor) process(ctx context.Context, path string) {
	target := strings.TrimSuffix(path, ".ts") + "." + p.container
	tmp := target + ".tmp"

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-fflags", "+genpts+discardcorrupt",
		"-err_detect", "ignore_err",
		"-i", path,
		"-c", "copy",
	}
	if p.container == "mp4" {
		if p.faststart {
			args = append(args, "-movflags", "+faststart")
		}
		args = append(args, "-f", "mp4")
	} else {
		args = append(args, "-f", "matroska")
	}
	args = append(args, "-y", tmp)

	if err := p.run(ctx, args); err != nil {
		_ = os.Remove(tmp)
		p.logger.Warn("Remux failed, keeping original segment", "path", path, "error", err)
		p.markProcessed(path)
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		p.logger.Error("Failed to move remuxed segment into place", "path", target, "error", err)
		return
	}
	if err := os.Remove(path); err != nil {
		p.logger.Warn("Failed to remove source segment", "path", path, "error", err)
	}
	p.markProcessed(path)
	p.logger.Debug("Segment remuxed", "path", target)
}

func (p *Postprocessor) alreadyProcessed(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.processed[path]
	return ok
}

// markProcessed records the path and trims the memo when it outgrows its
// high-water mark.
func (p *Postprocessor) markProcessed(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed[path] = struct{}{}
	p.order = append(p.order, path)
	delete(p.pending, path)

	if len(p.order) >= memoHigh {
		cut := len(p.order) - memoLow
		for _, old := range p.order[:cut] {
			delete(p.processed, old)
		}
		p.order = append([]string(nil), p.order[cut:]...)
	}
}

func runFFmpeg(ctx context.Context, args []string) error {
	out, err := FFmpegCommand(ctx, args).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
