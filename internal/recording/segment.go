// Package recording runs the rolling segment recorders, the short-segment
// pre-event buffers, and the background jobs that keep the archive healthy.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Archive segments live under <root>/<camera>/<YYYY-MM>/<DD>/<HH-MM-SS>.<ext>.
// All path math is UTC; ffmpeg's strftime is forced to UTC via TZ.
const (
	dirLayout  = "2006-01/02"
	nameLayout = "15-04-05"
)

// StrftimePattern is the ffmpeg output pattern matching SegmentPath.
const StrftimePattern = "%Y-%m/%d/%H-%M-%S"

// FloorToSegment rounds t down to the start of the segment slot containing
// it, relative to midnight UTC of t's day.
func FloorToSegment(t time.Time, segmentSeconds int) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := int(t.Sub(midnight) / time.Second)
	slot := elapsed - elapsed%segmentSeconds
	return midnight.Add(time.Duration(slot) * time.Second)
}

// SegmentPath returns the archive path for the segment starting at start.
func SegmentPath(root, cameraID string, start time.Time, ext string) string {
	start = start.UTC()
	return filepath.Join(root, cameraID, start.Format(dirLayout), start.Format(nameLayout)+"."+ext)
}

// SegmentDir returns the day directory for t.
func SegmentDir(root, cameraID string, t time.Time) string {
	return filepath.Join(root, cameraID, t.UTC().Format(dirLayout))
}

// ParseSegmentStart recovers the segment start time from an archive path of
// the form <...>/<YYYY-MM>/<DD>/<HH-MM-SS>.<ext>.
func ParseSegmentStart(path string) (time.Time, error) {
	name := filepath.Base(path)
	name = name[:len(name)-len(filepath.Ext(name))]
	day := filepath.Base(filepath.Dir(path))
	month := filepath.Base(filepath.Dir(filepath.Dir(path)))

	t, err := time.ParseInLocation("2006-01/02/15-04-05", month+"/"+day+"/"+name, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a segment path %q: %w", path, err)
	}
	return t, nil
}

// EnsureDir creates the day directory for t so ffmpeg's strftime output has
// somewhere to land.
func EnsureDir(root, cameraID string, t time.Time) error {
	if err := os.MkdirAll(SegmentDir(root, cameraID, t), 0o755); err != nil {
		return fmt.Errorf("failed to create segment directory: %w", err)
	}
	return nil
}
