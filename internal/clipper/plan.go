// Package clipper turns fence events into rendered MP4 clips spanning a
// pre/post window around the trigger.
package clipper

import (
	"os"
	"time"

	"github.com/fencewatch/fencewatch/internal/recording"
)

// segmentExts is the extension preference order when locating an archive
// segment: the live .ts first, then its remuxed forms.
var segmentExts = []string{"ts", "mp4", "mkv"}

// BufferSegmentTimes lists the start times of the pre-roll buffer segments
// for a clip, from the floored clip start up to (exclusive) the event time.
func BufferSegmentTimes(clipStart, eventTime time.Time, bufferSeconds int) []time.Time {
	var times []time.Time
	step := time.Duration(bufferSeconds) * time.Second
	for t := recording.FloorToSegment(clipStart, bufferSeconds); t.Before(eventTime); t = t.Add(step) {
		times = append(times, t)
	}
	return times
}

// SegmentTimes lists the start times of the long segments intersecting
// [clipStart, clipEnd).
func SegmentTimes(clipStart, clipEnd time.Time, segmentSeconds int) []time.Time {
	var times []time.Time
	step := time.Duration(segmentSeconds) * time.Second
	for t := recording.FloorToSegment(clipStart, segmentSeconds); t.Before(clipEnd); t = t.Add(step) {
		times = append(times, t)
	}
	return times
}

// segmentReadable reports whether a segment's content covering the clip can
// be expected on disk: the muxer has moved past min(segment end, clip end)
// plus a grace period.
func segmentReadable(segStart time.Time, segmentSeconds int, clipEnd time.Time, graceSeconds int, now time.Time) bool {
	segEnd := segStart.Add(time.Duration(segmentSeconds) * time.Second)
	ready := segEnd
	if clipEnd.Before(segEnd) {
		ready = clipEnd
	}
	return !now.Before(ready.Add(time.Duration(graceSeconds) * time.Second))
}

// findSegmentFile locates the on-disk file for a segment start, trying the
// lifecycle extensions in preference order. Empty files do not count.
func findSegmentFile(root, cameraID string, start time.Time) (string, bool) {
	for _, ext := range segmentExts {
		path := recording.SegmentPath(root, cameraID, start, ext)
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return path, true
		}
	}
	return "", false
}
