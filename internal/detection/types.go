// Package detection models the per-frame detection messages published by
// the inference workers.
package detection

import (
	"time"
)

// Message is one frame's worth of detections from an inference worker.
type Message struct {
	CameraID   string      `json:"cameraId"`
	ModelID    string      `json:"modelId,omitempty"`
	ModelName  string      `json:"modelName,omitempty"`
	FrameID    int64       `json:"frameId"`
	Timestamp  string      `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

// Detection is a single detected object with its bounding box. BBox is
// [x1, y1, x2, y2], either normalized or in pixels relative to the camera's
// declared resolution.
// Score is a pointer so an explicit 0.0 survives the round trip; workers
// are allowed to omit it entirely.
type Detection struct {
	ClassID   int       `json:"class_id"`
	ClassName string    `json:"class_name"`
	Score     *float64  `json:"score,omitempty"`
	BBox      []float64 `json:"bbox"`
}

// EventMessage announces a persisted fence event on vision/<camera>/events.
// The clipper consumes these to cut a pre/post clip around the trigger.
type EventMessage struct {
	ID        string   `json:"id"`
	CameraID  string   `json:"cameraId"`
	ClassName string   `json:"class_name"`
	Timestamp string   `json:"timestamp"`
	Score     *float64 `json:"score,omitempty"`
}

// CoordSpace tags which coordinate space a bounding box uses.
type CoordSpace int

const (
	// SpaceNormalized means every bbox value is already in [0,1].
	SpaceNormalized CoordSpace = iota
	// SpacePixel means bbox values are pixels relative to the camera resolution.
	SpacePixel
)

// Space classifies the bounding box by range: all four values in [0,1] means
// normalized, anything else means pixel space.
func (d Detection) Space() CoordSpace {
	for _, v := range d.BBox {
		if v < 0 || v > 1 {
			return SpacePixel
		}
	}
	return SpaceNormalized
}

// Center computes the bbox center in normalized coordinates, dividing by the
// camera resolution for pixel-space boxes and clamping to [0,1]. ok is false
// when the bbox is malformed or a pixel-space box has no usable resolution.
func (d Detection) Center(width, height int) (x, y float64, ok bool) {
	if len(d.BBox) != 4 {
		return 0, 0, false
	}

	x = (d.BBox[0] + d.BBox[2]) / 2
	y = (d.BBox[1] + d.BBox[3]) / 2

	if d.Space() == SpacePixel {
		if width <= 0 || height <= 0 {
			return 0, 0, false
		}
		x /= float64(width)
		y /= float64(height)
	}

	return clamp01(x), clamp01(y), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseTimestamp accepts ISO-8601 timestamps with a Z suffix or a numeric
// offset and converts them to UTC. Empty or malformed values fall back to
// the current UTC time.
func ParseTimestamp(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
