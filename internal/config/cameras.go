package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Point is a polygon vertex in normalized [0,1] image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VirtualFence is a named polygon that triggers events when a matching
// detection's center falls inside it. Points are always normalized and
// DetectObjects entries are case-folded at load time.
type VirtualFence struct {
	Name          string
	Points        []Point
	DetectObjects map[string]struct{}
}

// Matches reports whether the fence watches the given case-folded class name.
func (f *VirtualFence) Matches(class string) bool {
	_, ok := f.DetectObjects[class]
	return ok
}

// Camera is one entry from cameras.json with its fences already validated
// and normalized. Width/Height are zero when the declared resolution was
// missing or malformed.
type Camera struct {
	ID       string
	StreamID string
	RTSPURL  string
	Width    int
	Height   int
	Enabled  bool
	ModelID  string
	Fences   []VirtualFence
}

type cameraJSON struct {
	ID            string      `json:"id"`
	StreamURL     string      `json:"streamUrl"`
	RTSPURL       string      `json:"rtspUrl"`
	Resolution    string      `json:"resolution"`
	Enabled       *bool       `json:"enabled"`
	ModelID       string      `json:"modelID"`
	VirtualFences []fenceJSON `json:"virtualFences"`
}

type fenceJSON struct {
	Name          string   `json:"name"`
	Enabled       *bool    `json:"enabled"`
	Points        []Point  `json:"points"`
	DetectObjects []string `json:"detectObjects"`
}

type cameraFile struct {
	Cameras []cameraJSON `json:"cameras"`
}

// LoadCameras parses cameras.json. Cameras with a malformed resolution keep
// their identity but lose their fences; disabled, degenerate, or classless
// fences are dropped with a warning.
func LoadCameras(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera catalog: %w", err)
	}

	var file cameraFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse camera catalog: %w", err)
	}

	logger := slog.Default().With("component", "config")

	cameras := make([]Camera, 0, len(file.Cameras))
	for _, raw := range file.Cameras {
		if raw.ID == "" {
			continue
		}
		cam := Camera{
			ID:      raw.ID,
			RTSPURL: raw.RTSPURL,
			Enabled: raw.Enabled == nil || *raw.Enabled,
			ModelID: raw.ModelID,
		}
		cam.StreamID = raw.StreamURL
		if cam.StreamID == "" {
			cam.StreamID = raw.ID
		}

		if w, h, ok := ParseResolution(raw.Resolution); ok {
			cam.Width, cam.Height = w, h
		} else if len(raw.VirtualFences) > 0 {
			logger.Warn("Camera missing valid resolution, skipping fences",
				"camera", raw.ID, "resolution", raw.Resolution)
		}

		if cam.Width > 0 && cam.Height > 0 {
			cam.Fences = parseFences(logger, raw.ID, raw.VirtualFences, cam.Width, cam.Height)
		}

		cameras = append(cameras, cam)
	}
	return cameras, nil
}

func parseFences(logger *slog.Logger, cameraID string, raw []fenceJSON, width, height int) []VirtualFence {
	fences := make([]VirtualFence, 0, len(raw))
	for _, fr := range raw {
		name := fr.Name
		if name == "" {
			name = "Zone"
		}
		if fr.Enabled != nil && !*fr.Enabled {
			continue
		}
		points := NormalizePoints(fr.Points, width, height)
		if len(points) < 3 {
			logger.Warn("Fence ignored: fewer than 3 points", "camera", cameraID, "fence", name)
			continue
		}
		detect := make(map[string]struct{}, len(fr.DetectObjects))
		for _, obj := range fr.DetectObjects {
			if obj == "" {
				continue
			}
			detect[strings.ToLower(obj)] = struct{}{}
		}
		if len(detect) == 0 {
			logger.Warn("Fence ignored: empty detectObjects", "camera", cameraID, "fence", name)
			continue
		}
		fences = append(fences, VirtualFence{Name: name, Points: points, DetectObjects: detect})
	}
	return fences
}

// ParseResolution parses a "WxH" resolution string. Lowercase and whitespace
// around the numbers are tolerated.
func ParseResolution(resolution string) (width, height int, ok bool) {
	if resolution == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(strings.ToLower(resolution), "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// NormalizePoints maps polygon points into the [0,1] range. Points are taken
// as already normalized when every coordinate falls in [0,1]; otherwise they
// are divided by the camera resolution. The result is clamped either way.
func NormalizePoints(points []Point, width, height int) []Point {
	if len(points) == 0 {
		return nil
	}

	normalized := true
	for _, p := range points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			normalized = false
			break
		}
	}

	out := make([]Point, 0, len(points))
	for _, p := range points {
		x, y := p.X, p.Y
		if !normalized {
			if width > 0 {
				x = x / float64(width)
			} else {
				x = 0
			}
			if height > 0 {
				y = y / float64(height)
			} else {
				y = 0
			}
		}
		out = append(out, Point{X: clamp01(x), Y: clamp01(y)})
	}
	return out
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
