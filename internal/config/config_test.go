package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in     string
		width  int
		height int
		ok     bool
	}{
		{"1920x1080", 1920, 1080, true},
		{"1280X720", 1280, 720, true},
		{" 640 x 480 ", 640, 480, true},
		{"", 0, 0, false},
		{"1920", 0, 0, false},
		{"0x1080", 0, 0, false},
		{"widexhigh", 0, 0, false},
		{"-640x480", 0, 0, false},
	}

	for _, tt := range tests {
		w, h, ok := ParseResolution(tt.in)
		if ok != tt.ok || w != tt.width || h != tt.height {
			t.Errorf("ParseResolution(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.in, w, h, ok, tt.width, tt.height, tt.ok)
		}
	}
}

func TestNormalizePoints_AlreadyNormalized(t *testing.T) {
	points := []Point{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.1}, {X: 0.5, Y: 0.8}}

	out := NormalizePoints(points, 1920, 1080)
	if len(out) != len(points) {
		t.Fatalf("NormalizePoints() returned %d points, want %d", len(out), len(points))
	}
	for i := range points {
		if out[i] != points[i] {
			t.Errorf("point %d changed: got %+v, want %+v", i, out[i], points[i])
		}
	}
}

func TestNormalizePoints_PixelSpace(t *testing.T) {
	points := []Point{{X: 0, Y: 0}, {X: 960, Y: 540}, {X: 1920, Y: 1080}}

	out := NormalizePoints(points, 1920, 1080)
	want := []Point{{X: 0, Y: 0}, {X: 0.5, Y: 0.5}, {X: 1, Y: 1}}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, out[i], want[i])
		}
	}
}

func TestNormalizePoints_ClampsOutOfRange(t *testing.T) {
	// One coordinate above 1 forces pixel interpretation; results must clamp.
	points := []Point{{X: -10, Y: 0}, {X: 4000, Y: 500}, {X: 1000, Y: 2000}}

	out := NormalizePoints(points, 1920, 1080)
	for i, p := range out {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Errorf("point %d = %+v not clamped to [0,1]", i, p)
		}
	}
}

func TestNormalizePoints_Empty(t *testing.T) {
	if out := NormalizePoints(nil, 1920, 1080); out != nil {
		t.Errorf("NormalizePoints(nil) = %v, want nil", out)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadCameras(t *testing.T) {
	path := writeFile(t, t.TempDir(), "cameras.json", `{
		"cameras": [
			{
				"id": "camA",
				"streamUrl": "camA_raw",
				"rtspUrl": "rtsp://127.0.0.1:8554/camA_raw",
				"resolution": "1280x720",
				"modelID": "yolov8",
				"virtualFences": [
					{
						"name": "Zone1",
						"points": [{"x":0.1,"y":0.1},{"x":0.9,"y":0.1},{"x":0.9,"y":0.9},{"x":0.1,"y":0.9}],
						"detectObjects": ["Person", "Car"]
					},
					{
						"name": "Disabled",
						"enabled": false,
						"points": [{"x":0.1,"y":0.1},{"x":0.9,"y":0.1},{"x":0.5,"y":0.9}],
						"detectObjects": ["person"]
					},
					{
						"name": "TooFewPoints",
						"points": [{"x":0.1,"y":0.1},{"x":0.9,"y":0.1}],
						"detectObjects": ["person"]
					},
					{
						"name": "NoObjects",
						"points": [{"x":0.1,"y":0.1},{"x":0.9,"y":0.1},{"x":0.5,"y":0.9}],
						"detectObjects": []
					}
				]
			},
			{
				"id": "camB",
				"resolution": "bogus",
				"virtualFences": [
					{
						"name": "Zone",
						"points": [{"x":0.1,"y":0.1},{"x":0.9,"y":0.1},{"x":0.5,"y":0.9}],
						"detectObjects": ["person"]
					}
				]
			},
			{"id": "camC", "enabled": false, "resolution": "640x480"}
		]
	}`)

	cameras, err := LoadCameras(path)
	if err != nil {
		t.Fatalf("LoadCameras() error = %v", err)
	}
	if len(cameras) != 3 {
		t.Fatalf("LoadCameras() returned %d cameras, want 3", len(cameras))
	}

	camA := cameras[0]
	if camA.ID != "camA" || camA.Width != 1280 || camA.Height != 720 {
		t.Errorf("camA = %+v, want id=camA 1280x720", camA)
	}
	if !camA.Enabled {
		t.Error("camA should default to enabled")
	}
	if len(camA.Fences) != 1 {
		t.Fatalf("camA has %d fences, want 1 (disabled/degenerate/classless dropped)", len(camA.Fences))
	}
	fence := camA.Fences[0]
	if fence.Name != "Zone1" {
		t.Errorf("fence name = %q, want Zone1", fence.Name)
	}
	if !fence.Matches("person") || !fence.Matches("car") {
		t.Error("detect objects should be case-folded at load time")
	}
	if fence.Matches("Person") {
		t.Error("Matches expects a case-folded class name")
	}

	if len(cameras[1].Fences) != 0 {
		t.Error("camB with malformed resolution must lose its fences")
	}
	if cameras[2].Enabled {
		t.Error("camC should honor enabled=false")
	}
	if cameras[2].StreamID != "camC" {
		t.Errorf("camC streamID = %q, want fallback to camera id", cameras[2].StreamID)
	}
}

func TestLoadCameras_MissingFile(t *testing.T) {
	if _, err := LoadCameras(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("LoadCameras() on missing file should return an error")
	}
}

func TestLoadCameras_InvalidJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "cameras.json", "{not json")
	if _, err := LoadCameras(path); err == nil {
		t.Error("LoadCameras() on invalid JSON should return an error")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"YOLOv8_V1", "yolov8_v1"},
		{"My Model (v2)", "my_model_v2"},
		{"--weird--", "weird"},
		{"already_slug", "already_slug"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadModels(t *testing.T) {
	path := writeFile(t, t.TempDir(), "models.json", `{
		"models": [
			{
				"name": "YOLOv8_V1",
				"type": "detection",
				"weights": "/models/yolov8n.pt",
				"runner": "/runners/yolov8_inference.py",
				"inputSize": [416, 416],
				"device": "cuda:0",
				"class_file": "/models/coco.yaml"
			},
			{
				"name": "BadSize",
				"weights": "/models/other.pt",
				"runner": "/runners/other.py",
				"inputSize": [0]
			}
		]
	}`)

	models, err := LoadModels(path)
	if err != nil {
		t.Fatalf("LoadModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("LoadModels() returned %d models, want 2", len(models))
	}
	if models[0].InputWidth != 416 || models[0].InputHeight != 416 {
		t.Errorf("input size = %dx%d, want 416x416", models[0].InputWidth, models[0].InputHeight)
	}
	if models[1].InputWidth != 640 || models[1].InputHeight != 640 {
		t.Errorf("invalid inputSize should fall back to 640x640, got %dx%d",
			models[1].InputWidth, models[1].InputHeight)
	}
}

func TestMatchModel(t *testing.T) {
	models := []Model{
		{Name: "YOLOv8_V1", candidates: []string{"yolov8_v1", "yolov8n", "detection"}},
		{Name: "Classifier", candidates: []string{"classifier", "resnet50"}},
	}

	tests := []struct {
		modelID string
		want    string
	}{
		{"YOLOv8_V1", "YOLOv8_V1"},  // exact, case-insensitive
		{"yolov8", "YOLOv8_V1"},     // prefix of candidate
		{"yolov8_v1_b", "YOLOv8_V1"}, // candidate is prefix of slug
		{"resnet50", "Classifier"},
		{"unknown_model", ""},
	}

	for _, tt := range tests {
		m := MatchModel(tt.modelID, models)
		got := ""
		if m != nil {
			got = m.Name
		}
		if got != tt.want {
			t.Errorf("MatchModel(%q) = %q, want %q", tt.modelID, got, tt.want)
		}
	}
}

func TestParseClassFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "coco.yaml", `
# comment before the block is ignored
nc: 80
names:
  0: person
  1: bicycle
  7: truck
  not a class line
`)

	classes, err := ParseClassFile(path)
	if err != nil {
		t.Fatalf("ParseClassFile() error = %v", err)
	}
	want := map[int]string{0: "person", 1: "bicycle", 7: "truck"}
	if len(classes) != len(want) {
		t.Fatalf("ParseClassFile() returned %d classes, want %d", len(classes), len(want))
	}
	for id, name := range want {
		if classes[id] != name {
			t.Errorf("class %d = %q, want %q", id, classes[id], name)
		}
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	s := LoadSettings()

	if s.SegmentSeconds != 300 {
		t.Errorf("SegmentSeconds = %d, want 300", s.SegmentSeconds)
	}
	if s.PreSeconds != 10 || s.PostSeconds != 10 {
		t.Errorf("pre/post = %d/%d, want 10/10", s.PreSeconds, s.PostSeconds)
	}
	if s.BufferSeconds != s.PreSeconds {
		t.Errorf("BufferSeconds = %d, want PreSeconds (%d)", s.BufferSeconds, s.PreSeconds)
	}
	if s.CooldownSeconds != 30 {
		t.Errorf("CooldownSeconds = %v, want 30", s.CooldownSeconds)
	}
	if s.EventMinBytes != 4096 {
		t.Errorf("EventMinBytes = %d, want 4096", s.EventMinBytes)
	}
	if !s.BufferEnabled || !s.BufferReencode || !s.Faststart || !s.RemuxMP4 {
		t.Error("flag defaults should all be on")
	}

	// pre + post + 5 = 25s, well above 3 * 1s
	if got := s.BufferRetention().Seconds(); got != 25 {
		t.Errorf("BufferRetention() = %vs, want 25s", got)
	}
}

func TestSettings_DatabaseConnString(t *testing.T) {
	s := Settings{DatabaseURL: "postgres://u:p@host/db"}
	if got := s.DatabaseConnString(); got != "postgres://u:p@host/db" {
		t.Errorf("DatabaseConnString() = %q, want DATABASE_URL passthrough", got)
	}

	s = Settings{
		DatabaseHost: "pg", DatabasePort: 5432, DatabaseName: "vision",
		DatabaseUser: "u", DatabasePassword: "p",
	}
	want := "host=pg port=5432 dbname=vision user=u password=p"
	if got := s.DatabaseConnString(); got != want {
		t.Errorf("DatabaseConnString() = %q, want %q", got, want)
	}
}
