package fence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fencewatch/fencewatch/internal/config"
	"github.com/fencewatch/fencewatch/internal/database"
	"github.com/fencewatch/fencewatch/internal/detection"
)

type recordingStore struct {
	events []database.Event
	err    error
}

func (s *recordingStore) InsertEvent(_ context.Context, ev database.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func testCameras() []config.Camera {
	return []config.Camera{
		{
			ID:     "camA",
			Width:  1280,
			Height: 720,
			Fences: []config.VirtualFence{
				{
					Name: "Zone1",
					Points: []config.Point{
						{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.1},
						{X: 0.9, Y: 0.9}, {X: 0.1, Y: 0.9},
					},
					DetectObjects: map[string]struct{}{"person": {}},
				},
			},
		},
		{ID: "camB", Width: 1920, Height: 1080},
	}
}

func newTestEngine(store EventStore) *Engine {
	e := NewEngine(testCameras(), store, Options{CooldownSeconds: 30, PositionDigits: 2})
	return e
}

func TestEngineDropsCamerasWithoutFences(t *testing.T) {
	e := newTestEngine(&recordingStore{})
	if got := e.CameraCount(); got != 1 {
		t.Errorf("CameraCount() = %d, want 1 (camB has no fences)", got)
	}
}

func TestEngineAdmitAndSuppress(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.cooldown.now = func() time.Time { return now }

	payload := []byte(`{
		"cameraId": "camA",
		"timestamp": "2025-06-01T12:00:00Z",
		"detections": [
			{"class_name": "person", "score": 0.92, "bbox": [320, 180, 960, 540]}
		]
	}`)

	e.HandleMessage("vision/camA/detections", payload)
	if len(store.events) != 1 {
		t.Fatalf("got %d events after first message, want 1", len(store.events))
	}

	ev := store.events[0]
	if ev.CameraID != "camA" {
		t.Errorf("CameraID = %q, want camA", ev.CameraID)
	}
	if ev.ClassName != "person" {
		t.Errorf("ClassName = %q, want person", ev.ClassName)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.Score == nil || *ev.Score != 0.92 {
		t.Errorf("Score = %v, want 0.92", ev.Score)
	}

	// Same object five seconds later: inside the cooldown window.
	now = now.Add(5 * time.Second)
	e.HandleMessage("vision/camA/detections", payload)
	if len(store.events) != 1 {
		t.Errorf("got %d events after repeat, want 1 (suppressed)", len(store.events))
	}

	now = now.Add(30 * time.Second)
	e.HandleMessage("vision/camA/detections", payload)
	if len(store.events) != 2 {
		t.Errorf("got %d events after window elapsed, want 2", len(store.events))
	}
}

func TestEngineClassFilter(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)

	// Uppercase class still matches the folded fence list.
	e.HandleMessage("vision/camA/detections", []byte(`{
		"cameraId": "camA",
		"detections": [{"class_name": "Person", "score": 0.8, "bbox": [0.4, 0.4, 0.6, 0.6]}]
	}`))
	if len(store.events) != 1 {
		t.Fatalf("got %d events for folded class, want 1", len(store.events))
	}
	if store.events[0].ClassName != "Person" {
		t.Errorf("stored ClassName = %q, want original casing Person", store.events[0].ClassName)
	}

	// A class the fence does not watch is ignored.
	e.HandleMessage("vision/camA/detections", []byte(`{
		"cameraId": "camA",
		"detections": [{"class_name": "car", "score": 0.9, "bbox": [0.4, 0.4, 0.6, 0.6]}]
	}`))
	if len(store.events) != 1 {
		t.Errorf("got %d events after unwatched class, want 1", len(store.events))
	}
}

func TestEngineOutsideFence(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)

	// Center (0.05, 0.05) lies outside Zone1.
	e.HandleMessage("vision/camA/detections", []byte(`{
		"cameraId": "camA",
		"detections": [{"class_name": "person", "score": 0.9, "bbox": [0.0, 0.0, 0.1, 0.1]}]
	}`))
	if len(store.events) != 0 {
		t.Errorf("got %d events for a detection outside the fence, want 0", len(store.events))
	}
}

func TestEngineUnknownCamera(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)

	e.HandleMessage("vision/camZ/detections", []byte(`{
		"cameraId": "camZ",
		"detections": [{"class_name": "person", "score": 0.9, "bbox": [0.4, 0.4, 0.6, 0.6]}]
	}`))
	if len(store.events) != 0 {
		t.Errorf("got %d events for unknown camera, want 0", len(store.events))
	}
}

func TestEngineCameraIDFromTopic(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)

	// No cameraId in the payload; the topic supplies it.
	e.HandleMessage("vision/camA/detections", []byte(`{
		"detections": [{"class_name": "person", "score": 0.9, "bbox": [0.4, 0.4, 0.6, 0.6]}]
	}`))
	if len(store.events) != 1 {
		t.Errorf("got %d events with topic-derived camera, want 1", len(store.events))
	}
}

func TestEngineMalformedPayload(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)

	e.HandleMessage("vision/camA/detections", []byte(`{not json`))
	e.HandleMessage("vision/camA/detections", []byte(`{}`))
	e.HandleMessage("vision/camA/detections", []byte(`{
		"cameraId": "camA",
		"detections": [{"class_name": "person", "score": 0.9, "bbox": [0.4, 0.4]}]
	}`))
	if len(store.events) != 0 {
		t.Errorf("got %d events from malformed payloads, want 0", len(store.events))
	}
}

func TestEngineScorePresence(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)

	// An explicit 0.0 score is stored as 0, not dropped to NULL.
	e.HandleMessage("vision/camA/detections", []byte(`{
		"cameraId": "camA",
		"detections": [{"class_name": "person", "score": 0.0, "bbox": [0.4, 0.4, 0.6, 0.6]}]
	}`))
	if len(store.events) != 1 {
		t.Fatalf("got %d events, want 1", len(store.events))
	}
	if store.events[0].Score == nil || *store.events[0].Score != 0 {
		t.Errorf("Score = %v, want explicit 0", store.events[0].Score)
	}

	// A detection with no score at all stores NULL. Different center so the
	// cooldown does not swallow it.
	e.HandleMessage("vision/camA/detections", []byte(`{
		"cameraId": "camA",
		"detections": [{"class_name": "person", "bbox": [0.2, 0.2, 0.3, 0.3]}]
	}`))
	if len(store.events) != 2 {
		t.Fatalf("got %d events, want 2", len(store.events))
	}
	if store.events[1].Score != nil {
		t.Errorf("Score = %v, want nil for an absent score", store.events[1].Score)
	}
}

type recordingPublisher struct {
	topics   []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(topic string, _ byte, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestEnginePublishesAdmittedEvents(t *testing.T) {
	store := &recordingStore{}
	e := newTestEngine(store)
	pub := &recordingPublisher{}
	e.publisher = pub

	e.HandleMessage("vision/camA/detections", []byte(`{
		"cameraId": "camA",
		"timestamp": "2025-06-01T12:00:00Z",
		"detections": [{"class_name": "person", "score": 0.9, "bbox": [0.4, 0.4, 0.6, 0.6]}]
	}`))

	if len(pub.topics) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.topics))
	}
	if pub.topics[0] != "vision/camA/events" {
		t.Errorf("published to %q, want vision/camA/events", pub.topics[0])
	}

	var msg detection.EventMessage
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("event payload is not valid JSON: %v", err)
	}
	if msg.ID != store.events[0].ID {
		t.Errorf("published id %q, want %q", msg.ID, store.events[0].ID)
	}
	if msg.CameraID != "camA" || msg.ClassName != "person" {
		t.Errorf("payload = %+v", msg)
	}
	if msg.Timestamp != "2025-06-01T12:00:00Z" {
		t.Errorf("Timestamp = %q, want 2025-06-01T12:00:00Z", msg.Timestamp)
	}
}

func TestCameraIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"vision/camA/detections", "camA"},
		{"vision/front_door/detections", "front_door"},
		{"vision/detections", ""},
		{"other/camA/detections", ""},
		{"vision/camA/status", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cameraIDFromTopic(tt.topic); got != tt.want {
			t.Errorf("cameraIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
