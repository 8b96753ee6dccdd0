package fence

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fencewatch/fencewatch/internal/config"
	"github.com/fencewatch/fencewatch/internal/database"
	"github.com/fencewatch/fencewatch/internal/detection"
	"github.com/fencewatch/fencewatch/internal/mqttbus"
)

// State tracks the engine lifecycle.
type State int32

const (
	StateInitializing State = iota
	StateConnected
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// EventStore persists admitted fence events.
type EventStore interface {
	InsertEvent(ctx context.Context, ev database.Event) error
}

// Publisher announces admitted events downstream. Satisfied by the MQTT
// client; nil disables publication.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Options configures the engine.
type Options struct {
	Topic           string
	QoS             byte
	CooldownSeconds float64
	PositionDigits  int
}

const defaultTopic = "vision/+/detections"

// Engine consumes detection messages, evaluates them against the loaded
// fences, deduplicates by cooldown, and persists admitted events.
type Engine struct {
	cameras   map[string]config.Camera
	cooldown  *Cooldown
	store     EventStore
	publisher Publisher
	topic     string
	qos       byte
	logger    *slog.Logger

	state atomic.Int32
}

// NewEngine builds an engine over the fence-bearing cameras of the catalog.
// Cameras without fences are dropped here so the message path can discard
// unknown ids with a single map lookup.
func NewEngine(cameras []config.Camera, store EventStore, opts Options) *Engine {
	byID := make(map[string]config.Camera)
	for _, cam := range cameras {
		if len(cam.Fences) > 0 {
			byID[cam.ID] = cam
		}
	}

	topic := opts.Topic
	if topic == "" {
		topic = defaultTopic
	}

	return &Engine{
		cameras:  byID,
		cooldown: NewCooldown(time.Duration(opts.CooldownSeconds*float64(time.Second)), opts.PositionDigits),
		store:    store,
		topic:    topic,
		qos:      opts.QoS,
		logger:   slog.Default().With("component", "fence_engine"),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// CameraCount returns how many cameras carry at least one fence.
func (e *Engine) CameraCount() int {
	return len(e.cameras)
}

// Run subscribes to the detection topic and blocks until ctx is cancelled,
// then drains. The MQTT client library owns the callback thread; all engine
// state touched from callbacks is internally synchronized.
func (e *Engine) Run(ctx context.Context, bus *mqttbus.Client) error {
	e.publisher = bus
	if err := bus.Subscribe(e.topic, e.qos, e.HandleMessage); err != nil {
		return err
	}
	e.state.Store(int32(StateConnected))
	e.logger.Info("Fence engine started", "cameras", len(e.cameras), "topic", e.topic)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.state.Store(int32(StateDraining))
			bus.Disconnect()
			e.state.Store(int32(StateStopped))
			e.logger.Info("Fence engine stopped")
			return nil
		case <-ticker.C:
			if removed := e.cooldown.EvictStale(); removed > 0 {
				e.logger.Debug("Evicted stale cooldown keys", "removed", removed)
			}
		}
	}
}

// HandleMessage processes one detection message. Malformed payloads and
// unknown cameras are dropped without touching the database.
func (e *Engine) HandleMessage(topic string, payload []byte) {
	var msg detection.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Warn("Received invalid JSON on detection topic", "topic", topic)
		return
	}

	cameraID := msg.CameraID
	if cameraID == "" {
		cameraID = cameraIDFromTopic(topic)
	}
	if cameraID == "" {
		return
	}

	camera, ok := e.cameras[cameraID]
	if !ok {
		return
	}
	if len(msg.Detections) == 0 {
		return
	}

	timestamp := detection.ParseTimestamp(msg.Timestamp)
	for _, det := range msg.Detections {
		e.handleDetection(camera, det, timestamp)
	}
}

func (e *Engine) handleDetection(camera config.Camera, det detection.Detection, timestamp time.Time) {
	if det.ClassName == "" {
		return
	}
	centerX, centerY, ok := det.Center(camera.Width, camera.Height)
	if !ok {
		return
	}
	class := strings.ToLower(det.ClassName)

	for i := range camera.Fences {
		fence := &camera.Fences[i]
		if !fence.Matches(class) {
			continue
		}
		if !PointInPolygon(centerX, centerY, fence.Points) {
			continue
		}
		if !e.cooldown.Admit(camera.ID, fence.Name, class, centerX, centerY) {
			continue
		}
		e.storeEvent(camera.ID, det, timestamp)
		attrs := []any{"fence", fence.Name, "camera", camera.ID, "class", det.ClassName}
		if det.Score != nil {
			attrs = append(attrs, "score", *det.Score)
		}
		e.logger.Info("Fence triggered", attrs...)
	}
}

func (e *Engine) storeEvent(cameraID string, det detection.Detection, timestamp time.Time) {
	ev := database.Event{
		ID:        database.NewEventID(),
		CameraID:  cameraID,
		ClassName: det.ClassName,
		Timestamp: timestamp,
	}
	// A worker may omit the score; an explicit 0.0 is still a score.
	if det.Score != nil {
		score := *det.Score
		ev.Score = &score
	}

	// One failing insert must not halt the stream.
	if err := e.store.InsertEvent(context.Background(), ev); err != nil {
		e.logger.Error("Failed to insert event", "event", ev.ID, "error", err)
		return
	}

	if e.publisher == nil {
		return
	}
	msg := detection.EventMessage{
		ID:        ev.ID,
		CameraID:  ev.CameraID,
		ClassName: ev.ClassName,
		Timestamp: timestamp.Format(time.RFC3339),
		Score:     ev.Score,
	}
	payload, _ := json.Marshal(msg)
	if err := e.publisher.Publish("vision/"+ev.CameraID+"/events", e.qos, payload); err != nil {
		e.logger.Warn("Failed to publish event", "event", ev.ID, "error", err)
	}
}

func cameraIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "vision" && parts[len(parts)-1] == "detections" {
		return parts[1]
	}
	return ""
}
