// Package config loads the camera and model catalogs and the environment
// settings shared by the fence engine, the recorder, and the runner launcher.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings enumerates every environment variable the services recognize,
// resolved once at startup.
type Settings struct {
	// Catalog paths
	CamerasJSON string
	ModelsJSON  string

	// Filesystem roots
	RecordingsDir string
	EventsDir     string
	BufferDir     string

	// Segmenting and clipping
	SegmentSeconds       int
	PreSeconds           int
	PostSeconds          int
	BufferSegmentSeconds int
	BufferSeconds        int
	StableSeconds        int
	SegmentReadyGrace    int
	SegmentMaxWait       int
	BufferReadyGrace     int

	// Post-processing and buffer behaviour
	Faststart      bool
	RemuxMP4       bool
	BufferEnabled  bool
	BufferReencode bool
	BufferGOP      int
	EventMinBytes  int64

	// Fence evaluation
	CooldownSeconds float64
	PositionDigits  int

	// Stream rewriting
	StreamHostInternal string
	StreamPortInternal string

	// MQTT
	MQTTHost     string
	MQTTPort     int
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string
	MQTTQoS      byte

	// Database
	DatabaseURL      string
	DatabaseHost     string
	DatabasePort     int
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Status endpoint (recorder only)
	StatusAddr string

	LogLevel string
}

// LoadSettings builds Settings from the environment, applying the documented
// defaults for anything unset.
func LoadSettings() Settings {
	s := Settings{
		CamerasJSON: getEnv("CAMERAS_JSON", "/app/share/cameras.json"),
		ModelsJSON:  getEnv("MODELS_JSON", "/app/share/models.json"),

		RecordingsDir: getEnv("RECORDINGS_DIR", "/app/share/recordings"),
		EventsDir:     getEnv("EVENTS_DIR", "/app/share/events"),
		BufferDir:     getEnv("EVENT_BUFFER_DIR", "/app/share/recordings_buffer"),

		SegmentSeconds:       getEnvInt("SEGMENT_SECONDS", 300),
		PreSeconds:           getEnvInt("EVENT_PRE_SECONDS", 10),
		PostSeconds:          getEnvInt("EVENT_POST_SECONDS", 10),
		BufferSegmentSeconds: getEnvInt("EVENT_BUFFER_SEGMENT_SECONDS", 1),
		StableSeconds:        getEnvInt("POSTPROCESS_STABLE_SECONDS", 2),
		SegmentReadyGrace:    getEnvInt("SEGMENT_READY_GRACE", 2),
		SegmentMaxWait:       getEnvInt("SEGMENT_MAX_WAIT", 15),
		BufferReadyGrace:     getEnvInt("EVENT_BUFFER_READY_GRACE", 2),

		Faststart:      getEnvBool("POSTPROCESS_FASTSTART", true),
		RemuxMP4:       getEnvBool("POSTPROCESS_REMUX_MP4", true),
		BufferEnabled:  getEnvBool("EVENT_BUFFER_ENABLED", true),
		BufferReencode: getEnvBool("EVENT_BUFFER_REENCODE", true),
		BufferGOP:      getEnvInt("EVENT_BUFFER_GOP", 10),
		EventMinBytes:  int64(getEnvInt("EVENT_MIN_BYTES", 4096)),

		CooldownSeconds: getEnvFloat("FENCE_COOLDOWN_SEC", 30),
		PositionDigits:  getEnvInt("FENCE_POSITION_DIGITS", 2),

		StreamHostInternal: getEnv("STREAM_HOST_INTERNAL", "go2rtc"),
		StreamPortInternal: getEnv("STREAM_PORT_INTERNAL", "8554"),

		MQTTHost:     getEnv("MQTT_HOST", "mqtt"),
		MQTTPort:     getEnvInt("MQTT_PORT", 1883),
		MQTTUsername: os.Getenv("MQTT_USERNAME"),
		MQTTPassword: os.Getenv("MQTT_PASSWORD"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DatabaseHost:     getEnv("DATABASE_HOST", "postgres"),
		DatabasePort:     getEnvInt("DATABASE_PORT", 5432),
		DatabaseName:     getEnv("DATABASE_NAME", "vision"),
		DatabaseUser:     getEnv("DATABASE_USER", "vision_user"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "vision_pass"),

		StatusAddr: getEnv("STATUS_ADDR", ":8093"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	s.MQTTTopic = os.Getenv("MQTT_TOPIC")
	s.BufferSeconds = getEnvInt("EVENT_BUFFER_SECONDS", s.PreSeconds)

	if qos := getEnvInt("MQTT_QOS", 0); qos >= 0 && qos <= 2 {
		s.MQTTQoS = byte(qos)
	}
	if s.PositionDigits < 0 {
		s.PositionDigits = 0
	}
	return s
}

// BufferRetention is how long pre-buffer segments are kept on disk before
// the retention sweep removes them.
func (s Settings) BufferRetention() time.Duration {
	keep := s.BufferSeconds + s.PostSeconds + 5
	if min := s.BufferSegmentSeconds * 3; keep < min {
		keep = min
	}
	return time.Duration(keep) * time.Second
}

// DatabaseConnString returns DATABASE_URL when set, otherwise a keyword
// conninfo assembled from the individual DATABASE_* variables.
func (s Settings) DatabaseConnString() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		s.DatabaseHost, s.DatabasePort, s.DatabaseName, s.DatabaseUser, s.DatabasePassword)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1"
}
