package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one row of the events table.
type Event struct {
	ID        string
	CameraID  string
	ClassName string
	Timestamp time.Time
	Thumbnail *string
	Score     *float64
}

// NewEventID generates an opaque event id of the form evt_<12 hex chars>.
func NewEventID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "evt_" + hex[:12]
}

// InsertEvent persists an event. Re-delivery of the same id is a no-op.
func (db *DB) InsertEvent(ctx context.Context, ev Event) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO events (id, camera_id, class_name, ts, thumbnail, score)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.CameraID, ev.ClassName, ev.Timestamp, ev.Thumbnail, ev.Score)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
	}
	return nil
}

// UpdateThumbnail attaches a rendered clip filename to an existing event row.
func (db *DB) UpdateThumbnail(ctx context.Context, eventID, thumbnail string) error {
	_, err := db.pool.Exec(ctx, `UPDATE events SET thumbnail = $1 WHERE id = $2`, thumbnail, eventID)
	if err != nil {
		return fmt.Errorf("failed to update thumbnail for %s: %w", eventID, err)
	}
	return nil
}
