package database

import (
	"regexp"
	"testing"
)

func TestNewEventID(t *testing.T) {
	pattern := regexp.MustCompile(`^evt_[0-9a-f]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewEventID()
		if !pattern.MatchString(id) {
			t.Fatalf("NewEventID() = %q, want evt_ followed by 12 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("NewEventID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}
