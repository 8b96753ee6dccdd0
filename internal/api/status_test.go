package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fencewatch/fencewatch/internal/recording"
)

func TestHealthz(t *testing.T) {
	s := NewServer(":0", StatusSource{})
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthzReportsDBFailure(t *testing.T) {
	s := NewServer(":0", StatusSource{
		DBHealth: func(context.Context) error { return fmt.Errorf("down") },
	})
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := NewServer(":0", StatusSource{
		Recorders: func() []recording.RecorderStatus {
			return []recording.RecorderStatus{
				{CameraID: "camA", State: recording.RecorderStateRunning, PID: 42},
			}
		},
		QueueDepth: func() int { return 3 },
		Disk: func() recording.DiskStatus {
			return recording.DiskStatus{Path: "/data", UsedPercent: 55}
		},
	})
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool          `json:"success"`
		Data    statusPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Success {
		t.Error("success = false, want true")
	}
	if len(body.Data.Recorders) != 1 || body.Data.Recorders[0].CameraID != "camA" {
		t.Errorf("recorders = %+v", body.Data.Recorders)
	}
	if body.Data.QueueDepth == nil || *body.Data.QueueDepth != 3 {
		t.Errorf("queue depth = %v, want 3", body.Data.QueueDepth)
	}
	if body.Data.Disk == nil || body.Data.Disk.UsedPercent != 55 {
		t.Errorf("disk = %+v", body.Data.Disk)
	}
	if body.Data.Buffers != nil {
		t.Errorf("buffers should be omitted when no source wired, got %+v", body.Data.Buffers)
	}
}
