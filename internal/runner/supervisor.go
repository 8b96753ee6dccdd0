package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// killGrace is how long a child gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

type childKey struct {
	modelID  string
	cameraID string
}

type child struct {
	worker    Worker
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	exitCode  int
}

// ChildStatus is a point-in-time view of one worker process.
type ChildStatus struct {
	ModelID   string    `json:"model_id"`
	CameraID  string    `json:"camera_id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Alive     bool      `json:"alive"`
	ExitCode  int       `json:"exit_code"`
}

// Supervisor launches the planned workers and tracks them until they exit
// or shutdown is requested. A worker that dies is logged with its exit code
// but not relaunched; restart policy belongs to the outer orchestrator.
type Supervisor struct {
	mu       sync.Mutex
	children map[childKey]*child

	logger *slog.Logger
}

// NewSupervisor builds an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		children: make(map[childKey]*child),
		logger:   slog.Default().With("component", "runner_supervisor"),
	}
}

// ErrNothingLaunched is returned when no worker could be started.
var ErrNothingLaunched = errors.New("no inference workers launched")

// Run launches every planned worker and blocks until all of them have
// exited or ctx is cancelled. Cancellation terminates the fleet: SIGTERM,
// a grace period, then SIGKILL.
func (s *Supervisor) Run(ctx context.Context, workers []Worker) error {
	launched := 0
	for _, w := range workers {
		if err := s.launch(w); err != nil {
			s.logger.Error("Failed to launch worker",
				"model", w.ModelID, "camera", w.CameraID, "error", err)
			continue
		}
		launched++
	}
	if launched == 0 {
		return ErrNothingLaunched
	}
	s.logger.Info("Inference fleet launched", "workers", launched)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			if s.reap() == 0 {
				s.logger.Info("All inference workers have exited")
				return nil
			}
		}
	}
}

func (s *Supervisor) launch(w Worker) error {
	cmd := exec.Command(w.Path, w.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", w.Path, err)
	}

	c := &child{
		worker:    w,
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	go func() {
		err := cmd.Wait()
		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		c.exitCode = code
		close(c.done)
	}()

	s.mu.Lock()
	s.children[childKey{w.ModelID, w.CameraID}] = c
	s.mu.Unlock()

	s.logger.Info("Worker started",
		"model", w.ModelID, "camera", w.CameraID, "pid", cmd.Process.Pid)
	return nil
}

// reap logs and removes exited children, returning how many are still alive.
func (s *Supervisor) reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.children {
		select {
		case <-c.done:
			s.logger.Warn("Worker exited",
				"model", key.modelID, "camera", key.cameraID,
				"exit_code", c.exitCode,
				"uptime", time.Since(c.startedAt).Round(time.Second))
			delete(s.children, key)
		default:
		}
	}
	return len(s.children)
}

// shutdown terminates every living child: SIGTERM, wait up to killGrace,
// then SIGKILL.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	living := make(map[childKey]*child, len(s.children))
	for k, c := range s.children {
		living[k] = c
	}
	s.mu.Unlock()

	for key, c := range living {
		select {
		case <-c.done:
			continue
		default:
		}
		s.logger.Info("Terminating worker", "model", key.modelID, "camera", key.cameraID)
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
	}

	for key, c := range living {
		select {
		case <-c.done:
		case <-time.After(killGrace):
			s.logger.Warn("Worker ignored SIGTERM, killing",
				"model", key.modelID, "camera", key.cameraID)
			_ = c.cmd.Process.Kill()
			<-c.done
		}
	}

	s.mu.Lock()
	s.children = make(map[childKey]*child)
	s.mu.Unlock()
	s.logger.Info("Inference fleet stopped")
}

// Statuses reports the tracked children.
func (s *Supervisor) Statuses() []ChildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChildStatus, 0, len(s.children))
	for key, c := range s.children {
		st := ChildStatus{
			ModelID:   key.modelID,
			CameraID:  key.cameraID,
			PID:       c.cmd.Process.Pid,
			StartedAt: c.startedAt,
			Alive:     true,
		}
		select {
		case <-c.done:
			st.Alive = false
			st.ExitCode = c.exitCode
		default:
		}
		out = append(out, st)
	}
	return out
}
