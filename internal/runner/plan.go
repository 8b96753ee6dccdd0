// Package runner expands the camera×model configuration into a fleet of
// inference worker processes and supervises their lifetime.
package runner

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fencewatch/fencewatch/internal/config"
	"github.com/fencewatch/fencewatch/internal/streamurl"
)

// Worker is one planned inference process.
type Worker struct {
	ModelID  string
	CameraID string
	Path     string
	Args     []string
}

// MQTTParams are the broker flags handed to each worker so its detections
// land on the bus. An empty Host omits the flags entirely.
type MQTTParams struct {
	Host     string
	Port     int
	Topic    string
	Username string
	Password string
	QoS      int
}

// Planner builds the launch plan from the loaded catalogs.
type Planner struct {
	Rewriter streamurl.Rewriter
	MQTT     MQTTParams

	fileExists func(path string) bool
	logger     *slog.Logger
}

// NewPlanner builds a planner.
func NewPlanner(rw streamurl.Rewriter, mqtt MQTTParams) *Planner {
	return &Planner{
		Rewriter:   rw,
		MQTT:       mqtt,
		fileExists: regularFileExists,
		logger:     slog.Default().With("component", "runner_plan"),
	}
}

// BuildPlan expands cameras×models into workers. Cameras that are disabled,
// unbound, or overlay outputs are skipped; models whose runner or weights
// are unusable are skipped with a warning.
func (p *Planner) BuildPlan(cameras []config.Camera, models []config.Model) []Worker {
	var workers []Worker
	for _, cam := range cameras {
		if !cam.Enabled || cam.ModelID == "" {
			continue
		}
		// Overlay streams are worker output, never worker input.
		if strings.HasSuffix(cam.ID, "overlay") || strings.HasSuffix(cam.StreamID, "overlay") {
			continue
		}

		model := config.MatchModel(cam.ModelID, models)
		if model == nil {
			p.logger.Warn("No model matches camera binding", "camera", cam.ID, "model_id", cam.ModelID)
			continue
		}
		if model.Runner == "" || !p.fileExists(model.Runner) {
			p.logger.Warn("Model runner missing or not a file",
				"camera", cam.ID, "model", model.Name, "runner", model.Runner)
			continue
		}
		if model.Weights == "" {
			p.logger.Warn("Model has no weights", "camera", cam.ID, "model", model.Name)
			continue
		}
		if model.ClassFile != "" {
			if classes, err := config.ParseClassFile(model.ClassFile); err != nil {
				p.logger.Warn("Class file unreadable, worker will use model defaults",
					"model", model.Name, "path", model.ClassFile, "error", err)
			} else {
				p.logger.Debug("Class file loaded", "model", model.Name, "classes", len(classes))
			}
		}

		inputURL := p.Rewriter.PullURL(cam.StreamID, p.Rewriter.RewriteInternal(cam.RTSPURL))
		outputURL := streamurl.OverlayURL(inputURL)

		workers = append(workers, Worker{
			ModelID:  cam.ModelID,
			CameraID: cam.ID,
			Path:     model.Runner,
			Args:     p.buildArgs(cam, model, inputURL, outputURL),
		})
	}
	return workers
}

func (p *Planner) buildArgs(cam config.Camera, model *config.Model, inputURL, outputURL string) []string {
	args := []string{
		"--weights", model.Weights,
		"--input-width", strconv.Itoa(model.InputWidth),
		"--input-height", strconv.Itoa(model.InputHeight),
		"--model-name", model.Name,
		"--model-id", cam.ModelID,
		"--cameras", cam.ID,
		"--input-url", inputURL,
		"--output-url", outputURL,
	}
	if model.Device != "" {
		args = append(args, "--device", model.Device)
	}
	if model.ClassFile != "" {
		args = append(args, "--class-file", model.ClassFile)
	}
	if p.MQTT.Host != "" {
		args = append(args,
			"--mqtt-host", p.MQTT.Host,
			"--mqtt-port", strconv.Itoa(p.MQTT.Port),
			"--mqtt-topic", p.MQTT.Topic,
		)
		if p.MQTT.Username != "" {
			args = append(args, "--mqtt-username", p.MQTT.Username, "--mqtt-password", p.MQTT.Password)
		}
		args = append(args, "--mqtt-qos", strconv.Itoa(p.MQTT.QoS))
	}
	return args
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
