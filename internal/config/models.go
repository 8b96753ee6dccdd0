package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Model is one entry from models.json. Candidates hold the slugified names
// the camera→model binding matches against.
type Model struct {
	Name        string
	Type        string
	Weights     string
	Runner      string
	InputWidth  int
	InputHeight int
	Device      string
	ClassFile   string

	candidates []string
}

const (
	defaultInputWidth  = 640
	defaultInputHeight = 640
)

type modelJSON struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Weights   string `json:"weights"`
	Runner    string `json:"runner"`
	InputSize []int  `json:"inputSize"`
	Device    string `json:"device"`
	ClassFile string `json:"class_file"`
}

type modelFile struct {
	Models []modelJSON `json:"models"`
}

// LoadModels parses models.json and indexes each model's match candidates.
// Invalid input sizes fall back to 640×640.
func LoadModels(path string) ([]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}

	var file modelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}

	models := make([]Model, 0, len(file.Models))
	for _, raw := range file.Models {
		m := Model{
			Name:        raw.Name,
			Type:        raw.Type,
			Weights:     raw.Weights,
			Runner:      raw.Runner,
			Device:      raw.Device,
			ClassFile:   raw.ClassFile,
			InputWidth:  defaultInputWidth,
			InputHeight: defaultInputHeight,
		}
		if len(raw.InputSize) >= 2 && raw.InputSize[0] > 0 && raw.InputSize[1] > 0 {
			m.InputWidth = raw.InputSize[0]
			m.InputHeight = raw.InputSize[1]
		}
		m.candidates = buildCandidates(raw)
		models = append(models, m)
	}
	return models, nil
}

func buildCandidates(raw modelJSON) []string {
	set := make(map[string]struct{})
	add := func(s string) {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	if raw.Name != "" {
		add(strings.ToLower(raw.Name))
		add(Slugify(raw.Name))
	}
	if raw.Weights != "" {
		stem := strings.TrimSuffix(filepath.Base(raw.Weights), filepath.Ext(raw.Weights))
		add(strings.ToLower(stem))
		add(Slugify(stem))
	}
	if raw.Type != "" {
		add(strings.ToLower(raw.Type))
	}

	candidates := make([]string, 0, len(set))
	for c := range set {
		candidates = append(candidates, c)
	}
	return candidates
}

// MatchModel resolves a camera's modelID against the catalog. A model matches
// on an exact slug/lowercase hit or when one side's slug is a prefix of the
// other. First match wins.
func MatchModel(modelID string, models []Model) *Model {
	targetSlug := Slugify(modelID)
	targetLower := strings.ToLower(modelID)

	for i := range models {
		for _, candidate := range models[i].candidates {
			if targetLower == candidate || targetSlug == candidate {
				return &models[i]
			}
			if strings.HasPrefix(candidate, targetSlug) || strings.HasPrefix(targetSlug, candidate) {
				return &models[i]
			}
		}
	}
	return nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases a name and collapses every non-alphanumeric run into a
// single underscore.
func Slugify(text string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(text), "_"), "_")
}
