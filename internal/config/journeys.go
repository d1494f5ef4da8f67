package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Journey is one watched route, origin and boarding station whose report
// is published after every position poll.
type Journey struct {
	Name           string `yaml:"name" validate:"required"`
	RouteID        string `yaml:"route_id" validate:"required"`
	Origin         string `yaml:"origin" validate:"required"`
	BoardingStopID string `yaml:"boarding_stop_id" validate:"required"`
	VehicleLabel   string `yaml:"vehicle_label"`
}

type journeysFile struct {
	Journeys []Journey `yaml:"journeys" validate:"dive"`
}

// LoadJourneys reads the watchlist at path. An empty path means no
// journeys.
func LoadJourneys(path string) ([]Journey, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journeys file: %w", err)
	}

	var file journeysFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse journeys file %s: %w", path, err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid journeys file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(file.Journeys))
	for _, j := range file.Journeys {
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("invalid journeys file %s: duplicate journey %q", path, j.Name)
		}
		seen[j.Name] = struct{}{}
	}

	return file.Journeys, nil
}
