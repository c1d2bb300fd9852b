package scenarios

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reliefgrid/coordinator/core/model"
)

type ResponderDef struct {
	ID        string   `yaml:"id"`
	Skills    []string `yaml:"skills"`
	Location  string   `yaml:"location,omitempty"`
	Available *bool    `yaml:"available,omitempty"`
}

func (r ResponderDef) ToEntry() model.DirectoryEntry {
	return model.DirectoryEntry{ID: r.ID, Skills: r.Skills, Location: r.Location, Available: r.Available}
}

type ResourceDef struct {
	ID        string `yaml:"id"`
	Type      string `yaml:"type"`
	Total     int    `yaml:"total"`
	Threshold int    `yaml:"threshold"`
}

func (r ResourceDef) ToModel() model.Resource {
	return model.Resource{ID: r.ID, Name: r.ID, Type: model.ResourceType(r.Type), Total: r.Total, Threshold: r.Threshold}
}

// Expected is checked once every step has run.
type Expected struct {
	Tasks          map[model.TaskStatus]int `yaml:"tasks"`
	AwaitingManual int                      `yaml:"awaiting_manual"`
	LowStock       int                      `yaml:"low_stock"`
	Consumed       map[string]int           `yaml:"consumed,omitempty"`
}

// Scenario seeds responders and stock, submits requests in order, then
// optionally completes the assigned tasks and runs a sweep.
type Scenario struct {
	Name               string                    `yaml:"name"`
	Description        string                    `yaml:"description,omitempty"`
	MaxConcurrentTasks int                       `yaml:"max_concurrent_tasks,omitempty"`
	Responders         []ResponderDef            `yaml:"responders"`
	Resources          []ResourceDef             `yaml:"resources"`
	Requests           []model.NormalizedRequest `yaml:"requests"`
	CompleteAssigned   bool                      `yaml:"complete_assigned"`
	Sweep              bool                      `yaml:"sweep"`
	Expected           Expected                  `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
