package engine

import (
	"sort"
	"time"

	"github.com/reliefgrid/coordinator/core/ledger"
	"github.com/reliefgrid/coordinator/core/matcher"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/priority"
)

// TaskTemplate describes the task derived from one declared need.
type TaskTemplate struct {
	TaskType string   `json:"task_type"`
	Skills   []string `json:"skills"`
	// Resources maps resource types to the quantity a task needs.
	Resources map[string]int `json:"resources"`
	// PerPerson multiplies every quantity by the request's people_count.
	PerPerson bool `json:"per_person"`
	// MaxQuantity caps a per-person quantity. 0 means no cap.
	MaxQuantity     int `json:"max_quantity"`
	DeadlineMinutes int `json:"deadline_minutes"`
}

// Spec builds the task spec of the template for a request of people
// persons.
func (t TaskTemplate) Spec(people int) model.TaskSpec {
	spec := model.TaskSpec{
		TaskType:        t.TaskType,
		RequiredSkills:  append([]string(nil), t.Skills...),
		DeadlineMinutes: t.DeadlineMinutes,
	}
	if len(t.Resources) == 0 {
		return spec
	}
	spec.RequiredResources = make(map[string]int, len(t.Resources))
	for typ, qty := range t.Resources {
		if t.PerPerson && people > 1 {
			qty *= people
			if t.MaxQuantity > 0 && qty > t.MaxQuantity {
				qty = t.MaxQuantity
			}
		}
		spec.RequiredResources[typ] = qty
	}
	return spec
}

// DefaultTaskTemplates maps the common need tags to the kind of team that
// answers them.
func DefaultTaskTemplates() map[string]TaskTemplate {
	return map[string]TaskTemplate{
		"medical":    {TaskType: "medical_response", Skills: []string{"medical"}, DeadlineMinutes: 60},
		"rescue":     {TaskType: "rescue", Skills: []string{"rescue"}, DeadlineMinutes: 60},
		"evacuation": {TaskType: "evacuation", Skills: []string{"driving"}},
		"water":      {TaskType: "delivery"},
		"food":       {TaskType: "delivery"},
		"clothing":   {TaskType: "delivery"},
		"shelter":    {TaskType: "setup"},
	}
}

// Config holds the engine settings. The scoring, matching and ledger models
// are loaded from their own configuration sections.
type Config struct {
	// OperationTimeoutMS bounds every command.
	OperationTimeoutMS int `json:"operation_timeout_ms"`
	// ManualOnly disables automatic matching on submit and sweep.
	ManualOnly bool `json:"manual_only"`
	// BatchPlanning matches pending tasks jointly during a sweep instead of
	// one at a time in queue order.
	BatchPlanning bool `json:"batch_planning"`
	// SweepIntervalSeconds is the period of the background rescore. 0
	// disables it.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	// ScoreMultiplier scales every priority score, for example during
	// severe weather.
	ScoreMultiplier float64                 `json:"score_multiplier"`
	TaskTemplates   map[string]TaskTemplate `json:"task_templates"`

	Priority priority.Config `json:"-"`
	Matcher  matcher.Config  `json:"-"`
	Ledger   ledger.Config   `json:"-"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.OperationTimeoutMS <= 0 {
		c.OperationTimeoutMS = 5000
	}
	if c.ScoreMultiplier == 0 {
		c.ScoreMultiplier = 1
	}
	if c.TaskTemplates == nil {
		c.TaskTemplates = DefaultTaskTemplates()
	}
	c.Priority.SetDefaults()
	c.Matcher.SetDefaults()
	c.Ledger.SetDefaults()
}

// Validate checks the engine settings and the nested models.
func (c Config) Validate() error {
	const op = "engine config"
	if c.OperationTimeoutMS <= 0 {
		return model.Errorf(model.ErrInvalidConfig, op, "operation_timeout_ms must be positive")
	}
	if c.SweepIntervalSeconds < 0 {
		return model.Errorf(model.ErrInvalidConfig, op, "sweep_interval_seconds must not be negative")
	}
	if c.ScoreMultiplier < 1 {
		return model.Errorf(model.ErrInvalidConfig, op, "score_multiplier must be at least 1")
	}
	needs := make([]string, 0, len(c.TaskTemplates))
	for need := range c.TaskTemplates {
		needs = append(needs, need)
	}
	sort.Strings(needs)
	for _, need := range needs {
		tpl := c.TaskTemplates[need]
		if tpl.TaskType == "" {
			return model.Errorf(model.ErrInvalidConfig, op, "task template %s: task_type is required", need)
		}
		for typ, qty := range tpl.Resources {
			if qty <= 0 {
				return model.Errorf(model.ErrInvalidConfig, op, "task template %s: quantity of %s must be positive", need, typ)
			}
		}
		if tpl.MaxQuantity < 0 || tpl.DeadlineMinutes < 0 {
			return model.Errorf(model.ErrInvalidConfig, op, "task template %s: limits must not be negative", need)
		}
	}
	if err := c.Priority.Validate(); err != nil {
		return err
	}
	return c.Matcher.Validate()
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.OperationTimeoutMS) * time.Millisecond
}

func (c Config) sweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// template returns the template for need. A need without a template becomes
// a task of the same name with no requirements.
func (c Config) template(need string) TaskTemplate {
	if tpl, ok := c.TaskTemplates[need]; ok {
		return tpl
	}
	return TaskTemplate{TaskType: need}
}
