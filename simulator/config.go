package simulator

import (
	"fmt"
	"strings"
	"time"

	"github.com/reliefgrid/coordinator/auth"
)

// Config holds parameters for the responder simulator.
type Config struct {
	Broker string
	APIURL string
	Auth   auth.Conf
	// FleetSize is the number of simulated responders.
	FleetSize int
	// SkillSets are handed out round-robin. Each entry is a "+" separated
	// list such as "medical+driving".
	SkillSets   []string
	StatePrefix string
	EventPrefix string
	// Interval is the state publish period.
	Interval time.Duration
	// WorkTime is how long a responder spends on a task.
	WorkTime time.Duration
	// DropRate is the probability an assignment is ignored.
	DropRate float64
	// Availability is the probability, per hour of day, that a responder is
	// on shift.
	Availability [24]float64
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.FleetSize == 0 {
		c.FleetSize = 5
	}
	if len(c.SkillSets) == 0 {
		c.SkillSets = []string{"medical", "rescue", "driving"}
	}
	if c.StatePrefix == "" {
		c.StatePrefix = "coordination/responders"
	}
	if c.EventPrefix == "" {
		c.EventPrefix = "coordination/events"
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.WorkTime <= 0 {
		c.WorkTime = 10 * time.Second
	}
	var zero [24]float64
	if c.Availability == zero {
		for i := range c.Availability {
			c.Availability[i] = 1
		}
	}
}

// Validate checks the simulator settings.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	if c.FleetSize < 0 {
		return fmt.Errorf("fleet size must not be negative")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("drop rate must be within [0,1]")
	}
	for h, p := range c.Availability {
		if p < 0 || p > 1 {
			return fmt.Errorf("availability of hour %d must be within [0,1]", h)
		}
	}
	return c.Auth.Validate()
}

func splitSkills(set string) []string {
	var out []string
	for _, s := range strings.Split(set, "+") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
