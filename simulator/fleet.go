package simulator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

var fleetRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// GenerateFleet creates cfg.FleetSize responders with IDs resp0001..respNNNN.
// Skill sets are handed out round-robin; the start offset is random so
// short fleets do not always favour the first set.
func GenerateFleet(cfg Config) []*Responder {
	if cfg.FleetSize <= 0 || len(cfg.SkillSets) == 0 {
		return nil
	}
	offset := fleetRng.Intn(len(cfg.SkillSets))
	rs := make([]*Responder, cfg.FleetSize)
	for i := range rs {
		rs[i] = &Responder{
			ID:           fmt.Sprintf("resp%04d", i+1),
			Skills:       splitSkills(cfg.SkillSets[(i+offset)%len(cfg.SkillSets)]),
			Availability: cfg.Availability,
			StatePrefix:  cfg.StatePrefix,
			EventPrefix:  cfg.EventPrefix,
			Interval:     cfg.Interval,
		}
	}
	return rs
}

// LoadAvailabilityProfile reads an hourly on-shift profile from JSON keyed by
// hour, for example {"8":1,"20":0.3}. Hours not listed are off shift.
func LoadAvailabilityProfile(data []byte) ([24]float64, error) {
	var m map[string]float64
	var prof [24]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 {
			prof[hour] = v
		}
	}
	return prof, nil
}
