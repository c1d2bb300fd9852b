package model

import "time"

// Responder is a volunteer or first responder mirrored from the external
// directory. ActiveTasks is owned by the engine.
type Responder struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Skills      []string  `json:"skills"`
	Location    string    `json:"location"`
	Available   bool      `json:"available"`
	ActiveTasks int       `json:"current_task_count"`
	SuccessRate float64   `json:"success_rate"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// HasSkills reports whether every required skill is present.
func (r Responder) HasSkills(required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(r.Skills))
	for _, s := range r.Skills {
		set[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// DirectoryEntry is a responder snapshot received from the directory.
type DirectoryEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Skills      []string `json:"skills"`
	Location    string   `json:"location"`
	Available   *bool    `json:"available"`
	TaskCount   *int     `json:"current_task_count"`
	SuccessRate *float64 `json:"success_rate"`
}

// Apply merges the directory entry into r. The active task count from the
// directory is only used to seed unknown responders.
func (e DirectoryEntry) Apply(r Responder, known bool, now time.Time) (Responder, error) {
	if e.ID == "" {
		return r, Errorf(ErrInvalidInput, "directory entry", "id is required")
	}
	skills, err := NormalizeTags(e.Skills)
	if err != nil {
		return r, err
	}
	r.ID = e.ID
	if e.Name != "" {
		r.Name = e.Name
	}
	if e.Skills != nil {
		r.Skills = skills
	}
	if e.Location != "" {
		r.Location = e.Location
	}
	if e.Available != nil {
		r.Available = *e.Available
	} else if !known {
		r.Available = true
	}
	if e.SuccessRate != nil {
		sr := *e.SuccessRate
		if sr < 0 {
			sr = 0
		} else if sr > 1 {
			sr = 1
		}
		r.SuccessRate = sr
	}
	if !known && e.TaskCount != nil && *e.TaskCount > 0 {
		r.ActiveTasks = *e.TaskCount
	}
	r.UpdatedAt = now
	return r, nil
}
