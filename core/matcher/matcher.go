package matcher

import (
	"context"
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/reliefgrid/coordinator/core/logger"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
)

// Weights blend the four match components. They must sum to 1.
type Weights struct {
	Skill    float64 `json:"skill_weight"`
	Distance float64 `json:"distance_weight"`
	Workload float64 `json:"workload_weight"`
	Success  float64 `json:"success_weight"`
}

func (w Weights) slice() []float64 { return []float64{w.Skill, w.Distance, w.Workload, w.Success} }

// Config defines the matching model.
type Config struct {
	Weights Weights `json:"weights"`
	// MaxConcurrentTasks caps the active tasks of a responder.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	// DistanceScaleKm is the distance at which the distance component is 0.5.
	DistanceScaleKm float64 `json:"distance_scale_km"`
	// UnknownDistanceScore is the distance component when no distance is known.
	UnknownDistanceScore float64 `json:"unknown_distance_score"`
	// DefaultRadiusKm applies when a command supplies no radius. 0 disables
	// the radius constraint.
	DefaultRadiusKm float64 `json:"default_radius_km"`
}

// DefaultConfig returns the stock matching model.
func DefaultConfig() Config {
	return Config{
		Weights:              Weights{Skill: 0.4, Distance: 0.3, Workload: 0.2, Success: 0.1},
		MaxConcurrentTasks:   3,
		DistanceScaleKm:      10,
		UnknownDistanceScore: 0.5,
	}
}

// SetDefaults fills zero fields from DefaultConfig.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if c.DistanceScaleKm == 0 {
		c.DistanceScaleKm = d.DistanceScaleKm
	}
	if c.UnknownDistanceScore == 0 {
		c.UnknownDistanceScore = d.UnknownDistanceScore
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	const op = "matcher config"
	w := c.Weights.slice()
	for _, v := range w {
		if v < 0 || math.IsNaN(v) {
			return model.Errorf(model.ErrInvalidConfig, op, "weights must be non-negative")
		}
	}
	if sum := floats.Sum(w); math.Abs(sum-1) > 1e-6 {
		return model.Errorf(model.ErrInvalidConfig, op, "weights must sum to 1.0, got %.6f", sum)
	}
	if c.MaxConcurrentTasks < 1 {
		return model.Errorf(model.ErrInvalidConfig, op, "max_concurrent_tasks must be at least 1")
	}
	if c.DistanceScaleKm <= 0 {
		return model.Errorf(model.ErrInvalidConfig, op, "distance_scale_km must be positive")
	}
	if c.UnknownDistanceScore < 0 || c.UnknownDistanceScore > 1 {
		return model.Errorf(model.ErrInvalidConfig, op, "unknown_distance_score must be within [0,1]")
	}
	if c.DefaultRadiusKm < 0 {
		return model.Errorf(model.ErrInvalidConfig, op, "default_radius_km must not be negative")
	}
	return nil
}

// DistanceSource supplies precomputed responder-to-location distances.
type DistanceSource interface {
	DistanceKm(r model.Responder, location string) (float64, bool)
}

// DistanceFunc adapts a function to DistanceSource.
type DistanceFunc func(r model.Responder, location string) (float64, bool)

func (f DistanceFunc) DistanceKm(r model.Responder, location string) (float64, bool) {
	return f(r, location)
}

// NoDistance reports every distance as unknown.
type NoDistance struct{}

func (NoDistance) DistanceKm(model.Responder, string) (float64, bool) { return 0, false }

// Reserver holds and releases ledger stock for a task.
type Reserver interface {
	ReserveLines(ctx context.Context, taskID string, lines model.Lines) ([]model.ReservationToken, error)
	ReleaseAll(ctx context.Context, toks []model.ReservationToken) error
}

// Components are the normalized inputs of a match score.
type Components struct {
	Skill    float64 `json:"skill"`
	Distance float64 `json:"distance"`
	Workload float64 `json:"workload"`
	Success  float64 `json:"success"`
}

// Candidate is an eligible responder with its match score.
type Candidate struct {
	ResponderID string     `json:"responder_id"`
	Score       float64    `json:"score"`
	ActiveTasks int        `json:"active_tasks"`
	DistanceKm  *float64   `json:"distance_km,omitempty"`
	Components  Components `json:"components"`
}

// Options select how a task is matched.
type Options struct {
	// ResponderID forces a manual assignment when set.
	ResponderID string
	// Location is the place the task is performed at.
	Location string
	// RadiusKm limits candidates to known distances within the radius.
	RadiusKm float64
	// Planned marks ResponderID as chosen by a batch plan rather than an
	// operator. A planned commit behaves like an automatic one and Score
	// carries the planned match score.
	Planned bool
	Score   float64
}

// Matcher ranks responders for tasks and commits assignments.
type Matcher struct {
	cfg    Config
	store  store.Store
	ledger Reserver
	dist   DistanceSource
	log    logger.Logger
}

// New validates cfg and returns a Matcher. A nil DistanceSource treats every
// distance as unknown.
func New(cfg Config, st store.Store, ledger Reserver, dist DistanceSource, log logger.Logger) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dist == nil {
		dist = NoDistance{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Matcher{cfg: cfg, store: st, ledger: ledger, dist: dist, log: log}, nil
}

// Config returns the matcher configuration.
func (m *Matcher) Config() Config { return m.cfg }

// Rank filters responders by eligibility and returns them best first. Ties
// are broken by lower workload and then by responder id.
func (m *Matcher) Rank(task model.Task, opts Options, responders []model.Responder) []Candidate {
	radius := opts.RadiusKm
	if radius == 0 {
		radius = m.cfg.DefaultRadiusKm
	}
	out := make([]Candidate, 0, len(responders))
	for _, r := range responders {
		if !r.Available || r.ActiveTasks >= m.cfg.MaxConcurrentTasks || !r.HasSkills(task.RequiredSkills) {
			continue
		}
		d, known := m.dist.DistanceKm(r, opts.Location)
		if known && (d < 0 || math.IsNaN(d)) {
			known = false
		}
		if radius > 0 && (!known || d > radius) {
			continue
		}
		c := Components{
			Skill:    skillOverlap(task, r),
			Distance: m.cfg.UnknownDistanceScore,
			Workload: 1 - float64(r.ActiveTasks)/float64(m.cfg.MaxConcurrentTasks),
			Success:  math.Max(0, math.Min(1, r.SuccessRate)),
		}
		cand := Candidate{ResponderID: r.ID, ActiveTasks: r.ActiveTasks, Components: c}
		if known {
			c.Distance = 1 / (1 + d/m.cfg.DistanceScaleKm)
			cand.Components = c
			dd := d
			cand.DistanceKm = &dd
		}
		cand.Score = floats.Dot(m.cfg.Weights.slice(), []float64{c.Skill, c.Distance, c.Workload, c.Success})
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ActiveTasks != b.ActiveTasks {
			return a.ActiveTasks < b.ActiveTasks
		}
		return a.ResponderID < b.ResponderID
	})
	return out
}

// skillOverlap is the share of the task's skill tags, its type included,
// that the responder holds.
func skillOverlap(task model.Task, r model.Responder) float64 {
	desired := map[string]struct{}{task.Type: {}}
	for _, s := range task.RequiredSkills {
		desired[s] = struct{}{}
	}
	have := 0
	for _, s := range r.Skills {
		if _, ok := desired[s]; ok {
			have++
		}
	}
	return float64(have) / float64(len(desired))
}

// Candidates loads the directory and ranks it for task.
func (m *Matcher) Candidates(ctx context.Context, task model.Task, opts Options) ([]Candidate, error) {
	rs, err := m.store.ListResponders(ctx)
	if err != nil {
		return nil, model.FromContext("candidates", err)
	}
	return m.Rank(task, opts, rs), nil
}

// Commit assigns task and reserves its resources. With opts.ResponderID set
// ranking is skipped. An operator's choice overrides the skill and radius
// rules; availability and the task slot limit still apply. Otherwise candidates are tried best first: a responder
// whose slot was taken concurrently is skipped, while a failed resource
// reservation aborts with ErrResourceUnavailable since stock does not depend
// on the responder. Nothing is held when an error is returned.
//
// A task that is already assigned and still active yields its existing
// assignment.
func (m *Matcher) Commit(ctx context.Context, task model.Task, opts Options) (model.Assignment, []Candidate, error) {
	const op = "assign"
	if task.Status.Active() && task.ResponderID != "" {
		return existing(task), nil, nil
	}
	if task.Status != model.TaskPending {
		return model.Assignment{}, nil, model.Errorf(model.ErrInvalidTransition, op, "task %s is %s", task.ID, task.Status)
	}
	if opts.ResponderID != "" {
		asn, err := m.commitTo(ctx, task, opts.ResponderID, opts.Score, !opts.Planned)
		return asn, nil, err
	}
	cands, err := m.Candidates(ctx, task, opts)
	if err != nil {
		return model.Assignment{}, nil, err
	}
	if len(cands) == 0 {
		return model.Assignment{}, cands, model.Errorf(model.ErrNoEligibleCandidate, op, "task %s: no responder satisfies the constraints", task.ID)
	}
	for _, c := range cands {
		asn, err := m.commitTo(ctx, task, c.ResponderID, c.Score, false)
		if err == nil {
			return asn, cands, nil
		}
		if errors.Is(err, model.ErrCapacity) {
			m.log.Debugf("responder %s no longer has capacity for task %s", c.ResponderID, task.ID)
			continue
		}
		return model.Assignment{}, cands, err
	}
	return model.Assignment{}, cands, model.Errorf(model.ErrNoEligibleCandidate, op, "task %s: every candidate was claimed concurrently", task.ID)
}

func (m *Matcher) commitTo(ctx context.Context, task model.Task, responderID string, score float64, manual bool) (model.Assignment, error) {
	const op = "assign"
	if _, err := m.store.AdjustWorkload(ctx, responderID, 1, m.cfg.MaxConcurrentTasks); err != nil {
		if manual && errors.Is(err, model.ErrCapacity) {
			return model.Assignment{}, model.Errorf(model.ErrNoEligibleCandidate, op, "responder %s: %v", responderID, err)
		}
		return model.Assignment{}, model.FromContext(op, err)
	}
	toks, err := m.ledger.ReserveLines(ctx, task.ID, task.RequiredResources)
	if err != nil {
		m.ReleaseSlot(context.WithoutCancel(ctx), responderID)
		if errors.Is(err, model.ErrInsufficientStock) {
			return model.Assignment{}, &model.Error{Kind: model.ErrResourceUnavailable, Op: op, Msg: err.Error()}
		}
		return model.Assignment{}, err
	}
	return model.Assignment{TaskID: task.ID, ResponderID: responderID, Score: score, Manual: manual, Tokens: toks}, nil
}

// ReleaseSlot frees one task slot of a responder.
func (m *Matcher) ReleaseSlot(ctx context.Context, responderID string) {
	if responderID == "" {
		return
	}
	if _, err := m.store.AdjustWorkload(ctx, responderID, -1, m.cfg.MaxConcurrentTasks); err != nil {
		m.log.Errorf("release slot of %s: %v", responderID, err)
	}
}

func existing(t model.Task) model.Assignment {
	return model.Assignment{
		TaskID:      t.ID,
		ResponderID: t.ResponderID,
		Tokens:      append([]model.ReservationToken(nil), t.Reservations...),
	}
}
