package priority

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/reliefgrid/coordinator/core/model"
)

// Weights are the four blend factors of the score. They must sum to 1.
type Weights struct {
	Urgency              float64 `json:"urgency_weight"`
	Severity             float64 `json:"severity_weight"`
	ResourceAvailability float64 `json:"resource_availability_weight"`
	ResponseCapacity     float64 `json:"response_capacity_weight"`
}

func (w Weights) slice() []float64 {
	return []float64{w.Urgency, w.Severity, w.ResourceAvailability, w.ResponseCapacity}
}

// Thresholds are the minimum scores of each tier above low.
type Thresholds struct {
	Critical float64 `json:"critical"`
	High     float64 `json:"high"`
	Medium   float64 `json:"medium"`
}

// Config defines the scoring model.
type Config struct {
	Weights    Weights    `json:"weights"`
	Thresholds Thresholds `json:"thresholds"`
	// NeedRisk maps need tags to a risk factor in [0,1].
	NeedRisk map[string]float64 `json:"need_risk"`
	// HighRiskNeeds are tags that force critical requests into the top tier.
	HighRiskNeeds []string `json:"high_risk_needs"`
	// DefaultRisk applies to needs missing from NeedRisk.
	DefaultRisk float64 `json:"default_risk"`
	// PeopleSaturation is the head count at which the people factor reaches 1.
	PeopleSaturation int `json:"people_saturation"`
	// PeopleShare is the part of severity driven by people_count.
	PeopleShare float64 `json:"people_share"`
}

// DefaultConfig returns the stock scoring model.
func DefaultConfig() Config {
	return Config{
		Weights:    Weights{Urgency: 0.4, Severity: 0.3, ResourceAvailability: 0.15, ResponseCapacity: 0.15},
		Thresholds: Thresholds{Critical: 75, High: 50, Medium: 25},
		NeedRisk: map[string]float64{
			"medical":  1.0,
			"rescue":   1.0,
			"water":    0.7,
			"shelter":  0.6,
			"food":     0.5,
			"clothing": 0.3,
			"other":    0.2,
		},
		HighRiskNeeds:    []string{"medical", "rescue"},
		DefaultRisk:      0.3,
		PeopleSaturation: 50,
		PeopleShare:      0.3,
	}
}

// SetDefaults fills zero fields from DefaultConfig. Weights are only
// defaulted when all four are zero.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	if c.NeedRisk == nil {
		c.NeedRisk = d.NeedRisk
	}
	if c.HighRiskNeeds == nil {
		c.HighRiskNeeds = d.HighRiskNeeds
	}
	if c.DefaultRisk == 0 {
		c.DefaultRisk = d.DefaultRisk
	}
	if c.PeopleSaturation == 0 {
		c.PeopleSaturation = d.PeopleSaturation
	}
	if c.PeopleShare == 0 {
		c.PeopleShare = d.PeopleShare
	}
}

const weightTolerance = 1e-6

// Validate checks the configuration.
func (c Config) Validate() error {
	const op = "priority config"
	w := c.Weights.slice()
	for _, v := range w {
		if v < 0 || math.IsNaN(v) {
			return model.Errorf(model.ErrInvalidConfig, op, "weights must be non-negative")
		}
	}
	if sum := floats.Sum(w); math.Abs(sum-1) > weightTolerance {
		return model.Errorf(model.ErrInvalidConfig, op, "weights must sum to 1.0, got %.6f", sum)
	}
	t := c.Thresholds
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > 0 && t.Critical <= 100) {
		return model.Errorf(model.ErrInvalidConfig, op, "tier thresholds must satisfy 0 < medium < high < critical <= 100")
	}
	for tag, r := range c.NeedRisk {
		if r < 0 || r > 1 {
			return model.Errorf(model.ErrInvalidConfig, op, "risk for %s must be within [0,1]", tag)
		}
	}
	if c.DefaultRisk < 0 || c.DefaultRisk > 1 {
		return model.Errorf(model.ErrInvalidConfig, op, "default_risk must be within [0,1]")
	}
	if c.PeopleSaturation < 1 {
		return model.Errorf(model.ErrInvalidConfig, op, "people_saturation must be at least 1")
	}
	if c.PeopleShare < 0 || c.PeopleShare > 1 {
		return model.Errorf(model.ErrInvalidConfig, op, "people_share must be within [0,1]")
	}
	return nil
}

// Context is the environment a request is scored against.
type Context struct {
	// SystemLoad is the share of responder capacity in use, in [0,1].
	SystemLoad float64
	// AvailableResponders is the number of responders with a free slot.
	AvailableResponders int
	// Multiplier scales the final score for weather or operational
	// conditions. Values below 1 are treated as 1.
	Multiplier float64
	// Availability maps need tags to the fraction of ledger stock still
	// available. Needs without tracked stock are absent.
	Availability map[string]float64
}

// Components exposes the normalized inputs of a score.
type Components struct {
	Urgency              float64 `json:"urgency"`
	Severity             float64 `json:"severity"`
	ResourceAvailability float64 `json:"resource_availability"`
	ResponseCapacity     float64 `json:"response_capacity"`
}

// Result is the outcome of scoring a request.
type Result struct {
	Score      float64    `json:"score"`
	Tier       model.Tier `json:"tier"`
	Components Components `json:"components"`
	// Escalated is true when the critical high-risk floor was applied.
	Escalated bool `json:"escalated"`
}

// Scorer computes request priorities. It holds no mutable state and is safe
// for concurrent use.
type Scorer struct {
	cfg      Config
	highRisk map[string]struct{}
}

// NewScorer validates cfg and returns a Scorer.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hr := make(map[string]struct{}, len(cfg.HighRiskNeeds))
	for _, n := range cfg.HighRiskNeeds {
		hr[n] = struct{}{}
	}
	return &Scorer{cfg: cfg, highRisk: hr}, nil
}

// Score computes the priority of r in ctx.
func (s *Scorer) Score(r model.Request, ctx Context) Result {
	c := Components{
		Urgency:              urgencyFactor(r.Urgency),
		Severity:             s.severity(r),
		ResourceAvailability: s.availability(r, ctx),
		ResponseCapacity:     capacity(ctx),
	}
	raw := floats.Dot(s.cfg.Weights.slice(), []float64{c.Urgency, c.Severity, c.ResourceAvailability, c.ResponseCapacity})
	mult := ctx.Multiplier
	if mult < 1 || math.IsNaN(mult) {
		mult = 1
	}
	score := clamp(raw*100*mult, 0, 100)
	res := Result{Score: round2(score), Components: c}
	if r.Urgency == model.UrgencyCritical && s.isHighRisk(r) && res.Score < s.cfg.Thresholds.Critical {
		res.Score = s.cfg.Thresholds.Critical
		res.Escalated = true
	}
	res.Tier = s.Tier(res.Score)
	return res
}

// Tier maps a score to its tier.
func (s *Scorer) Tier(score float64) model.Tier {
	t := s.cfg.Thresholds
	switch {
	case score >= t.Critical:
		return model.TierCritical
	case score >= t.High:
		return model.TierHigh
	case score >= t.Medium:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// Apply writes res onto r and advances its status to prioritized when it
// has not moved past that point.
func Apply(r *model.Request, res Result, now time.Time) {
	r.Score = res.Score
	r.Tier = res.Tier
	r.UpdatedAt = now
	if r.Status == model.RequestNew || r.Status == model.RequestProcessing {
		if r.ProcessedAt.IsZero() {
			r.ProcessedAt = now
		}
		r.Advance(model.RequestPrioritized, now)
	}
}

// Rank sorts requests by descending score, earlier submissions first.
func Rank(reqs []model.Request) {
	sort.SliceStable(reqs, func(i, j int) bool { return model.Less(reqs[i], reqs[j]) })
}

func (s *Scorer) isHighRisk(r model.Request) bool {
	for _, n := range r.Needs {
		if _, ok := s.highRisk[n]; ok {
			return true
		}
	}
	return false
}

func (s *Scorer) severity(r model.Request) float64 {
	risk := 0.0
	if len(r.Needs) == 0 {
		risk = s.cfg.DefaultRisk
	}
	for _, n := range r.Needs {
		v, ok := s.cfg.NeedRisk[n]
		if !ok {
			v = s.cfg.DefaultRisk
		}
		risk = math.Max(risk, v)
	}
	people := math.Log1p(float64(r.PeopleCount)) / math.Log1p(float64(s.cfg.PeopleSaturation))
	people = clamp(people, 0, 1)
	share := s.cfg.PeopleShare
	return clamp(risk*(1-share)+people*share, 0, 1)
}

func (s *Scorer) availability(r model.Request, ctx Context) float64 {
	var vals []float64
	for _, n := range r.Needs {
		if v, ok := ctx.Availability[n]; ok {
			vals = append(vals, clamp(v, 0, 1))
		}
	}
	if len(vals) == 0 {
		return 1
	}
	return floats.Sum(vals) / float64(len(vals))
}

func capacity(ctx Context) float64 {
	if ctx.AvailableResponders <= 0 {
		return 0
	}
	return 1 - clamp(ctx.SystemLoad, 0, 1)
}

func urgencyFactor(u model.Urgency) float64 {
	switch u {
	case model.UrgencyCritical:
		return 1
	case model.UrgencyHigh:
		return 0.75
	case model.UrgencyMedium:
		return 0.5
	default:
		return 0.25
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
