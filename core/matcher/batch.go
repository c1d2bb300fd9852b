package matcher

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/reliefgrid/coordinator/core/model"
)

// PlanItem is a pending task considered by a batch plan.
type PlanItem struct {
	Task    model.Task
	Options Options
	// Priority is the parent request score. Higher priority tasks win
	// contested responders.
	Priority float64
}

// Pair is a planned task to responder assignment.
type Pair struct {
	TaskID      string  `json:"task_id"`
	ResponderID string  `json:"responder_id"`
	Score       float64 `json:"score"`
}

type planData struct {
	pairs   []Pair
	task    []int // item index of each pair
	resp    []int // responder index of each pair
	weights []float64
	caps    []float64
	nTasks  int
}

// solvePlan maximises the weighted match score with each task assigned at
// most once and each responder within its free slots. The problem is given
// to the simplex solver in standard form with one slack per row.
func solvePlan(d planData) ([]float64, error) {
	nPairs := len(d.pairs)
	nRows := d.nTasks + len(d.caps)
	nCols := nPairs + nRows
	A := mat.NewDense(nRows, nCols, nil)
	b := make([]float64, nRows)
	c := make([]float64, nCols)
	for p := range d.pairs {
		c[p] = -d.weights[p]
		A.Set(d.task[p], p, 1)
		A.Set(d.nTasks+d.resp[p], p, 1)
	}
	for i := 0; i < d.nTasks; i++ {
		b[i] = 1
	}
	for j, cp := range d.caps {
		b[d.nTasks+j] = cp
	}
	for r := 0; r < nRows; r++ {
		A.Set(r, nPairs+r, 1)
	}
	_, sol, err := lp.Simplex(c, A, b, 1e-9, nil)
	if err != nil {
		return nil, err
	}
	return sol[:nPairs], nil
}

// planSolve points to the function used to solve the batch plan. Tests
// override it to simulate solver failures.
var planSolve = solvePlan

// Plan computes a joint assignment of items to responders that maximises the
// priority weighted match score. Only eligible pairs are considered. When
// the solver fails the plan falls back to a greedy pass in priority order.
func (m *Matcher) Plan(items []PlanItem, responders []model.Responder) []Pair {
	d := m.buildPlan(items, responders)
	if len(d.pairs) == 0 {
		return nil
	}
	sol, err := planSolve(d)
	if err == nil {
		if out, ok := extractPlan(d, sol); ok {
			return out
		}
		err = fmt.Errorf("solution violates plan constraints")
	}
	m.log.Warnf("batch plan solver failed, using greedy plan: %v", err)
	return greedyPlan(d, items)
}

func (m *Matcher) buildPlan(items []PlanItem, responders []model.Responder) planData {
	idx := make(map[string]int)
	d := planData{nTasks: len(items)}
	for i, it := range items {
		for _, c := range m.Rank(it.Task, it.Options, responders) {
			j, ok := idx[c.ResponderID]
			if !ok {
				j = len(d.caps)
				idx[c.ResponderID] = j
				d.caps = append(d.caps, float64(m.cfg.MaxConcurrentTasks-c.ActiveTasks))
			}
			d.pairs = append(d.pairs, Pair{TaskID: it.Task.ID, ResponderID: c.ResponderID, Score: c.Score})
			d.task = append(d.task, i)
			d.resp = append(d.resp, j)
			d.weights = append(d.weights, c.Score*(1+it.Priority/100))
		}
	}
	return d
}

func extractPlan(d planData, sol []float64) ([]Pair, bool) {
	if len(sol) != len(d.pairs) {
		return nil, false
	}
	perTask := make([]int, d.nTasks)
	used := make([]float64, len(d.caps))
	var out []Pair
	for p, x := range sol {
		if x < 0.5 {
			continue
		}
		perTask[d.task[p]]++
		used[d.resp[p]]++
		if perTask[d.task[p]] > 1 || used[d.resp[p]] > d.caps[d.resp[p]] {
			return nil, false
		}
		out = append(out, d.pairs[p])
	}
	order := make(map[string]int, len(out))
	for p := range d.pairs {
		if _, ok := order[d.pairs[p].TaskID]; !ok {
			order[d.pairs[p].TaskID] = d.task[p]
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return order[out[i].TaskID] < order[out[j].TaskID] })
	return out, true
}

// greedyPlan gives each task, highest priority first, its best ranked
// responder that still has a free slot.
func greedyPlan(d planData, items []PlanItem) []Pair {
	byTask := make([][]int, d.nTasks)
	for p := range d.pairs {
		byTask[d.task[p]] = append(byTask[d.task[p]], p)
	}
	order := make([]int, d.nTasks)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return items[order[a]].Priority > items[order[b]].Priority })

	used := make([]float64, len(d.caps))
	var out []Pair
	for _, i := range order {
		for _, p := range byTask[i] {
			j := d.resp[p]
			if used[j] < d.caps[j] {
				used[j]++
				out = append(out, d.pairs[p])
				break
			}
		}
	}
	return out
}
