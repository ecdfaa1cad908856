// Package recruit estimates immune influx from accumulated tumor deaths.
package recruit

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/packing"
)

// DefaultFloor is the smallest tumor radius used when placing recruits.
const DefaultFloor = 250.0

// Rate is the saturating influx ka·D·r1/(1/ki + D). It is exactly 0 at D=0
// and approaches ka·r1 as D grows; ki sets how fast.
func Rate(deaths int, p model.RecruitmentParams) float64 {
	if deaths <= 0 {
		return 0
	}
	d := float64(deaths)
	return p.MutationalBurden * d * p.R1 / (1/p.NeoantigenStrength + d)
}

// Count truncates rate·dt to a cell count.
func Count(rate, dt float64) int {
	n := rate * dt
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}

// TumorRadius is the largest distance from the origin over live or dead
// tumor cells, raised to floor.
func TumorRadius(cells []*model.Cell, floor float64) float64 {
	maxSq := 0.0
	for _, c := range cells {
		if !c.Is(model.KindTumor) {
			continue
		}
		if d := r3.Norm2(c.Pos); d > maxSq {
			maxSq = d
		}
	}
	r := math.Sqrt(maxSq)
	if r < floor {
		return floor
	}
	return r
}

// Region returns the seeding shell outside a tumor of the given radius.
func Region(tumorRadius, gap, thickness float64) packing.Shell {
	inner := tumorRadius + gap
	return packing.Shell{Inner: inner, Outer: inner + thickness}
}

// Counter accumulates distinct tumor deaths. Each cell is counted once, at
// the moment its death starts.
type Counter struct {
	seen  map[model.CellID]struct{}
	total int
}

func NewCounter() *Counter {
	return &Counter{seen: map[model.CellID]struct{}{}}
}

// Observe records a death and reports whether it was new.
func (c *Counter) Observe(id model.CellID) bool {
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	c.total++
	return true
}

func (c *Counter) Total() int { return c.total }

// Restore resets the counter to a snapshot state.
func (c *Counter) Restore(ids []model.CellID, total int) {
	c.seen = make(map[model.CellID]struct{}, len(ids))
	for _, id := range ids {
		c.seen[id] = struct{}{}
	}
	c.total = total
}

// IDs lists the recorded deaths in no particular order.
func (c *Counter) IDs() []model.CellID {
	out := make([]model.CellID, 0, len(c.seen))
	for id := range c.seen {
		out = append(out, id)
	}
	return out
}
