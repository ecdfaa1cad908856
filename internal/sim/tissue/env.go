package tissue

import "cancerimmune.bio/internal/sim/model"

// hostEnv is the model.Env the behavior rules see.
type hostEnv struct{ t *Tissue }

var _ model.Env = (*hostEnv)(nil)

func (e *hostEnv) Neighbors(c *model.Cell) []*model.Cell { return e.t.grid.near(c) }

func (e *hostEnv) DensityIndex(name string) int { return e.t.reg.Micro.MustIndex(name) }

func (e *hostEnv) Density(density int, pos model.Vec3) float64 {
	return e.t.fields.density(density, pos)
}

func (e *hostEnv) Gradient(density int, pos model.Vec3) model.Vec3 {
	return e.t.fields.gradient(density, pos)
}

func (e *hostEnv) Attach(a, b *model.Cell) bool { return e.t.arena.Attach(a.ID, b.ID) }

func (e *hostEnv) Detach(a, b *model.Cell) bool { return e.t.arena.Detach(a.ID, b.ID) }

func (e *hostEnv) Partner(c *model.Cell) (*model.Cell, bool) {
	id, ok := e.t.arena.Partner(c.ID)
	if !ok {
		return nil, false
	}
	p, ok := e.t.byID[id]
	return p, ok
}

func (e *hostEnv) StartDeath(c *model.Cell, m model.DeathModel) bool {
	if c.Dead() {
		return false
	}
	d := &c.Phenotype.Death
	d.Dead = true
	d.Model = m
	d.Elapsed = 0
	switch m {
	case model.DeathNecrosis:
		d.Phase = model.PhaseNecroticSwelling
	default:
		d.Phase = model.PhaseApoptotic
	}
	c.Phenotype.Motility.IsMotile = false
	c.Velocity = model.Vec3{}
	e.t.deaths.Observe(c.ID)
	return true
}

func (e *hostEnv) Uniform() float64 { return e.t.rng.Float64() }

func (e *hostEnv) Normal(mean, sd float64) float64 { return mean + sd*e.t.rng.NormFloat64() }
