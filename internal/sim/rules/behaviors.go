package rules

import (
	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
)

// ImmuneSecretionRate is the immunostimulatory factor released by tumor cells, live or dead.
const ImmuneSecretionRate = 10.0

const lifetimeEpsilon = 1e-15

// Immune is the T-cell behavior: dock, tether, kill, release.
type Immune struct{}

func (Immune) CustomRule(env model.Env, c *model.Cell, dt float64) {
	if c.Dead() {
		c.Disable(model.CapCustomRule)
		c.Disable(model.CapContact)
		return
	}

	if target, ok := env.Partner(c); ok {
		detach := false
		if AttemptApoptosis(env, c, target, dt) {
			TriggerApoptosis(env, target)
			detach = true
		}
		if env.Uniform() < dt/(c.Type.Attack.AttachmentLifetime+lifetimeEpsilon) {
			detach = true
		}
		if detach {
			env.Detach(c, target)
			c.Phenotype.Motility.IsMotile = true
		}
		return
	}

	if CheckNeighborsForAttachment(env, c, dt) != nil {
		c.Phenotype.Motility.IsMotile = false
		return
	}
	c.Phenotype.Motility.IsMotile = true
}

// UpdateMigrationBias chemotaxes up the immunostimulatory gradient while undocked.
func (Immune) UpdateMigrationBias(env model.Env, c *model.Cell, dt float64) {
	if _, ok := env.Partner(c); ok {
		c.Phenotype.Motility.IsMotile = false
		return
	}
	c.Phenotype.Motility.IsMotile = true
	g := env.Gradient(env.DensityIndex(model.DensityImmunostimulatory), c.Pos)
	c.Phenotype.Motility.BiasDirection = normalize(g)
}

func (Immune) Contact(env model.Env, actingOn, attachedTo *model.Cell, dt float64) {
	if actingOn.Dead() {
		return
	}
	Tether(env, actingOn, attachedTo)
}

// Tumor is the default cell behavior.
type Tumor struct{}

func (Tumor) UpdatePhenotype(env model.Env, c *model.Cell, dt float64) {
	immuno := env.DensityIndex(model.DensityImmunostimulatory)
	setSecretion(c, immuno, ImmuneSecretionRate)

	updateOxygenNecrosis(env, c, dt)

	if c.Dead() {
		setSecretion(c, immuno, ImmuneSecretionRate)
		c.Disable(model.CapPhenotype)
		return
	}

	if _, ok := env.Partner(c); ok {
		c.PDL1 = model.PDL1Protected
	}
}

func (Tumor) Contact(env model.Env, actingOn, attachedTo *model.Cell, dt float64) {
	Tether(env, actingOn, attachedTo)
}

// Macrophage cells wander without bias; differentiation is not modeled yet.
type Macrophage struct{}

func (Macrophage) CustomRule(env model.Env, c *model.Cell, dt float64) {}

func (Macrophage) UpdateMigrationBias(env model.Env, c *model.Cell, dt float64) {
	c.Phenotype.Motility.IsMotile = true
}

// Tether pulls actingOn toward attachedTo elastically and breaks the pair when
// it is stretched past the detachment distance.
func Tether(env model.Env, actingOn, attachedTo *model.Cell) {
	d := r3.Sub(attachedTo.Pos, actingOn.Pos)
	m := actingOn.Phenotype.Mechanics
	maxDisp := actingOn.Phenotype.Radius * m.RelativeDetachmentDistance
	if r3.Norm2(d) > maxDisp*maxDisp {
		env.Detach(actingOn, attachedTo)
		return
	}
	actingOn.Velocity = r3.Add(actingOn.Velocity, r3.Scale(m.AttachmentElasticConstant, d))
}

func updateOxygenNecrosis(env model.Env, c *model.Cell, dt float64) {
	if c.Dead() {
		return
	}
	o := c.Type.Oxygen
	o2 := env.Density(env.DensityIndex(model.DensityOxygen), c.Pos)
	if o2 >= o.NecrosisThreshold {
		c.Phenotype.Death.NecrosisRate = 0
		return
	}
	multiplier := 1.0
	if o.NecrosisThreshold > o.NecrosisMax {
		multiplier = clamp01((o.NecrosisThreshold - o2) / (o.NecrosisThreshold - o.NecrosisMax))
	}
	rate := o.MaxNecrosisRate * multiplier
	c.Phenotype.Death.NecrosisRate = rate
	if rate > 0 && env.Uniform() < rate*dt {
		env.StartDeath(c, model.DeathNecrosis)
	}
}

func setSecretion(c *model.Cell, density int, rate float64) {
	rates := c.Phenotype.Secretion.SecretionRates
	if density >= 0 && density < len(rates) {
		rates[density] = rate
	}
}

func normalize(v model.Vec3) model.Vec3 {
	n := r3.Norm(v)
	if n <= 1e-16 {
		return model.Vec3{}
	}
	return r3.Scale(1/n, v)
}
