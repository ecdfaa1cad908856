package rules

import (
	"cancerimmune.bio/internal/sim/attach"
	"cancerimmune.bio/internal/sim/model"
)

// stubEnv replays scripted uniform draws and keeps attachments in a real arena.
type stubEnv struct {
	cells    map[model.CellID]*model.Cell
	arena    *attach.Arena
	uniforms []float64
	draws    int
	o2       float64
	gradient model.Vec3
	deaths   []model.CellID
}

func newStubEnv(cells ...*model.Cell) *stubEnv {
	e := &stubEnv{cells: map[model.CellID]*model.Cell{}, arena: attach.New(), o2: 38}
	for _, c := range cells {
		e.cells[c.ID] = c
	}
	return e
}

func (e *stubEnv) Neighbors(c *model.Cell) []*model.Cell {
	out := make([]*model.Cell, 0, len(e.cells))
	for id := model.CellID(0); len(out) < len(e.cells); id++ {
		if x, ok := e.cells[id]; ok {
			out = append(out, x)
		}
	}
	return out
}

func (e *stubEnv) DensityIndex(name string) int {
	switch name {
	case model.DensityOxygen:
		return 0
	case model.DensityImmunostimulatory:
		return 1
	}
	panic("unknown density " + name)
}

func (e *stubEnv) Density(density int, pos model.Vec3) float64 {
	if density == 0 {
		return e.o2
	}
	return 0
}

func (e *stubEnv) Gradient(density int, pos model.Vec3) model.Vec3 { return e.gradient }

func (e *stubEnv) Attach(a, b *model.Cell) bool { return e.arena.Attach(a.ID, b.ID) }
func (e *stubEnv) Detach(a, b *model.Cell) bool { return e.arena.Detach(a.ID, b.ID) }

func (e *stubEnv) Partner(c *model.Cell) (*model.Cell, bool) {
	id, ok := e.arena.Partner(c.ID)
	if !ok {
		return nil, false
	}
	return e.cells[id], true
}

func (e *stubEnv) StartDeath(c *model.Cell, m model.DeathModel) bool {
	if c.Dead() {
		return false
	}
	c.Phenotype.Death = model.Death{Dead: true, Model: m, Phase: model.PhaseApoptotic}
	if m == model.DeathNecrosis {
		c.Phenotype.Death.Phase = model.PhaseNecroticSwelling
	}
	e.deaths = append(e.deaths, c.ID)
	return true
}

// Uniform returns scripted draws, then 0.999 once the script runs out.
func (e *stubEnv) Uniform() float64 {
	e.draws++
	if len(e.uniforms) == 0 {
		return 0.999
	}
	u := e.uniforms[0]
	e.uniforms = e.uniforms[1:]
	return u
}

func (e *stubEnv) Normal(mean, sd float64) float64 { return mean }

var testAttack = model.AttackParams{
	OncoproteinThreshold:  0.5,
	OncoproteinSaturation: 2.0,
	MaxAttachmentDistance: 20,
	MinAttachmentDistance: 5,
	ElasticCoefficient:    0.01,
	AttachmentLifetime:    60,
	AttachmentRate:        0.2,
	KillRate:              0.06667,
}

func testTypes() (tumor, immune *model.CellType) {
	mech := model.Mechanics{
		RelativeMaximumAttachmentDistance: 20.0 / 8,
		RelativeDetachmentDistance:        20.0 / 8,
		AttachmentElasticConstant:         0.01,
	}
	tumor = &model.CellType{
		Name: "cancer cell",
		Kind: model.KindTumor,
		Phenotype: model.Phenotype{
			Radius:    8,
			Mechanics: mech,
			Secretion: model.Secretion{UptakeRates: []float64{10, 0}, SecretionRates: []float64{0, 0}},
		},
		Oxygen: model.OxygenParams{
			NecrosisThreshold: 30,
			NecrosisMax:       30,
			MaxNecrosisRate:   0.0028,
		},
		Behavior: Tumor{},
	}
	immune = &model.CellType{
		Name: "immune cell",
		Kind: model.KindImmune,
		Phenotype: model.Phenotype{
			Radius:    8,
			Mechanics: mech,
			Secretion: model.Secretion{UptakeRates: []float64{1, 0}, SecretionRates: []float64{0, 0}},
		},
		Attack:   testAttack,
		Behavior: Immune{},
	}
	return tumor, immune
}
