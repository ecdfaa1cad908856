package model

import "gonum.org/v1/gonum/spatial/r3"

type Vec3 = r3.Vec

type CellID uint64

// PDL1 checkpoint states. Protected cells can be docked but never killed.
const (
	PDL1Protected = 0
	PDL1Killable  = 1
)

type DeathModel int

const (
	DeathNone DeathModel = iota
	DeathApoptosis
	DeathNecrosis
)

func (m DeathModel) String() string {
	switch m {
	case DeathApoptosis:
		return "apoptosis"
	case DeathNecrosis:
		return "necrosis"
	default:
		return "none"
	}
}

type Phase int

const (
	PhaseLive Phase = iota
	PhaseApoptotic
	PhaseNecroticSwelling
	PhaseNecroticLysed
	PhaseNecrotic
)

func (p Phase) String() string {
	switch p {
	case PhaseApoptotic:
		return "apoptotic"
	case PhaseNecroticSwelling:
		return "necrotic_swelling"
	case PhaseNecroticLysed:
		return "necrotic_lysed"
	case PhaseNecrotic:
		return "necrotic"
	default:
		return "live"
	}
}

// IsNecrotic reports any necrosis sub-phase.
func (p Phase) IsNecrotic() bool {
	return p == PhaseNecroticSwelling || p == PhaseNecroticLysed || p == PhaseNecrotic
}

type Death struct {
	Dead         bool
	Model        DeathModel
	Phase        Phase
	Elapsed      float64 // time since death started
	NecrosisRate float64 // per unit time, set by the phenotype update
}

type Motility struct {
	IsMotile      bool
	Speed         float64
	BiasDirection Vec3 // unit vector or zero
}

type Secretion struct {
	UptakeRates    []float64 // indexed by density
	SecretionRates []float64
}

type Mechanics struct {
	CellCellAdhesionStrength  float64
	CellCellRepulsionStrength float64

	RelativeMaximumAttachmentDistance float64
	RelativeDetachmentDistance        float64
	AttachmentElasticConstant         float64
}

// Phenotype is the mutable per-cell copy of a type's template.
type Phenotype struct {
	Radius    float64
	Secretion Secretion
	Mechanics Mechanics
	Motility  Motility
	Death     Death
}

func (p Phenotype) Clone() Phenotype {
	out := p
	out.Secretion.UptakeRates = append([]float64(nil), p.Secretion.UptakeRates...)
	out.Secretion.SecretionRates = append([]float64(nil), p.Secretion.SecretionRates...)
	return out
}

type Cell struct {
	ID       CellID
	Type     *CellType
	Pos      Vec3
	Velocity Vec3 // accumulated over a step, cleared after integration

	Oncoprotein float64
	PDL1        int

	Phenotype Phenotype

	caps Capability
}

// NewCell creates a live cell of the given type. Tumor cells start killable.
func NewCell(id CellID, t *CellType, pos Vec3) *Cell {
	c := &Cell{
		ID:        id,
		Type:      t,
		Pos:       pos,
		PDL1:      PDL1Killable,
		Phenotype: t.Phenotype.Clone(),
		caps:      t.Capabilities(),
	}
	return c
}

func (c *Cell) Dead() bool { return c.Phenotype.Death.Dead }

func (c *Cell) Is(kind Kind) bool { return c.Type != nil && c.Type.Kind == kind }

func (c *Cell) Has(k Capability) bool { return c.caps&k != 0 }

// Disable turns a behavior off for this cell only; the shared type is untouched.
func (c *Cell) Disable(k Capability) { c.caps &^= k }

func (c *Cell) Capabilities() Capability { return c.caps }

// RestoreCapabilities is used when importing snapshots.
func (c *Cell) RestoreCapabilities(caps Capability) { c.caps = caps & c.Type.Capabilities() }
