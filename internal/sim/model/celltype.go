package model

// Kind tags a cell type. Values match the type codes used by cell definitions.
type Kind int

const (
	KindTumor      Kind = 0
	KindImmune     Kind = 1
	KindMacrophage Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTumor:
		return "tumor"
	case KindImmune:
		return "immune"
	case KindMacrophage:
		return "macrophage"
	default:
		return "unknown"
	}
}

// AttackParams are the immune-cell behavioral thresholds, read from custom data.
type AttackParams struct {
	OncoproteinThreshold  float64
	OncoproteinSaturation float64
	MaxAttachmentDistance float64
	MinAttachmentDistance float64
	ElasticCoefficient    float64
	AttachmentLifetime    float64
	AttachmentRate        float64
	KillRate              float64
}

// RecruitmentParams drive the T-cell influx estimate.
type RecruitmentParams struct {
	MutationalBurden   float64 // ka
	NeoantigenStrength float64 // ki
	R1                 float64
}

// OxygenParams mirror the default cell's O2-dependent proliferation and necrosis settings.
type OxygenParams struct {
	ProliferationSaturation float64
	ProliferationThreshold  float64
	Reference               float64
	NecrosisThreshold       float64
	NecrosisMax             float64
	MaxNecrosisRate         float64
}

// CellType is shared by reference across all cells of the type and is not
// mutated after the registry is built.
type CellType struct {
	Name      string
	Kind      Kind
	Phenotype Phenotype
	Custom    map[string]float64

	Attack      AttackParams
	Recruitment RecruitmentParams
	Oxygen      OxygenParams

	// Behavior implements any subset of the capability interfaces.
	Behavior any
}

func (t *CellType) Capabilities() Capability {
	if t == nil {
		return 0
	}
	return CapabilitiesOf(t.Behavior)
}
