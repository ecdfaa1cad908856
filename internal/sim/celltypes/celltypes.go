// Package celltypes builds the tumor, immune and macrophage descriptors from
// cell definitions and named parameters, and binds their behaviors.
package celltypes

import (
	"fmt"
	"sort"

	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/rules"
	"cancerimmune.bio/internal/sim/tuning"
)

const (
	ImmuneName     = "immune cell"
	MacrophageName = "macrophage"
)

// Default O2 response of tumor cells, tuned for a hypoxic core.
var defaultOxygen = model.OxygenParams{
	ProliferationSaturation: 38,
	ProliferationThreshold:  1,
	Reference:               38,
	NecrosisThreshold:       30,
	NecrosisMax:             30,
	MaxNecrosisRate:         1.0 / (6.0 * 60.0),
}

// Microenvironment maps density names to indices.
type Microenvironment struct {
	names []string
	index map[string]int
}

func NewMicroenvironment(names []string) *Microenvironment {
	m := &Microenvironment{names: append([]string(nil), names...), index: map[string]int{}}
	for i, n := range names {
		m.index[n] = i
	}
	return m
}

func (m *Microenvironment) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// MustIndex panics when the density does not exist.
func (m *Microenvironment) MustIndex(name string) int {
	i, ok := m.index[name]
	if !ok {
		panic(fmt.Sprintf("microenvironment: unknown density %q", name))
	}
	return i
}

func (m *Microenvironment) Names() []string { return append([]string(nil), m.names...) }

func (m *Microenvironment) Len() int { return len(m.names) }

// Registry is built once at startup and owned by the tissue.
type Registry struct {
	Micro      *Microenvironment
	Default    *model.CellType
	Immune     *model.CellType
	Macrophage *model.CellType

	CatalogDigest string

	byName map[string]*model.CellType
}

func (r *Registry) ByName(name string) (*model.CellType, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func (r *Registry) ByKind(k model.Kind) *model.CellType {
	switch k {
	case model.KindTumor:
		return r.Default
	case model.KindImmune:
		return r.Immune
	case model.KindMacrophage:
		return r.Macrophage
	}
	return nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build derives the three cell types. Missing named parameters panic inside
// the tuning lookups; inconsistent definitions return an error.
func Build(cat *catalogs.Catalog, params tuning.Parameters) (*Registry, error) {
	micro := NewMicroenvironment(cat.Densities)
	oxygen := micro.MustIndex(model.DensityOxygen)
	micro.MustIndex(model.DensityImmunostimulatory)

	def, err := cat.Resolve(cat.Default)
	if err != nil {
		return nil, err
	}
	tumor, err := baseType(def, micro)
	if err != nil {
		return nil, err
	}
	tumor.Kind = model.KindTumor
	tumor.Oxygen = defaultOxygen
	if v, ok := def.Custom["max_necrosis_rate"]; ok {
		tumor.Oxygen.MaxNecrosisRate = v
	}
	if err := deriveAttachmentMechanics(tumor); err != nil {
		return nil, err
	}
	tumor.Recruitment = model.RecruitmentParams{
		MutationalBurden:   tumor.Custom["mutational_burden"],
		NeoantigenStrength: tumor.Custom["neoantigen_strength"],
		R1:                 tumor.Custom["r1"],
	}
	tumor.Behavior = rules.Tumor{}

	immune, err := buildImmune(cat, micro, oxygen, params)
	if err != nil {
		return nil, err
	}
	macrophage, err := buildMacrophage(cat, micro, oxygen, params)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		Micro:         micro,
		Default:       tumor,
		Immune:        immune,
		Macrophage:    macrophage,
		CatalogDigest: cat.Digest,
		byName: map[string]*model.CellType{
			tumor.Name:      tumor,
			immune.Name:     immune,
			macrophage.Name: macrophage,
		},
	}
	return r, nil
}

func buildImmune(cat *catalogs.Catalog, micro *Microenvironment, oxygen int, params tuning.Parameters) (*model.CellType, error) {
	def, err := cat.Resolve(ImmuneName)
	if err != nil {
		return nil, err
	}
	t, err := baseType(def, micro)
	if err != nil {
		return nil, err
	}
	t.Kind = model.KindImmune
	t.Phenotype.Secretion.UptakeRates[oxygen] *= params.Double("immune_o2_relative_uptake")
	t.Phenotype.Mechanics.CellCellAdhesionStrength *= params.Double("immune_relative_adhesion")
	t.Phenotype.Mechanics.CellCellRepulsionStrength *= params.Double("immune_relative_repulsion")
	if err := deriveAttachmentMechanics(t); err != nil {
		return nil, err
	}

	a := model.AttackParams{}
	fields := []struct {
		name string
		dst  *float64
	}{
		{"oncoprotein_threshold", &a.OncoproteinThreshold},
		{"oncoprotein_saturation", &a.OncoproteinSaturation},
		{"max_attachment_distance", &a.MaxAttachmentDistance},
		{"min_attachment_distance", &a.MinAttachmentDistance},
		{"elastic_coefficient", &a.ElasticCoefficient},
		{"attachment_lifetime", &a.AttachmentLifetime},
		{"attachment_rate", &a.AttachmentRate},
		{"kill_rate", &a.KillRate},
	}
	for _, f := range fields {
		v, ok := t.Custom[f.name]
		if !ok {
			return nil, fmt.Errorf("%s: missing custom data %q", t.Name, f.name)
		}
		*f.dst = v
	}
	t.Attack = a
	t.Behavior = rules.Immune{}
	return t, nil
}

func buildMacrophage(cat *catalogs.Catalog, micro *Microenvironment, oxygen int, params tuning.Parameters) (*model.CellType, error) {
	def, err := cat.Resolve(MacrophageName)
	if err != nil {
		return nil, err
	}
	t, err := baseType(def, micro)
	if err != nil {
		return nil, err
	}
	t.Kind = model.KindMacrophage
	t.Phenotype.Secretion.UptakeRates[oxygen] *= params.Double("immune_o2_relative_uptake")
	t.Behavior = rules.Macrophage{}
	return t, nil
}

func baseType(def catalogs.CellDef, micro *Microenvironment) (*model.CellType, error) {
	if def.Radius <= 0 {
		return nil, fmt.Errorf("%s: radius must be positive", def.Name)
	}
	uptake, err := densityVector(def.Name, def.UptakeRates, micro)
	if err != nil {
		return nil, err
	}
	secretion, err := densityVector(def.Name, def.SecretionRates, micro)
	if err != nil {
		return nil, err
	}
	return &model.CellType{
		Name: def.Name,
		Phenotype: model.Phenotype{
			Radius: def.Radius,
			Secretion: model.Secretion{
				UptakeRates:    uptake,
				SecretionRates: secretion,
			},
			Mechanics: model.Mechanics{
				CellCellAdhesionStrength:  def.Adhesion,
				CellCellRepulsionStrength: def.Repulsion,
			},
			Motility: model.Motility{Speed: def.Speed},
		},
		Custom: def.Custom,
	}, nil
}

// deriveAttachmentMechanics converts absolute custom distances into the
// radius-relative mechanics fields.
func deriveAttachmentMechanics(t *model.CellType) error {
	maxDist, ok := t.Custom["max_attachment_distance"]
	if !ok {
		return fmt.Errorf("%s: missing custom data %q", t.Name, "max_attachment_distance")
	}
	elastic, ok := t.Custom["elastic_coefficient"]
	if !ok {
		return fmt.Errorf("%s: missing custom data %q", t.Name, "elastic_coefficient")
	}
	r := t.Phenotype.Radius
	t.Phenotype.Mechanics.RelativeMaximumAttachmentDistance = maxDist / r
	t.Phenotype.Mechanics.RelativeDetachmentDistance = maxDist / r
	t.Phenotype.Mechanics.AttachmentElasticConstant = elastic
	return nil
}

func densityVector(owner string, rates map[string]float64, micro *Microenvironment) ([]float64, error) {
	out := make([]float64, micro.Len())
	for name, v := range rates {
		i, ok := micro.Index(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown density %q", owner, name)
		}
		out[i] = v
	}
	return out, nil
}
