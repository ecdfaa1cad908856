package tuning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	TickRateHz         int     `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	DT                 float64 `yaml:"dt" json:"dt"`
	PhenotypeDT        float64 `yaml:"phenotype_dt" json:"phenotype_dt"`
	MaxSteps           int     `yaml:"max_steps" json:"max_steps"`
	SnapshotEverySteps int     `yaml:"snapshot_every_steps" json:"snapshot_every_steps"`
	RecruitEverySteps  int     `yaml:"recruit_every_steps" json:"recruit_every_steps"`
	RecruitmentDT      float64 `yaml:"recruitment_dt" json:"recruitment_dt"`
	MinTumorRadius     float64 `yaml:"min_tumor_radius" json:"min_tumor_radius"`
	MechanicsVoxelSize float64 `yaml:"mechanics_voxel_size" json:"mechanics_voxel_size"`

	ApoptosisDuration float64 `yaml:"apoptosis_duration" json:"apoptosis_duration"`
	NecrosisDuration  float64 `yaml:"necrosis_duration" json:"necrosis_duration"`

	Oxygen OxygenField `yaml:"oxygen" json:"oxygen"`

	Parameters Parameters `yaml:"parameters" json:"parameters"`
}

// OxygenField shapes the analytic oxygen profile: Boundary outside the tumor,
// falling linearly to Core at its center.
type OxygenField struct {
	Boundary float64 `yaml:"boundary" json:"boundary"`
	Core     float64 `yaml:"core" json:"core"`
}

// Parameters are the named user values looked up by cell rules and seeding.
type Parameters struct {
	IntValues    map[string]int     `yaml:"ints" json:"ints"`
	DoubleValues map[string]float64 `yaml:"doubles" json:"doubles"`
}

// Int panics on a missing name: a missing parameter is a startup misconfiguration.
func (p Parameters) Int(name string) int {
	v, ok := p.IntValues[name]
	if !ok {
		panic(fmt.Sprintf("tuning: missing int parameter %q", name))
	}
	return v
}

// Double panics on a missing name, like Int.
func (p Parameters) Double(name string) float64 {
	v, ok := p.DoubleValues[name]
	if !ok {
		panic(fmt.Sprintf("tuning: missing double parameter %q", name))
	}
	return v
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         10,
		DT:                 0.1,
		PhenotypeDT:        6,
		MaxSteps:           0,
		SnapshotEverySteps: 3000,
		RecruitEverySteps:  60,
		RecruitmentDT:      6,
		MinTumorRadius:     250,
		MechanicsVoxelSize: 30,
		ApoptosisDuration:  516,
		NecrosisDuration:   86400,
		Oxygen: OxygenField{
			Boundary: 38,
			Core:     5,
		},
		Parameters: Parameters{
			IntValues: map[string]int{
				"random_seed":                   0,
				"number_of_initial_macrophages": 50,
			},
			DoubleValues: map[string]float64{
				"tumor_radius":                            250,
				"tumor_mean_immunogenicity":               1,
				"tumor_immunogenicity_standard_deviation": 0.3,
				"immune_o2_relative_uptake":               0.1,
				"immune_relative_adhesion":                0,
				"immune_relative_repulsion":               5,
				"initial_min_immune_distance_from_tumor":  30,
				"thickness_of_immune_seeding_region":      75,
			},
		},
	}
}

// Load reads a tuning file. Keys absent from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// FromJSON decodes tuning stored as JSON (as in snapshots) over the defaults
// and validates it.
func FromJSON(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning json: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning json: %w", err)
	}
	return t, nil
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("tuning.schema.json", schemaJSON)
	})
	return compiledSchema, schemaErr
}

// Validate checks the effective tuning against the embedded JSON schema.
func (t Tuning) Validate() error {
	s, err := schema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return err
	}
	if t.PhenotypeDT < t.DT {
		return fmt.Errorf("phenotype_dt %v is shorter than dt %v", t.PhenotypeDT, t.DT)
	}
	if t.Parameters.IntValues == nil || t.Parameters.DoubleValues == nil {
		return fmt.Errorf("parameters: ints and doubles are required")
	}
	var missing []string
	for _, name := range requiredDoubles {
		if _, ok := t.Parameters.DoubleValues[name]; !ok {
			missing = append(missing, name)
		}
	}
	for _, name := range requiredInts {
		if _, ok := t.Parameters.IntValues[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("parameters: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

var requiredInts = []string{
	"random_seed",
	"number_of_initial_macrophages",
}

var requiredDoubles = []string{
	"tumor_radius",
	"tumor_mean_immunogenicity",
	"tumor_immunogenicity_standard_deviation",
	"immune_o2_relative_uptake",
	"immune_relative_adhesion",
	"immune_relative_repulsion",
	"initial_min_immune_distance_from_tumor",
	"thickness_of_immune_seeding_region",
}

// PhenotypeEvery is the number of mechanics steps between phenotype updates.
func (t Tuning) PhenotypeEvery() int {
	n := int(math.Round(t.PhenotypeDT / t.DT))
	if n < 1 {
		n = 1
	}
	return n
}
