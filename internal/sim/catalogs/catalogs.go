package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const FileName = "cell_definitions.json"

// Catalog holds the cell definitions and the microenvironment's density names.
type Catalog struct {
	Densities []string
	Default   string
	Defs      map[string]CellDef
	Names     []string // sorted
	Digest    string
}

type CellDef struct {
	Name   string `json:"name"`
	ID     int    `json:"id"`
	Parent string `json:"parent,omitempty"`

	Radius    float64 `json:"radius,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Adhesion  float64 `json:"cell_cell_adhesion_strength,omitempty"`
	Repulsion float64 `json:"cell_cell_repulsion_strength,omitempty"`

	UptakeRates    map[string]float64 `json:"uptake_rates,omitempty"`
	SecretionRates map[string]float64 `json:"secretion_rates,omitempty"`
	Custom         map[string]float64 `json:"custom_data,omitempty"`
}

type file struct {
	Densities []string  `json:"densities"`
	Default   string    `json:"default"`
	Defs      []CellDef `json:"cell_definitions"`
}

func Load(configDir string) (*Catalog, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, FileName))
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", FileName, err)
	}
	if len(f.Densities) == 0 {
		return nil, fmt.Errorf("%s: no densities", FileName)
	}
	c := &Catalog{
		Densities: f.Densities,
		Default:   f.Default,
		Defs:      map[string]CellDef{},
		Digest:    sha256Hex(raw),
	}
	seenIDs := map[int]string{}
	for _, d := range f.Defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%s: empty name", FileName)
		}
		if _, dup := c.Defs[d.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate definition %q", FileName, d.Name)
		}
		if other, dup := seenIDs[d.ID]; dup {
			return nil, fmt.Errorf("%s: %q and %q share id %d", FileName, other, d.Name, d.ID)
		}
		seenIDs[d.ID] = d.Name
		c.Defs[d.Name] = d
		c.Names = append(c.Names, d.Name)
	}
	sort.Strings(c.Names)
	if _, ok := c.Defs[c.Default]; !ok {
		return nil, fmt.Errorf("%s: missing default definition %q", FileName, c.Default)
	}
	for _, name := range c.Names {
		if _, err := c.Resolve(name); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Resolve returns a definition with unset fields inherited from its parent
// chain. Definitions without a parent inherit from the default.
func (c *Catalog) Resolve(name string) (CellDef, error) {
	return c.resolve(name, map[string]bool{})
}

func (c *Catalog) resolve(name string, visiting map[string]bool) (CellDef, error) {
	d, ok := c.Defs[name]
	if !ok {
		return CellDef{}, fmt.Errorf("%s: unknown cell definition %q", FileName, name)
	}
	if visiting[name] {
		return CellDef{}, fmt.Errorf("%s: parent cycle at %q", FileName, name)
	}
	visiting[name] = true

	parent := d.Parent
	if parent == "" && name != c.Default {
		parent = c.Default
	}
	if parent == "" {
		return d.clone(), nil
	}
	base, err := c.resolve(parent, visiting)
	if err != nil {
		return CellDef{}, err
	}
	out := d.clone()
	if out.Radius == 0 {
		out.Radius = base.Radius
	}
	if out.Speed == 0 {
		out.Speed = base.Speed
	}
	if out.Adhesion == 0 {
		out.Adhesion = base.Adhesion
	}
	if out.Repulsion == 0 {
		out.Repulsion = base.Repulsion
	}
	out.UptakeRates = merge(base.UptakeRates, out.UptakeRates)
	out.SecretionRates = merge(base.SecretionRates, out.SecretionRates)
	out.Custom = merge(base.Custom, out.Custom)
	return out, nil
}

// MustResolve panics on unknown names; callers use it at startup only.
func (c *Catalog) MustResolve(name string) CellDef {
	d, err := c.Resolve(name)
	if err != nil {
		panic(err)
	}
	return d
}

func (d CellDef) clone() CellDef {
	out := d
	out.UptakeRates = merge(nil, d.UptakeRates)
	out.SecretionRates = merge(nil, d.SecretionRates)
	out.Custom = merge(nil, d.Custom)
	return out
}

func merge(base, over map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
