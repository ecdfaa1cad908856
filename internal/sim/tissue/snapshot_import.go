package tissue

import (
	"fmt"
	"log"
	"math/rand"
	"sort"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/model"
)

// NewFromSnapshot rebuilds a tissue from a snapshot. The random source is
// re-seeded and fast-forwarded, so the resumed run draws the same numbers
// an uninterrupted run would.
func NewFromSnapshot(cfg Config, reg *celltypes.Registry, snap snapshot.SnapshotV1, logger *log.Logger) (*Tissue, error) {
	if cfg.RunID == "" {
		cfg.RunID = snap.Header.RunID
	}
	t, err := New(cfg, reg, logger)
	if err != nil {
		return nil, err
	}
	if err := t.ImportSnapshot(snap); err != nil {
		return nil, err
	}
	return t, nil
}

// ImportSnapshot replaces the tissue state. It must run before Run starts.
func (t *Tissue) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.CatalogDigest != "" && t.reg.CatalogDigest != "" && snap.CatalogDigest != t.reg.CatalogDigest {
		t.logf("warning: snapshot catalog digest %s differs from loaded %s", snap.CatalogDigest, t.reg.CatalogDigest)
	}

	cells := make([]*model.Cell, 0, len(snap.Cells))
	byID := make(map[model.CellID]*model.Cell, len(snap.Cells))
	for _, cs := range snap.Cells {
		ct, ok := t.reg.ByName(cs.Type)
		if !ok {
			return fmt.Errorf("snapshot cell %d: unknown type %q", cs.ID, cs.Type)
		}
		id := model.CellID(cs.ID)
		if _, dup := byID[id]; dup {
			return fmt.Errorf("snapshot cell %d: duplicate id", cs.ID)
		}
		c := model.NewCell(id, ct, model.Vec3{X: cs.Pos[0], Y: cs.Pos[1], Z: cs.Pos[2]})
		c.Oncoprotein = cs.Oncoprotein
		c.PDL1 = cs.PDL1
		c.RestoreCapabilities(model.Capability(cs.Capabilities))
		c.Phenotype.Motility.IsMotile = cs.Motile
		c.Phenotype.Motility.BiasDirection = model.Vec3{X: cs.BiasDirection[0], Y: cs.BiasDirection[1], Z: cs.BiasDirection[2]}
		if len(cs.SecretionRates) > 0 {
			c.Phenotype.Secretion.SecretionRates = append([]float64(nil), cs.SecretionRates...)
		}
		if len(cs.UptakeRates) > 0 {
			c.Phenotype.Secretion.UptakeRates = append([]float64(nil), cs.UptakeRates...)
		}
		c.Phenotype.Death = model.Death{
			Dead:         cs.Dead,
			Model:        model.DeathModel(cs.DeathModel),
			Phase:        model.Phase(cs.Phase),
			Elapsed:      cs.Elapsed,
			NecrosisRate: cs.NecrosisRate,
		}
		cells = append(cells, c)
		byID[id] = c
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })

	t.arena.Reset()
	for _, a := range snap.Attachments {
		if byID[model.CellID(a.A)] == nil || byID[model.CellID(a.B)] == nil {
			return fmt.Errorf("snapshot attachment %d-%d: unknown cell", a.A, a.B)
		}
		if !t.arena.Attach(model.CellID(a.A), model.CellID(a.B)) {
			return fmt.Errorf("snapshot attachment %d-%d: conflicting relation", a.A, a.B)
		}
	}

	t.cells = cells
	t.byID = byID
	t.nextID = snap.Counters.NextCell
	if t.nextID == 0 {
		t.nextID = 1
	}
	for _, c := range cells {
		if uint64(c.ID) >= t.nextID {
			t.nextID = uint64(c.ID) + 1
		}
	}

	dead := make([]model.CellID, len(snap.Counters.DeadIDs))
	for i, id := range snap.Counters.DeadIDs {
		dead[i] = model.CellID(id)
	}
	t.deaths.Restore(dead, snap.Counters.Deaths)
	t.recruited = snap.Counters.Recruited

	t.src = newCountingSource(snap.Seed)
	t.src.skip(snap.Counters.RandDraws)
	t.rng = rand.New(t.src)

	t.step.Store(snap.Header.Step)
	t.grid.rebuild(t.cells)
	t.fields.refresh(t.cells)
	t.publishMetrics(snap.Header.Step, 0)
	return nil
}

func sortUint64(xs []uint64) {
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
}
