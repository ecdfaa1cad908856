package tissue

import (
	"encoding/json"

	"cancerimmune.bio/internal/persistence/snapshot"
)

// ExportSnapshot captures the full state at the current step. Call it only
// from the loop goroutine or while the loop is not running.
func (t *Tissue) ExportSnapshot() snapshot.SnapshotV1 {
	step := t.step.Load()
	tuneJSON, _ := json.Marshal(t.tune)

	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RunID:   t.cfg.RunID,
			Step:    step,
			Time:    float64(step) * t.tune.DT,
		},
		Seed:          int64(t.tune.Parameters.Int("random_seed")),
		TickRate:      t.tune.TickRateHz,
		DT:            t.tune.DT,
		PhenotypeDT:   t.tune.PhenotypeDT,
		CatalogDigest: t.reg.CatalogDigest,
		TuningJSON:    tuneJSON,
		Cells:         make([]snapshot.CellV1, 0, len(t.cells)),
	}

	for _, c := range t.cells {
		ph := c.Phenotype
		snap.Cells = append(snap.Cells, snapshot.CellV1{
			ID:             uint64(c.ID),
			Type:           c.Type.Name,
			Pos:            [3]float64{c.Pos.X, c.Pos.Y, c.Pos.Z},
			Oncoprotein:    c.Oncoprotein,
			PDL1:           c.PDL1,
			Capabilities:   uint8(c.Capabilities()),
			Motile:         ph.Motility.IsMotile,
			BiasDirection:  [3]float64{ph.Motility.BiasDirection.X, ph.Motility.BiasDirection.Y, ph.Motility.BiasDirection.Z},
			SecretionRates: append([]float64(nil), ph.Secretion.SecretionRates...),
			UptakeRates:    append([]float64(nil), ph.Secretion.UptakeRates...),
			Dead:           ph.Death.Dead,
			DeathModel:     int(ph.Death.Model),
			Phase:          int(ph.Death.Phase),
			Elapsed:        ph.Death.Elapsed,
			NecrosisRate:   ph.Death.NecrosisRate,
		})
	}
	for _, p := range t.arena.Pairs() {
		snap.Attachments = append(snap.Attachments, snapshot.AttachmentV1{A: uint64(p.A), B: uint64(p.B)})
	}

	dead := t.deaths.IDs()
	deadIDs := make([]uint64, len(dead))
	for i, id := range dead {
		deadIDs[i] = uint64(id)
	}
	sortUint64(deadIDs)

	snap.Counters = snapshot.CountersV1{
		NextCell:  t.nextID,
		Deaths:    t.deaths.Total(),
		DeadIDs:   deadIDs,
		Recruited: t.recruited,
		RandDraws: t.src.draws,
	}
	return snap
}
