package tissue

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
)

// Necrotic cells swell, then lyse, then remain as debris until cleared.
const (
	necroticSwellingDuration = 60.0
	necroticLysisDuration    = 60.0
)

func (t *Tissue) stepInternal() StepLogEntry {
	start := time.Now()
	step := t.step.Load()
	dt := t.tune.DT
	env := t.env
	deathsBefore := t.deaths.Total()

	t.fields.refresh(t.cells)
	t.grid.rebuild(t.cells)

	if step%uint64(t.phenotypeEvery) == 0 {
		for _, c := range t.cells {
			if !c.Has(model.CapPhenotype) {
				continue
			}
			if u, ok := c.Type.Behavior.(model.PhenotypeUpdater); ok {
				u.UpdatePhenotype(env, c, t.tune.PhenotypeDT)
			}
		}
	}

	for _, c := range t.cells {
		if c.Dead() || !c.Has(model.CapMotility) {
			continue
		}
		if m, ok := c.Type.Behavior.(model.MotilityBiaser); ok {
			m.UpdateMigrationBias(env, c, dt)
		}
	}

	for _, c := range t.cells {
		if !c.Has(model.CapCustomRule) {
			continue
		}
		if r, ok := c.Type.Behavior.(model.CustomRuler); ok {
			r.CustomRule(env, c, dt)
		}
	}

	for _, c := range t.cells {
		if !c.Has(model.CapContact) {
			continue
		}
		p, ok := env.Partner(c)
		if !ok {
			continue
		}
		if h, ok := c.Type.Behavior.(model.ContactHandler); ok {
			h.Contact(env, c, p, dt)
		}
	}

	t.integrate(dt)
	removed := t.advanceDeaths(dt)

	step++
	t.step.Store(step)

	recruited := 0
	if every := t.tune.RecruitEverySteps; every > 0 && step%uint64(every) == 0 {
		recruited = t.Recruit()
	}

	entry := t.summary(step)
	entry.NewDeaths = t.deaths.Total() - deathsBefore
	entry.Recruited = recruited
	entry.Removed = removed

	if t.stepLogger != nil {
		_ = t.stepLogger.WriteStep(entry)
	}
	if t.snapshotSink != nil && t.tune.SnapshotEverySteps > 0 && step%uint64(t.tune.SnapshotEverySteps) == 0 {
		select {
		case t.snapshotSink <- t.ExportSnapshot():
		default:
			t.logf("snapshot sink backpressure at step %d", step)
		}
	}
	t.broadcastFrame(step)
	t.publishMetricsFrom(entry, float64(time.Since(start).Microseconds())/1000.0)
	return entry
}

// integrate moves live cells by their accumulated velocity plus active
// motility, then clears the velocity.
func (t *Tissue) integrate(dt float64) {
	for _, c := range t.cells {
		if c.Dead() {
			c.Velocity = model.Vec3{}
			continue
		}
		v := c.Velocity
		m := c.Phenotype.Motility
		if m.IsMotile && m.Speed > 0 {
			v = r3.Add(v, r3.Scale(m.Speed, m.BiasDirection))
		}
		c.Pos = r3.Add(c.Pos, r3.Scale(dt, v))
		c.Velocity = model.Vec3{}
	}
}

// advanceDeaths ages dead cells through their phases and removes those past
// their clearance time. Removal drops any attachment.
func (t *Tissue) advanceDeaths(dt float64) int {
	kept := t.cells[:0]
	removed := 0
	for _, c := range t.cells {
		if !c.Dead() {
			kept = append(kept, c)
			continue
		}
		d := &c.Phenotype.Death
		d.Elapsed += dt
		var limit float64
		switch d.Model {
		case model.DeathNecrosis:
			switch {
			case d.Elapsed >= necroticSwellingDuration+necroticLysisDuration:
				d.Phase = model.PhaseNecrotic
			case d.Elapsed >= necroticSwellingDuration:
				d.Phase = model.PhaseNecroticLysed
			}
			limit = t.tune.NecrosisDuration
		default:
			limit = t.tune.ApoptosisDuration
		}
		if limit > 0 && d.Elapsed >= limit {
			t.arena.DetachAll(c.ID)
			delete(t.byID, c.ID)
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(t.cells); i++ {
		t.cells[i] = nil
	}
	t.cells = kept
	return removed
}

func (t *Tissue) summary(step uint64) StepLogEntry {
	e := StepLogEntry{
		RunID:       t.cfg.RunID,
		Step:        step,
		Time:        float64(step) * t.tune.DT,
		Attached:    t.arena.Len(),
		Deaths:      t.deaths.Total(),
		TumorRadius: t.fields.tumorRadius,
	}
	for _, c := range t.cells {
		switch c.Type.Kind {
		case model.KindTumor:
			e.Tumor++
			if !c.Dead() {
				e.LiveTumor++
			}
		case model.KindImmune:
			e.Immune++
		case model.KindMacrophage:
			e.Macrophages++
		}
	}
	return e
}
