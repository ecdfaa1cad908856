package tissue

import (
	"context"
	"reflect"
	"testing"
	"time"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/model"
)

func TestStep_DeadCellsAreCleared(t *testing.T) {
	tu := smallTuning()
	tu.ApoptosisDuration = 0.3
	ts := newTestTissue(t, tu)
	ts.SeedTissue()

	var victim, immune *model.Cell
	for _, c := range ts.Cells() {
		if c.Is(model.KindTumor) {
			victim = c
			break
		}
	}
	immune = ts.AddCell(ts.reg.Immune, victim.Pos)
	if !ts.env.Attach(immune, victim) {
		t.Fatalf("attach failed")
	}
	ts.env.StartDeath(victim, model.DeathApoptosis)

	for i := 0; i < 3; i++ {
		ts.StepOnce()
	}
	if _, ok := ts.Cell(victim.ID); ok {
		t.Fatalf("apoptotic cell still present after apoptosis duration")
	}
	if _, ok := ts.Partner(immune); ok {
		t.Fatalf("removed cell still attached")
	}
	if ts.Deaths() != 1 {
		t.Fatalf("deaths=%d want 1", ts.Deaths())
	}
}

func TestStep_NecrosisPhases(t *testing.T) {
	ts := newTestTissue(t, smallTuning())
	c := ts.AddCell(ts.reg.Default, model.Vec3{X: 500})
	ts.env.StartDeath(c, model.DeathNecrosis)
	if c.Phenotype.Death.Phase != model.PhaseNecroticSwelling {
		t.Fatalf("phase=%v", c.Phenotype.Death.Phase)
	}
	for i := 0; i < 601; i++ {
		ts.StepOnce()
	}
	if c.Phenotype.Death.Phase != model.PhaseNecroticLysed {
		t.Fatalf("phase=%v want lysed", c.Phenotype.Death.Phase)
	}
	for i := 0; i < 600; i++ {
		ts.StepOnce()
	}
	if c.Phenotype.Death.Phase != model.PhaseNecrotic {
		t.Fatalf("phase=%v want necrotic", c.Phenotype.Death.Phase)
	}
	if ts.Deaths() != 1 {
		t.Fatalf("deaths=%d want 1", ts.Deaths())
	}
}

// An immune cell next to a highly antigenic tumor cell eventually docks. The
// docked target either dies or, once its phenotype updates, is protected for
// good.
func TestStep_DockingOutcome(t *testing.T) {
	ts := newTestTissue(t, smallTuning())
	target := ts.AddCell(ts.reg.Default, model.Vec3{})
	target.Oncoprotein = 2
	immune := ts.AddCell(ts.reg.Immune, model.Vec3{X: 10})

	docked := false
	protected := false
	for i := 0; i < 20000; i++ {
		ts.StepOnce()
		if _, ok := ts.Partner(immune); ok {
			docked = true
		}
		if protected && target.PDL1 != model.PDL1Protected {
			t.Fatalf("step %d: protected target became killable", i)
		}
		if target.PDL1 == model.PDL1Protected {
			protected = true
		}
		if target.Dead() || protected {
			break
		}
	}
	if !docked {
		t.Fatalf("immune cell never docked")
	}
	if !target.Dead() && !protected {
		t.Fatalf("docking had no outcome")
	}
	if target.Dead() && target.Phenotype.Death.Model != model.DeathApoptosis {
		t.Fatalf("target died by %v", target.Phenotype.Death.Model)
	}
}

func TestStep_SnapshotResumeMatchesUninterrupted(t *testing.T) {
	tu := smallTuning()
	tu.RecruitEverySteps = 20
	build := func() *Tissue {
		ts := newTestTissue(t, tu)
		ts.SeedTissue()
		c := ts.Cells()[0]
		ts.env.StartDeath(c, model.DeathApoptosis)
		ts.AddCell(ts.reg.Immune, model.Vec3{X: 30})
		return ts
	}

	a := build()
	for i := 0; i < 40; i++ {
		a.StepOnce()
	}
	mid := a.ExportSnapshot()
	for i := 0; i < 40; i++ {
		a.StepOnce()
	}

	b, err := NewFromSnapshot(Config{Tuning: tu}, a.reg, mid, nil)
	if err != nil {
		t.Fatalf("NewFromSnapshot: %v", err)
	}
	if b.RunID() != "test" {
		t.Fatalf("run id %q not carried over", b.RunID())
	}
	for i := 0; i < 40; i++ {
		b.StepOnce()
	}

	want := a.ExportSnapshot()
	got := b.ExportSnapshot()
	if !reflect.DeepEqual(want.Cells, got.Cells) {
		t.Fatalf("cells diverged after resume")
	}
	if !reflect.DeepEqual(want.Attachments, got.Attachments) || !reflect.DeepEqual(want.Counters, got.Counters) {
		t.Fatalf("counters/attachments diverged: %+v vs %+v", want.Counters, got.Counters)
	}
}

func TestImportSnapshot_RejectsUnknownType(t *testing.T) {
	ts := newTestTissue(t, smallTuning())
	snap := ts.ExportSnapshot()
	snap.Cells = append(snap.Cells, snapshot.CellV1{ID: 1, Type: "fibroblast"})
	if err := ts.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestRun_RequestSnapshot(t *testing.T) {
	tu := smallTuning()
	tu.TickRateHz = 50
	ts := newTestTissue(t, tu)
	ts.SeedTissue()
	sink := make(chan snapshot.SnapshotV1, 1)
	ts.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ts.Run(ctx) }()

	step, err := ts.RequestSnapshot(ctx)
	if err != nil {
		t.Fatalf("RequestSnapshot: %v", err)
	}
	snap := <-sink
	if snap.Header.Step != step {
		t.Fatalf("snapshot step %d, reported %d", snap.Header.Step, step)
	}
	if len(snap.Cells) == 0 {
		t.Fatalf("empty snapshot")
	}
	ts.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestFrame_ColorsAndObservers(t *testing.T) {
	ts := newTestTissue(t, smallTuning())
	ts.SeedTissue()

	f := ts.Frame()
	if len(f.Cells) != len(ts.Cells()) || f.Type != "FRAME" {
		t.Fatalf("frame has %d cells, tissue %d", len(f.Cells), len(ts.Cells()))
	}
	for _, c := range f.Cells {
		if c.Kind == "macrophage" && c.Colors[0] != "gold" {
			t.Fatalf("macrophage colored %v", c.Colors)
		}
	}

	out := make(chan []byte, 4)
	ts.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", Out: out, EverySteps: 1, Kinds: []string{"macrophage"}})
	select {
	case <-out:
	default:
		t.Fatalf("no initial frame")
	}
	if got := len(ts.frameFor(ts.observers["O1"]).Cells); got != 5 {
		t.Fatalf("filtered frame has %d cells want 5", got)
	}
	ts.StepOnce()
	select {
	case <-out:
	default:
		t.Fatalf("no frame after step")
	}
	ts.handleObserverLeave("O1")
	if len(ts.observers) != 0 {
		t.Fatalf("observer not removed")
	}
}
