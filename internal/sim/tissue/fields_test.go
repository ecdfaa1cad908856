package tissue

import (
	"math"
	"testing"

	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/tuning"
)

func TestFields_OxygenProfile(t *testing.T) {
	f := fields{oxygen: 0, immuno: 1, o2: tuning.OxygenField{Boundary: 38, Core: 5}, tumorRadius: 100}

	if got := f.density(0, model.Vec3{}); got != 5 {
		t.Fatalf("core oxygen=%v want 5", got)
	}
	if got := f.density(0, model.Vec3{X: 50}); math.Abs(got-21.5) > 1e-12 {
		t.Fatalf("mid oxygen=%v want 21.5", got)
	}
	if got := f.density(0, model.Vec3{Z: 150}); got != 38 {
		t.Fatalf("outside oxygen=%v want 38", got)
	}
	g := f.gradient(0, model.Vec3{Y: 50})
	if g.Y <= 0 || g.X != 0 || g.Z != 0 {
		t.Fatalf("oxygen gradient %+v should point outward", g)
	}
}

func TestFields_ImmunoPointsInward(t *testing.T) {
	tumor := &model.CellType{Kind: model.KindTumor}
	c := model.NewCell(1, tumor, model.Vec3{X: 100})
	c.Phenotype.Secretion.SecretionRates = []float64{0, 10}

	f := fields{oxygen: 0, immuno: 1}
	f.refresh([]*model.Cell{c})
	if f.tumorRadius != 100 || f.source != 10 {
		t.Fatalf("refresh: radius=%v source=%v", f.tumorRadius, f.source)
	}
	for _, p := range []model.Vec3{{X: 300}, {X: 50}, {Y: -120}} {
		g := f.gradient(1, p)
		if g.X*p.X+g.Y*p.Y+g.Z*p.Z >= 0 {
			t.Fatalf("gradient %+v at %+v does not point inward", g, p)
		}
	}
	if f.density(1, model.Vec3{X: 200}) >= f.density(1, model.Vec3{X: 150}) {
		t.Fatalf("immunostimulatory density should decay away from the tumor")
	}
}
