package tissue

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/packing"
)

func TestSeedTissue_PopulatesSphere(t *testing.T) {
	tu := smallTuning()
	ts := newTestTissue(t, tu)

	sum := ts.SeedTissue()

	want := len(packing.Sphere(ts.reg.Default.Phenotype.Radius, 40))
	m := ts.Metrics()
	if m.Tumor != want {
		t.Fatalf("tumor cells=%d want %d", m.Tumor, want)
	}
	if m.Macrophages != 5 {
		t.Fatalf("macrophages=%d want 5", m.Macrophages)
	}
	if sum.Count != want {
		t.Fatalf("summary covers %d cells, want %d (macrophages are added after)", sum.Count, want)
	}
	for _, c := range ts.Cells() {
		if c.Oncoprotein < 0 {
			t.Fatalf("cell %d oncoprotein %v < 0", c.ID, c.Oncoprotein)
		}
		if r := r3.Norm(c.Pos); r > 40 {
			t.Fatalf("cell %d at radius %v outside the tumor sphere", c.ID, r)
		}
	}
	if sum.Min < 0 || sum.Max < sum.Min || sum.Mean < sum.Min || sum.Mean > sum.Max {
		t.Fatalf("inconsistent summary %+v", sum)
	}
}

func TestSeedTissue_OncoproteinClampedAtZero(t *testing.T) {
	tu := smallTuning()
	tu.Parameters.DoubleValues["tumor_mean_immunogenicity"] = 0
	tu.Parameters.DoubleValues["tumor_immunogenicity_standard_deviation"] = 1
	ts := newTestTissue(t, tu)
	sum := ts.SeedTissue()

	if sum.Min != 0 {
		t.Fatalf("min=%v; roughly half of N(0,1) draws should clamp to 0", sum.Min)
	}
	zeros := 0
	for _, c := range ts.Cells() {
		if c.Is(model.KindTumor) && c.Oncoprotein == 0 {
			zeros++
		}
	}
	if zeros == 0 {
		t.Fatalf("expected clamped cells")
	}
}

func TestSeedTissue_SameSeedSameTissue(t *testing.T) {
	a := newTestTissue(t, smallTuning())
	b := newTestTissue(t, smallTuning())
	a.SeedTissue()
	b.SeedTissue()
	for i, c := range a.Cells() {
		d := b.Cells()[i]
		if c.Pos != d.Pos || c.Oncoprotein != d.Oncoprotein {
			t.Fatalf("cell %d differs: %+v vs %+v", c.ID, c.Pos, d.Pos)
		}
	}
}

func TestRecruit_SeedsShellFromDeaths(t *testing.T) {
	ts := newTestTissue(t, smallTuning())
	ts.SeedTissue()

	if n := ts.Recruit(); n != 0 {
		t.Fatalf("recruited %d with no deaths", n)
	}

	killed := 0
	for _, c := range ts.Cells() {
		if c.Is(model.KindTumor) && killed < 2 {
			ts.env.StartDeath(c, model.DeathApoptosis)
			killed++
		}
	}
	// ka=1, r1=10, ki=0.5, D=2: rate 5/min over recruitment_dt 6 -> 30 cells.
	n := ts.Recruit()
	if n != 30 {
		t.Fatalf("recruited %d want 30", n)
	}

	var sum float64
	immune := 0
	for _, c := range ts.Cells() {
		if !c.Is(model.KindImmune) {
			continue
		}
		immune++
		sum += r3.Norm(c.Pos)
	}
	if immune != 30 {
		t.Fatalf("immune cells=%d want 30", immune)
	}
	// Tumor is below the 250 floor: shell is [280, 355].
	if mean := sum / float64(immune); math.Abs(mean-317.5) > 15 {
		t.Fatalf("mean recruit radius %v far from shell midpoint", mean)
	}
	if ts.Recruited() != 30 {
		t.Fatalf("Recruited()=%d", ts.Recruited())
	}
}

func TestSummarizeOncoprotein(t *testing.T) {
	if got := SummarizeOncoprotein(nil); got != (OncoproteinSummary{}) {
		t.Fatalf("empty summary = %+v", got)
	}
	one := SummarizeOncoprotein([]float64{1.5})
	if one.Count != 1 || one.Mean != 1.5 || one.SD != 0 || one.Min != 1.5 || one.Max != 1.5 {
		t.Fatalf("single summary = %+v", one)
	}
	s := SummarizeOncoprotein([]float64{0, 1, 2, 3})
	if s.Mean != 1.5 || s.Min != 0 || s.Max != 3 {
		t.Fatalf("summary = %+v", s)
	}
	// Sample standard deviation: sqrt(5/3).
	if math.Abs(s.SD-math.Sqrt(5.0/3.0)) > 1e-12 {
		t.Fatalf("sd = %v", s.SD)
	}
}
