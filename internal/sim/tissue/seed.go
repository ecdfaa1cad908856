package tissue

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"cancerimmune.bio/internal/sim/packing"
	"cancerimmune.bio/internal/sim/recruit"
)

// OncoproteinSummary describes the oncoprotein distribution over all cells.
type OncoproteinSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	SD    float64 `json:"sd"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// SeedTissue packs tumor cells into a sphere of tumor_radius, draws their
// oncoprotein levels, logs the distribution and scatters the initial
// macrophages inside the same sphere.
func (t *Tissue) SeedTissue() OncoproteinSummary {
	p := t.tune.Parameters
	tumor := t.reg.Default
	radius := p.Double("tumor_radius")

	positions := packing.Sphere(tumor.Phenotype.Radius, radius)
	t.logf("creating %d closely-packed tumor cells", len(positions))

	mean := p.Double("tumor_mean_immunogenicity")
	sd := p.Double("tumor_immunogenicity_standard_deviation")
	for _, pos := range positions {
		c := t.AddCell(tumor, pos)
		c.Oncoprotein = math.Max(0, t.env.Normal(mean, sd))
	}

	sum := t.OncoproteinSummary()
	t.logf("oncoprotein summary: n=%d mean=%.4f sd=%.4f min=%.4f max=%.4f", sum.Count, sum.Mean, sum.SD, sum.Min, sum.Max)

	n := p.Int("number_of_initial_macrophages")
	for i := 0; i < n; i++ {
		t.AddCell(t.reg.Macrophage, packing.Ball(t.env, radius))
	}
	t.fields.refresh(t.cells)
	t.publishMetrics(0, 0)
	return sum
}

// OncoproteinSummary covers every cell in the collection, macrophages and
// immune cells included.
func (t *Tissue) OncoproteinSummary() OncoproteinSummary {
	xs := make([]float64, len(t.cells))
	for i, c := range t.cells {
		xs[i] = c.Oncoprotein
	}
	return SummarizeOncoprotein(xs)
}

// SummarizeOncoprotein reports the sample standard deviation; it is zero for
// fewer than two values.
func SummarizeOncoprotein(xs []float64) OncoproteinSummary {
	if len(xs) == 0 {
		return OncoproteinSummary{}
	}
	s := OncoproteinSummary{
		Count: len(xs),
		Min:   floats.Min(xs),
		Max:   floats.Max(xs),
	}
	if len(xs) > 1 {
		s.Mean, s.SD = stat.MeanStdDev(xs, nil)
	} else {
		s.Mean = xs[0]
	}
	return s
}

// Recruit seeds new immune cells in a shell just outside the tumor. The count
// is the recruitment rate for the cumulative deaths times recruitment_dt, so
// one call covers a whole recruitment interval: with recruitment_dt 6 and
// recruit_every_steps 60 it adds 60 times the recruits of a single dt of 0.1.
// The time-averaged influx equals rate per minute either way.
func (t *Tissue) Recruit() int {
	p := t.tune.Parameters
	rate := recruit.Rate(t.deaths.Total(), t.reg.Default.Recruitment)
	n := recruit.Count(rate, t.tune.RecruitmentDT)

	radius := recruit.TumorRadius(t.cells, t.tune.MinTumorRadius)
	shell := recruit.Region(radius,
		p.Double("initial_min_immune_distance_from_tumor"),
		p.Double("thickness_of_immune_seeding_region"))

	for i := 0; i < n; i++ {
		t.AddCell(t.reg.Immune, shell.Sample(t.env))
	}
	t.recruited += n
	if n > 0 {
		t.logf("step %d: tumor radius %.1f, recruited %d immune cells (deaths=%d)", t.step.Load(), radius, n, t.deaths.Total())
	}
	return n
}
