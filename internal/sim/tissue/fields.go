package tissue

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/tuning"
)

// Length over which the immunostimulatory signal decays outside the tumor.
const immunoDecayLength = 100.0

// fields are analytic stand-ins for diffusing densities, refreshed once per
// step from the current tumor geometry.
//
// Oxygen sits at the boundary value outside the tumor and falls linearly to
// the core value at the center. The immunostimulatory factor is the mean
// tumor secretion rate inside the tumor and decays exponentially outside.
type fields struct {
	oxygen int
	immuno int

	o2 tuning.OxygenField

	tumorRadius float64
	source      float64
}

func (f *fields) density(density int, pos model.Vec3) float64 {
	r := r3.Norm(pos)
	switch density {
	case f.oxygen:
		if f.tumorRadius <= 0 || r >= f.tumorRadius {
			return f.o2.Boundary
		}
		return f.o2.Core + (f.o2.Boundary-f.o2.Core)*r/f.tumorRadius
	case f.immuno:
		if r <= f.tumorRadius {
			return f.source
		}
		return f.source * math.Exp(-(r-f.tumorRadius)/immunoDecayLength)
	}
	return 0
}

func (f *fields) gradient(density int, pos model.Vec3) model.Vec3 {
	r := r3.Norm(pos)
	if r == 0 {
		return model.Vec3{}
	}
	outward := r3.Scale(1/r, pos)
	switch density {
	case f.oxygen:
		if f.tumorRadius <= 0 || r >= f.tumorRadius {
			return model.Vec3{}
		}
		return r3.Scale((f.o2.Boundary-f.o2.Core)/f.tumorRadius, outward)
	case f.immuno:
		// Inside the tumor the field is flat; keep pointing inward so
		// recruits continue toward the core.
		mag := f.source / immunoDecayLength
		if r > f.tumorRadius {
			mag *= math.Exp(-(r - f.tumorRadius) / immunoDecayLength)
		}
		return r3.Scale(-mag, outward)
	}
	return model.Vec3{}
}

// refresh recomputes the tumor radius and mean immunostimulatory secretion
// over tumor cells.
func (f *fields) refresh(cells []*model.Cell) {
	maxSq := 0.0
	sum := 0.0
	n := 0
	for _, c := range cells {
		if !c.Is(model.KindTumor) {
			continue
		}
		if d := r3.Norm2(c.Pos); d > maxSq {
			maxSq = d
		}
		if rates := c.Phenotype.Secretion.SecretionRates; f.immuno < len(rates) {
			sum += rates[f.immuno]
		}
		n++
	}
	f.tumorRadius = math.Sqrt(maxSq)
	f.source = 0
	if n > 0 {
		f.source = sum / float64(n)
	}
}
