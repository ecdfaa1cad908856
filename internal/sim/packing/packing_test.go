package packing

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
)

type randSampler struct{ r *rand.Rand }

func (s randSampler) Uniform() float64 { return s.r.Float64() }

func (s randSampler) Normal(mean, sd float64) float64 { return mean + sd*s.r.NormFloat64() }

func TestSphere_SmallScenario(t *testing.T) {
	pts := Sphere(5, 10)
	require.NotEmpty(t, pts)
	for _, p := range pts {
		assert.Less(t, r3.Norm(p), 10.0)
	}
}

func TestSphere_InsideAndDistinct(t *testing.T) {
	cases := []struct{ cell, sphere float64 }{
		{5, 10}, {1, 7.3}, {8.412710547954228, 120}, {3, 2},
	}
	for _, tc := range cases {
		pts := Sphere(tc.cell, tc.sphere)
		seen := map[model.Vec3]bool{}
		for _, p := range pts {
			assert.Less(t, r3.Norm(p), tc.sphere)
			assert.False(t, seen[p], "duplicate %v", p)
			seen[p] = true
		}
	}
}

func TestSphere_Deterministic(t *testing.T) {
	assert.Equal(t, Sphere(4, 40), Sphere(4, 40))
}

func TestSphere_Density(t *testing.T) {
	const cell, sphere = 5.0, 100.0
	pts := Sphere(cell, sphere)
	// One point per lattice cell of volume sqrt(3)r * sqrt(3)r * 2r.
	want := (4.0 / 3.0 * math.Pi * sphere * sphere * sphere) / (6 * cell * cell * cell)
	assert.InEpsilon(t, want, float64(len(pts)), 0.1)
}

func TestSphere_DegenerateInputs(t *testing.T) {
	assert.Empty(t, Sphere(0, 10))
	assert.Empty(t, Sphere(5, 0))
}

func TestBall_StaysInside(t *testing.T) {
	s := randSampler{rand.New(rand.NewSource(1))}
	for i := 0; i < 2000; i++ {
		assert.LessOrEqual(t, r3.Norm(Ball(s, 50)), 50.0+1e-9)
	}
}

func TestShell_Parameters(t *testing.T) {
	sh := Shell{Inner: 280, Outer: 355}
	assert.InDelta(t, 317.5, sh.Mean(), 1e-12)
	assert.InDelta(t, 0.33*37.5, sh.SD(), 1e-12)

	s := randSampler{rand.New(rand.NewSource(2))}
	var sum float64
	const n = 4000
	for i := 0; i < n; i++ {
		sum += r3.Norm(sh.Sample(s))
	}
	assert.InDelta(t, sh.Mean(), sum/n, 1.0)
}

func TestDirection_Unit(t *testing.T) {
	s := randSampler{rand.New(rand.NewSource(3))}
	for i := 0; i < 100; i++ {
		assert.InDelta(t, 1, r3.Norm(Direction(s)), 1e-12)
	}
}
