// Package packing places cells: a close-packed lattice for the initial tumor
// and random draws inside balls and spherical shells.
package packing

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
)

// Sampler is the subset of model.Env used for random placement.
type Sampler interface {
	Uniform() float64
	Normal(mean, sd float64) float64
}

// Sphere enumerates a hexagonal-close-packing-like lattice clipped to an open
// ball of sphereRadius around the origin. The plane counter staggers x by half
// a radius on odd z planes; the column counter staggers y by one radius. The
// column counter runs across planes, so the y stagger alternates between
// planes as well as within them.
func Sphere(cellRadius, sphereRadius float64) []model.Vec3 {
	if cellRadius <= 0 || sphereRadius <= 0 {
		return nil
	}
	xs := cellRadius * math.Sqrt(3)
	ys := cellRadius * 2
	zs := cellRadius * math.Sqrt(3)

	var out []model.Vec3
	xc := 0
	for zc := 0; ; zc++ {
		z := -sphereRadius + float64(zc)*zs
		if z >= sphereRadius {
			break
		}
		for i := 0; ; i, xc = i+1, xc+1 {
			x := -sphereRadius + float64(i)*xs
			if x >= sphereRadius {
				break
			}
			for j := 0; ; j++ {
				y := -sphereRadius + float64(j)*ys
				if y >= sphereRadius {
					break
				}
				p := model.Vec3{
					X: x + float64(zc%2)*0.5*cellRadius,
					Y: y + float64(xc%2)*cellRadius,
					Z: z,
				}
				if r3.Norm(p) < sphereRadius {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// Direction draws a unit vector uniformly over the sphere surface.
func Direction(s Sampler) model.Vec3 {
	theta := s.Uniform() * 2 * math.Pi
	phi := math.Acos(2*s.Uniform() - 1)
	return spherical(1, theta, phi)
}

// Ball draws a point inside the ball of the given radius: a uniform direction
// at radius·√U.
func Ball(s Sampler, radius float64) model.Vec3 {
	r := radius * math.Sqrt(s.Uniform())
	theta := s.Uniform() * 2 * math.Pi
	phi := math.Acos(2*s.Uniform() - 1)
	return spherical(r, theta, phi)
}

// Shell is the region [Inner, Outer] around the origin.
type Shell struct {
	Inner float64
	Outer float64
}

func (sh Shell) Mean() float64 { return 0.5 * (sh.Inner + sh.Outer) }

// SD is a third of the half-width, so almost all draws land in the shell.
func (sh Shell) SD() float64 { return 0.33 * (sh.Outer - sh.Inner) / 2 }

// Sample draws angles uniformly and the radius from a normal centered on the
// shell midpoint.
func (sh Shell) Sample(s Sampler) model.Vec3 {
	theta := s.Uniform() * 2 * math.Pi
	phi := math.Acos(2*s.Uniform() - 1)
	r := s.Normal(sh.Mean(), sh.SD())
	return spherical(r, theta, phi)
}

func spherical(r, theta, phi float64) model.Vec3 {
	return model.Vec3{
		X: r * math.Cos(theta) * math.Sin(phi),
		Y: r * math.Sin(theta) * math.Sin(phi),
		Z: r * math.Cos(phi),
	}
}
