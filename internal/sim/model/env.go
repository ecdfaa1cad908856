package model

// Env is the narrow host contract the behavior rules consume.
type Env interface {
	// Neighbors returns cells in the mechanics voxels around the cell, the cell itself included.
	Neighbors(c *Cell) []*Cell
	DensityIndex(name string) int
	Density(density int, pos Vec3) float64
	Gradient(density int, pos Vec3) Vec3

	Attach(a, b *Cell) bool
	Detach(a, b *Cell) bool
	Partner(c *Cell) (*Cell, bool)

	// StartDeath returns false when the cell is already dead.
	StartDeath(c *Cell, m DeathModel) bool

	Uniform() float64
	Normal(mean, sd float64) float64
}

// Density names known to the microenvironment.
const (
	DensityOxygen            = "oxygen"
	DensityImmunostimulatory = "immunostimulatory factor"
)
