package tissue

import (
	"math"

	"cancerimmune.bio/internal/sim/model"
)

type voxelKey struct{ X, Y, Z int }

// grid buckets cells into cubic mechanics voxels. Neighbor queries scan the
// 27 voxels around a cell. It is rebuilt once per step.
type grid struct {
	size    float64
	buckets map[voxelKey][]*model.Cell
}

func newGrid(size float64) *grid {
	return &grid{size: size, buckets: map[voxelKey][]*model.Cell{}}
}

func (g *grid) key(p model.Vec3) voxelKey {
	return voxelKey{
		X: int(math.Floor(p.X / g.size)),
		Y: int(math.Floor(p.Y / g.size)),
		Z: int(math.Floor(p.Z / g.size)),
	}
}

// rebuild expects cells in ascending ID order and keeps that order per bucket.
func (g *grid) rebuild(cells []*model.Cell) {
	for k := range g.buckets {
		delete(g.buckets, k)
	}
	for _, c := range cells {
		k := g.key(c.Pos)
		g.buckets[k] = append(g.buckets[k], c)
	}
}

func (g *grid) add(c *model.Cell) {
	k := g.key(c.Pos)
	g.buckets[k] = append(g.buckets[k], c)
}

// near returns cells in the surrounding voxels, including c, in voxel scan
// order then ID order within each voxel.
func (g *grid) near(c *model.Cell) []*model.Cell {
	k := g.key(c.Pos)
	var out []*model.Cell
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				out = append(out, g.buckets[voxelKey{k.X + dx, k.Y + dy, k.Z + dz}]...)
			}
		}
	}
	return out
}
