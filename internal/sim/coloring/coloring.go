// Package coloring maps cells to SVG-style color names for frames.
package coloring

import (
	"fmt"
	"math"

	"cancerimmune.bio/internal/sim/model"
)

// Colors is (fill, stroke, nucleus fill, nucleus stroke).
type Colors [4]string

// For picks the first matching rule: immune, macrophage, attached, protected,
// live oncoprotein gradient, then apoptotic or necrotic shades.
func For(c *model.Cell, attached bool) Colors {
	out := Colors{"black", "black", "black", "black"}

	switch {
	case c.Is(model.KindImmune):
		out[0], out[1], out[2] = "lime", "lime", "green"
		return out
	case c.Is(model.KindMacrophage):
		out[0], out[1], out[2] = "gold", "gold", "gold"
		return out
	case attached:
		out[0], out[1], out[2] = "darkcyan", "black", "cyan"
		return out
	case c.PDL1 == model.PDL1Protected:
		out[0], out[1], out[2] = "hotpink", "hotpink", "hotpink"
		return out
	case !c.Dead():
		v := channel(0.5 * c.Oncoprotein * 255)
		fill := rgb(v, v, 255-v)
		out[0], out[1] = fill, fill
		out[2] = rgb(half(v), half(v), half(255-v))
		return out
	}

	switch p := c.Phenotype.Death.Phase; {
	case p == model.PhaseApoptotic:
		out[0], out[2] = "rgb(255,0,0)", "rgb(125,0,0)"
	case p.IsNecrotic():
		out[0], out[2] = "rgb(250,138,38)", "rgb(139,69,19)"
	}
	return out
}

func channel(x float64) int {
	v := int(math.Round(x))
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func half(v int) int { return int(math.Round(float64(v) / 2)) }

func rgb(r, g, b int) string { return fmt.Sprintf("rgb(%d,%d,%d)", r, g, b) }
