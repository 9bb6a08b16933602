package gen

import (
	"math"

	"minefield.ai/internal/sim/world/logic/mathx"
)

// Noise is a 2-D coherent noise field returning values in [-1,1].
type Noise interface {
	Noise2D(x, y float64) float64
}

// NoiseFunc adapts a plain function to Noise.
type NoiseFunc func(x, y float64) float64

func (f NoiseFunc) Noise2D(x, y float64) float64 { return f(x, y) }

// ValueNoise interpolates hashed lattice values with a smoothstep fade.
// At Frequency 1 every integer sample lands on a lattice point, so samples are
// independent and uniform on [-1,1]; lower frequencies clump mines together.
type ValueNoise struct {
	Seed      int64
	Frequency float64
}

func (v ValueNoise) Noise2D(x, y float64) float64 {
	f := v.Frequency
	if f <= 0 {
		f = DefaultNoiseFrequency
	}
	x *= f
	y *= f

	x0 := math.Floor(x)
	y0 := math.Floor(y)
	ix := int(x0)
	iy := int(y0)
	tx := mathx.SmoothStep(x - x0)
	ty := mathx.SmoothStep(y - y0)

	c00 := v.lattice(ix, iy)
	if tx == 0 && ty == 0 {
		return c00
	}
	c10 := v.lattice(ix+1, iy)
	c01 := v.lattice(ix, iy+1)
	c11 := v.lattice(ix+1, iy+1)

	top := mathx.Lerp(c00, c10, tx)
	bottom := mathx.Lerp(c01, c11, tx)
	return mathx.Lerp(top, bottom, ty)
}

func (v ValueNoise) lattice(x, y int) float64 {
	return mathx.SignedUnit(mathx.Hash2(v.Seed, x, y))
}
