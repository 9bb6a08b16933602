// Package gen is the deterministic world generator: a seeded noise field
// decides which cells hold mines, and neighbour counts are derived from it.
// Nothing here keeps state beyond the seed, so any two generators built from
// the same seed agree on every coordinate regardless of query order.
package gen

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultMineThreshold  = 0.1
	DefaultNoiseFrequency = 1.0
)

// Value is the rendered content of a cell: Mine or an adjacency count 0..8.
type Value int8

const Mine Value = -1

func (v Value) IsMine() bool { return v == Mine }

func (v Value) String() string {
	if v == Mine {
		return "M"
	}
	return strconv.Itoa(int(v))
}

// SeedFromString turns a textual seed into the numeric seed used by the noise.
func SeedFromString(s string) int64 {
	return int64(xxhash.Sum64String(s))
}

type Generator struct {
	seed      int64
	threshold float64
	noise     Noise
}

type Option func(*Generator)

// WithNoise replaces the default value noise. Used by tests to pin mines.
func WithNoise(n Noise) Option {
	return func(g *Generator) {
		if n != nil {
			g.noise = n
		}
	}
}

// WithThreshold sets the mine threshold on the [0,1] scaled noise.
func WithThreshold(t float64) Option {
	return func(g *Generator) {
		if t > 0 && t < 1 {
			g.threshold = t
		}
	}
}

// WithFrequency sets the default noise frequency. Ignored when WithNoise is used.
func WithFrequency(f float64) Option {
	return func(g *Generator) {
		if vn, ok := g.noise.(ValueNoise); ok && f > 0 {
			vn.Frequency = f
			g.noise = vn
		}
	}
}

func New(seed int64, opts ...Option) *Generator {
	g := &Generator{
		seed:      seed,
		threshold: DefaultMineThreshold,
		noise:     ValueNoise{Seed: seed, Frequency: DefaultNoiseFrequency},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func NewFromString(seed string, opts ...Option) *Generator {
	return New(SeedFromString(seed), opts...)
}

func (g *Generator) Seed() int64        { return g.seed }
func (g *Generator) Threshold() float64 { return g.threshold }

// Frequency reports the value-noise frequency, or 0 for injected noise.
func (g *Generator) Frequency() float64 {
	if vn, ok := g.noise.(ValueNoise); ok {
		return vn.Frequency
	}
	return 0
}

// Scaled returns the noise at (x,y) mapped from [-1,1] to [0,1].
func (g *Generator) Scaled(x, y int) float64 {
	n := g.noise.Noise2D(float64(x), float64(y))
	return (n + 1) / 2
}

func (g *Generator) IsMine(x, y int) bool {
	return g.Scaled(x, y) < g.threshold
}

// AdjacentMines counts mines among the 8 neighbours of (x,y).
func (g *Generator) AdjacentMines(x, y int) int {
	n := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if g.IsMine(x+dx, y+dy) {
				n++
			}
		}
	}
	return n
}

// CellValue is Mine for a mine cell, otherwise the neighbour mine count.
func (g *Generator) CellValue(x, y int) Value {
	if g.IsMine(x, y) {
		return Mine
	}
	return Value(g.AdjacentMines(x, y))
}

// Generate reports mine status and adjacency in one call. Mines always report 0.
func (g *Generator) Generate(x, y int) (isMine bool, adjacent int) {
	v := g.CellValue(x, y)
	if v == Mine {
		return true, 0
	}
	return false, int(v)
}
