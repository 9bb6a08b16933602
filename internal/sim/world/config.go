package world

import (
	"minefield.ai/internal/sim/world/chunks"
	"minefield.ai/internal/sim/world/terrain/gen"
)

// DefaultCoordLimit bounds |x| and |y| of any player-addressed cell.
const DefaultCoordLimit = 1 << 30

type GameConfig struct {
	ID string

	// Seed is used as-is unless SeedText is set, in which case it is derived
	// from SeedText.
	Seed     int64
	SeedText string

	MineThreshold  float64
	NoiseFrequency float64

	CoordLimit     int
	MaxDriveChunks int

	// Operational parameters.
	InboxSize            int
	SnapshotEveryActions int
}

func (c *GameConfig) applyDefaults() {
	if c.SeedText != "" {
		c.Seed = gen.SeedFromString(c.SeedText)
	}
	if c.MineThreshold <= 0 || c.MineThreshold >= 1 {
		c.MineThreshold = gen.DefaultMineThreshold
	}
	if c.NoiseFrequency <= 0 {
		c.NoiseFrequency = gen.DefaultNoiseFrequency
	}
	if c.CoordLimit <= 0 {
		c.CoordLimit = DefaultCoordLimit
	}
	if c.MaxDriveChunks == 0 {
		c.MaxDriveChunks = chunks.DefaultMaxDriveChunks
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.SnapshotEveryActions < 0 {
		c.SnapshotEveryActions = 0
	}
}
