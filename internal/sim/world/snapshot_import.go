package world

import (
	"fmt"

	"minefield.ai/internal/persistence/snapshot"
	"minefield.ai/internal/sim/world/chunks"
	"minefield.ai/internal/sim/world/occupancy"
)

// ConfigFromSnapshot rebuilds the generator parameters a snapshot was taken with.
func ConfigFromSnapshot(s snapshot.GameSnapshotV1) GameConfig {
	return GameConfig{
		ID:             s.Header.GameID,
		Seed:           s.Seed,
		SeedText:       s.SeedText,
		MineThreshold:  s.MineThreshold,
		NoiseFrequency: s.NoiseFrequency,
		CoordLimit:     s.CoordLimit,
	}
}

// ImportSnapshot loads parked fills into a freshly created game. Overrides
// are only taken from the snapshot when the backend cannot supply newer ones.
func (g *Game) ImportSnapshot(s snapshot.GameSnapshotV1) error {
	if s.Header.GameID != g.cfg.ID {
		return fmt.Errorf("snapshot game %q does not match %q", s.Header.GameID, g.cfg.ID)
	}
	if s.Seed != g.cfg.Seed {
		return fmt.Errorf("snapshot seed %d does not match %d", s.Seed, g.cfg.Seed)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	entries := make([]occupancy.Entry, 0, len(s.Overrides))
	for _, o := range s.Overrides {
		entries = append(entries, occupancy.Entry{
			X:        o.X,
			Y:        o.Y,
			Override: occupancy.Override{Revealed: o.Revealed, Flagged: o.Flagged && !o.Revealed},
		})
	}
	if !g.index.Import(entries) {
		g.log.WithField("overrides", len(entries)).Debug("snapshot overrides skipped; backend is authoritative")
	}

	pending := map[string][]chunks.PendingFill{}
	for _, p := range s.PendingFills {
		if _, _, err := chunks.ParseChunkID(p.Chunk); err != nil {
			return err
		}
		pending[p.Chunk] = append(pending[p.Chunk], chunks.PendingFill{LocalX: p.LX, LocalY: p.LY, Hint: chunks.Hint(p.Hint)})
	}
	g.chunks.ImportPendingFills(pending)
	g.seq.Store(s.Header.Seq)
	return nil
}
