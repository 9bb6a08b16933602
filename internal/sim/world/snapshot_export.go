package world

import (
	"sort"
	"time"

	"minefield.ai/internal/persistence/snapshot"
)

// ExportSnapshot captures the durable state of the game. It must not run
// concurrently with a mutating action; the runtime calls it from its loop.
func (g *Game) ExportSnapshot() snapshot.GameSnapshotV1 {
	g.mu.Lock()
	defer g.mu.Unlock()

	entries := g.index.Entries()
	overrides := make([]snapshot.OverrideV1, 0, len(entries))
	for _, e := range entries {
		overrides = append(overrides, snapshot.OverrideV1{
			X:        e.X,
			Y:        e.Y,
			Revealed: e.Override.Revealed,
			Flagged:  e.Override.Flagged,
		})
	}

	pending := g.chunks.ExportPendingFills()
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var fills []snapshot.PendingFillV1
	for _, id := range ids {
		for _, p := range pending[id] {
			fills = append(fills, snapshot.PendingFillV1{Chunk: id, LX: p.LocalX, LY: p.LocalY, Hint: int(p.Hint)})
		}
	}

	return snapshot.GameSnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			GameID:  g.cfg.ID,
			Seq:     g.seq.Load(),
			SavedAt: time.Now().UnixNano(),
		},
		Seed:           g.cfg.Seed,
		SeedText:       g.cfg.SeedText,
		MineThreshold:  g.cfg.MineThreshold,
		NoiseFrequency: g.cfg.NoiseFrequency,
		CoordLimit:     g.cfg.CoordLimit,
		Overrides:      overrides,
		PendingFills:   fills,
	}
}
