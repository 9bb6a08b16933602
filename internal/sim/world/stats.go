package world

import "minefield.ai/internal/sim/world/occupancy"

type GameStats struct {
	ID           string          `json:"id"`
	Actions      uint64          `json:"actions"`
	MineHits     uint64          `json:"mine_hits"`
	Revealed     uint64          `json:"revealed_cells"`
	Chunks       int             `json:"chunks"`
	PendingFills int             `json:"pending_fills"`
	PendingChunk int             `json:"pending_chunks"`
	Occupancy    occupancy.Stats `json:"occupancy"`
}

// Stats is safe to call from any goroutine.
func (g *Game) Stats() GameStats {
	return GameStats{
		ID:           g.cfg.ID,
		Actions:      g.seq.Load(),
		MineHits:     g.mineHits.Load(),
		Chunks:       g.chunks.ChunkCount(),
		PendingFills: g.chunks.PendingCount(),
		PendingChunk: len(g.chunks.PendingChunkIDs()),
		Occupancy:    g.index.Stats(),
	}
}
