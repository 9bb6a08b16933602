package ws

import (
	"minefield.ai/internal/protocol"
	"minefield.ai/internal/sim/boardcode"
	"minefield.ai/internal/sim/world"
	"minefield.ai/internal/sim/world/chunks"
)

func cellObs(c chunks.Cell) protocol.CellObs {
	o := protocol.CellObs{X: c.X, Y: c.Y, Revealed: c.Revealed, Flagged: c.Flagged}
	if c.Revealed {
		o.Mine = c.IsMine
		o.Adjacent = c.AdjacentMines
	}
	return o
}

func cellsObs(cells []chunks.Cell) []protocol.CellObs {
	if len(cells) == 0 {
		return nil
	}
	out := make([]protocol.CellObs, len(cells))
	for i, c := range cells {
		out[i] = cellObs(c)
	}
	return out
}

func chunkObs(v world.ChunkView) protocol.ChunkObs {
	cells := cellsObs(v.Cells)
	if cells == nil {
		cells = []protocol.CellObs{}
	}
	return protocol.ChunkObs{ID: v.ID, CX: v.CX, CY: v.CY, State: v.State, Cells: cells}
}

// chunkStateObs is chunkObs plus the packed full-chunk encoding.
func chunkStateObs(v world.ChunkView) protocol.ChunkObs {
	o := chunkObs(v)
	o.Packed = boardcode.PackChunk(v.CX, v.CY, v.Cells)
	return o
}

// groupByChunk splits cells by the chunk they belong to, keeping order.
func groupByChunk(cells []chunks.Cell) (ids []string, groups map[string][]chunks.Cell) {
	groups = map[string][]chunks.Cell{}
	for _, c := range cells {
		id := chunks.ChunkID(chunks.GlobalToChunk(c.X, c.Y))
		if _, ok := groups[id]; !ok {
			ids = append(ids, id)
		}
		groups[id] = append(groups[id], c)
	}
	return ids, groups
}
