package chunks

import (
	"minefield.ai/internal/sim/world/occupancy"
	"minefield.ai/internal/sim/world/terrain/gen"
)

// Cell is a value snapshot of one grid square. IsMine and AdjacentMines come
// from the generator; Revealed and Flagged from the occupancy index.
type Cell struct {
	X             int  `json:"x"`
	Y             int  `json:"y"`
	IsMine        bool `json:"is_mine"`
	AdjacentMines int  `json:"adjacent_mines"`
	Revealed      bool `json:"revealed"`
	Flagged       bool `json:"flagged"`
}

// Hint is the mine count carried along with a fill for callers that want it.
type Hint int

const NoHint Hint = -1

type PendingFill struct {
	LocalX int  `json:"lx"`
	LocalY int  `json:"ly"`
	Hint   Hint `json:"hint"`
}

type State int

const (
	Unloaded State = iota
	LoadedClean
	DirtyPendingFills
	Processing
	UpToDate
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "UNLOADED"
	case LoadedClean:
		return "LOADED_CLEAN"
	case DirtyPendingFills:
		return "DIRTY_PENDING_FILLS"
	case Processing:
		return "PROCESSING"
	case UpToDate:
		return "UP_TO_DATE"
	default:
		return "UNKNOWN"
	}
}

// Source supplies generated values and persisted overrides to chunks, and
// receives override changes back.
type Source interface {
	// Prepare is called once before chunk (cx,cy) is materialized.
	Prepare(cx, cy int)
	Generate(x, y int) (isMine bool, adjacent int)
	Override(x, y int) occupancy.Override
	Commit(x, y int, o occupancy.Override)
}

type gridSource struct {
	gen *gen.Generator
	ix  *occupancy.Index
}

// NewGridSource wires a generator and an occupancy index into a Source.
func NewGridSource(g *gen.Generator, ix *occupancy.Index) Source {
	return gridSource{gen: g, ix: ix}
}

func (s gridSource) Prepare(cx, cy int)                    { s.ix.EnsureChunk(cx, cy) }
func (s gridSource) Generate(x, y int) (bool, int)         { return s.gen.Generate(x, y) }
func (s gridSource) Override(x, y int) occupancy.Override  { return s.ix.Get(x, y) }
func (s gridSource) Commit(x, y int, o occupancy.Override) { s.ix.Set(x, y, o) }

// Propagator receives flood-fill steps that leave a chunk. gx,gy is the
// global coordinate of the neighbour cell outside from's bounds.
type Propagator interface {
	PropagateFill(from *Chunk, gx, gy int, hint Hint)
}
