package chunks

import (
	"sync"

	"github.com/zyedidia/generic/mapset"

	"minefield.ai/internal/sim/world/occupancy"
)

// Chunk is a Size x Size tile of the grid. Tiles are generated on first
// access; the local pending queue is the breadth-first frontier of a flood
// fill that is confined to this chunk.
type Chunk struct {
	id    string
	coord Coord
	src   Source
	// limit bounds |x| and |y| of cells a fill may reveal; 0 is unbounded.
	limit int

	mu      sync.RWMutex
	state   State
	tiles   []Cell
	pending []PendingFill
	queued  mapset.Set[Local]
}

func newChunk(cx, cy int, src Source) *Chunk {
	return &Chunk{
		id:     ChunkID(cx, cy),
		coord:  Coord{CX: cx, CY: cy},
		src:    src,
		state:  Unloaded,
		queued: mapset.New[Local](),
	}
}

func (c *Chunk) outside(gx, gy int) bool {
	return c.limit > 0 && (gx < -c.limit || gx > c.limit || gy < -c.limit || gy > c.limit)
}

func (c *Chunk) ID() string   { return c.id }
func (c *Chunk) Coord() Coord { return c.coord }

func (c *Chunk) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Chunk) materializeLocked() {
	if c.tiles != nil {
		return
	}
	c.src.Prepare(c.coord.CX, c.coord.CY)
	tiles := make([]Cell, Size*Size)
	for ly := 0; ly < Size; ly++ {
		for lx := 0; lx < Size; lx++ {
			gx, gy := ChunkLocalToGlobal(c.coord.CX, c.coord.CY, lx, ly)
			mine, adj := c.src.Generate(gx, gy)
			o := c.src.Override(gx, gy)
			tiles[index(lx, ly)] = Cell{
				X:             gx,
				Y:             gy,
				IsMine:        mine,
				AdjacentMines: adj,
				Revealed:      o.Revealed,
				Flagged:       o.Flagged && !o.Revealed,
			}
		}
	}
	c.tiles = tiles
	if c.state == Unloaded {
		c.state = LoadedClean
	}
}

func (c *Chunk) ensureMaterialized() {
	c.mu.RLock()
	ok := c.tiles != nil
	c.mu.RUnlock()
	if ok {
		return
	}
	c.mu.Lock()
	c.materializeLocked()
	c.mu.Unlock()
}

// Materialized reports whether the tile array has been generated.
func (c *Chunk) Materialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tiles != nil
}

// GetTile returns the cell at local (lx,ly); ok is false out of bounds.
func (c *Chunk) GetTile(lx, ly int) (Cell, bool) {
	if !InBounds(lx, ly) {
		return Cell{}, false
	}
	c.ensureMaterialized()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tiles[index(lx, ly)], true
}

// SetTile replaces the cell at local (lx,ly) and persists its override.
// Out-of-bounds coordinates are ignored.
func (c *Chunk) SetTile(lx, ly int, cell Cell) {
	if !InBounds(lx, ly) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materializeLocked()
	cell.X, cell.Y = ChunkLocalToGlobal(c.coord.CX, c.coord.CY, lx, ly)
	if cell.Revealed {
		cell.Flagged = false
	}
	c.tiles[index(lx, ly)] = cell
	c.src.Commit(cell.X, cell.Y, occupancy.Override{Revealed: cell.Revealed, Flagged: cell.Flagged})
}

// SetFlagged sets the flag bit of an unrevealed cell. It returns the
// resulting cell and false when the cell is revealed or out of bounds.
func (c *Chunk) SetFlagged(lx, ly int, v bool) (Cell, bool) {
	if !InBounds(lx, ly) {
		return Cell{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materializeLocked()
	t := &c.tiles[index(lx, ly)]
	if t.Revealed {
		return *t, false
	}
	if t.Flagged != v {
		t.Flagged = v
		c.src.Commit(t.X, t.Y, occupancy.Override{Flagged: v})
	}
	return *t, true
}

// Reveal marks a single cell revealed without expanding, and reports whether
// it changed. Used for mine hits, which never flood.
func (c *Chunk) Reveal(lx, ly int) (Cell, bool) {
	if !InBounds(lx, ly) {
		return Cell{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materializeLocked()
	t := &c.tiles[index(lx, ly)]
	if t.Revealed || t.Flagged {
		return *t, false
	}
	t.Revealed = true
	c.src.Commit(t.X, t.Y, occupancy.Override{Revealed: true})
	return *t, true
}

// AddPendingFill queues local (lx,ly). A coordinate already queued is not
// queued twice. It reports whether the item was added.
func (c *Chunk) AddPendingFill(lx, ly int, hint Hint) bool {
	if !InBounds(lx, ly) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materializeLocked()
	return c.addPendingLocked(lx, ly, hint)
}

func (c *Chunk) addPendingLocked(lx, ly int, hint Hint) bool {
	k := Local{X: lx, Y: ly}
	if c.queued.Has(k) {
		return false
	}
	c.queued.Put(k)
	c.pending = append(c.pending, PendingFill{LocalX: lx, LocalY: ly, Hint: hint})
	switch c.state {
	case LoadedClean, UpToDate:
		c.state = DirtyPendingFills
	}
	return true
}

// PendingFills returns a copy of the local queue.
func (c *Chunk) PendingFills() []PendingFill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PendingFill, len(c.pending))
	copy(out, c.pending)
	return out
}

// ProcessPendingFills drains the items queued when it was called. Items
// discovered while draining stay queued and leave the chunk dirty.
func (c *Chunk) ProcessPendingFills(p Propagator) []Cell {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processBatchLocked(p)
}

func (c *Chunk) processBatchLocked(p Propagator) []Cell {
	if c.state != DirtyPendingFills {
		return nil
	}
	c.state = Processing

	batch := c.pending
	c.pending = nil
	var out []Cell
	for _, it := range batch {
		c.queued.Remove(Local{X: it.LocalX, Y: it.LocalY})
		out = c.fillStepLocked(it, p, out)
	}

	if len(c.pending) > 0 {
		c.state = DirtyPendingFills
	} else {
		c.state = UpToDate
	}
	return out
}

func (c *Chunk) fillStepLocked(it PendingFill, p Propagator, out []Cell) []Cell {
	t := &c.tiles[index(it.LocalX, it.LocalY)]
	if t.Revealed || t.Flagged || t.IsMine || c.outside(t.X, t.Y) {
		return out
	}
	t.Revealed = true
	c.src.Commit(t.X, t.Y, occupancy.Override{Revealed: true})
	out = append(out, *t)
	if t.AdjacentMines > 0 {
		return out
	}

	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := it.LocalX+dx, it.LocalY+dy
			if c.outside(t.X+dx, t.Y+dy) {
				continue
			}
			if !InBounds(nx, ny) {
				if p != nil {
					p.PropagateFill(c, t.X+dx, t.Y+dy, it.Hint)
				}
				continue
			}
			n := c.tiles[index(nx, ny)]
			if n.IsMine || n.Flagged || n.Revealed {
				continue
			}
			c.addPendingLocked(nx, ny, it.Hint)
		}
	}
	return out
}

// ExecuteLocalFloodFill reveals the region reachable from local (startX,startY)
// without leaving this chunk. Steps that would leave it are handed to p.
// Only cells inside this chunk are returned.
func (c *Chunk) ExecuteLocalFloodFill(startX, startY int, hint Hint, p Propagator) []Cell {
	if !InBounds(startX, startY) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materializeLocked()

	t := c.tiles[index(startX, startY)]
	if t.Revealed || t.Flagged || t.IsMine {
		return nil
	}
	c.addPendingLocked(startX, startY, hint)

	var out []Cell
	for c.state == DirtyPendingFills {
		out = append(out, c.processBatchLocked(p)...)
	}
	return out
}

// VisibleCells returns the revealed or flagged cells, in row-major order.
func (c *Chunk) VisibleCells() []Cell {
	c.ensureMaterialized()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Cell
	for _, t := range c.tiles {
		if t.Revealed || t.Flagged {
			out = append(out, t)
		}
	}
	return out
}

// cells returns a copy of every tile, in row-major order.
func (c *Chunk) cells() []Cell {
	c.ensureMaterialized()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Cell, len(c.tiles))
	copy(out, c.tiles)
	return out
}

// revealedCount is the number of revealed tiles.
func (c *Chunk) revealedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, t := range c.tiles {
		if t.Revealed {
			n++
		}
	}
	return n
}
