package chunks

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zyedidia/generic/mapset"
)

// DefaultMaxDriveChunks bounds how many distinct chunks a single reveal may
// fill before the rest of the frontier is parked as pending fills.
const DefaultMaxDriveChunks = 4096

// ActivePredicate reports whether anyone currently needs live state for chunk (cx,cy).
type ActivePredicate func(gameID string, cx, cy int) bool

// BroadcastFunc is told about chunks whose visible cells changed as a side
// effect of propagation, with the cells that changed.
type BroadcastFunc func(ch *Chunk, delta []Cell)

type Option func(*Manager)

// WithActivePredicate gates propagation on chunk activity. Without one every
// chunk counts as active.
func WithActivePredicate(fn ActivePredicate) Option {
	return func(m *Manager) { m.isActive = fn }
}

func WithBroadcast(fn BroadcastFunc) Option {
	return func(m *Manager) { m.broadcast = fn }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMaxDriveChunks overrides DefaultMaxDriveChunks. n <= 0 disables the bound.
func WithMaxDriveChunks(n int) Option {
	return func(m *Manager) { m.maxDriveChunks = n }
}

// WithCoordLimit stops fills from revealing or parking cells with |x| or |y|
// above n. n <= 0 disables the bound.
func WithCoordLimit(n int) Option {
	return func(m *Manager) { m.coordLimit = n }
}

// Manager owns every materialized chunk of one game and the centralized
// queue of fills waiting for inactive chunks.
type Manager struct {
	gameID string
	src    Source

	mu     sync.RWMutex
	chunks map[string]*Chunk

	pmu        sync.Mutex
	pending    map[string][]PendingFill
	pendingSet map[string]mapset.Set[Local]

	isActive       ActivePredicate
	broadcast      BroadcastFunc
	maxDriveChunks int
	coordLimit     int
	log            logrus.FieldLogger
}

func NewManager(gameID string, src Source, opts ...Option) *Manager {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	m := &Manager{
		gameID:         gameID,
		src:            src,
		chunks:         map[string]*Chunk{},
		pending:        map[string][]PendingFill{},
		pendingSet:     map[string]mapset.Set[Local]{},
		maxDriveChunks: DefaultMaxDriveChunks,
		log:            discard,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) GameID() string { return m.gameID }

// GetChunk returns the chunk at (cx,cy), creating it on first reference.
// Repeated calls return the same instance.
func (m *Manager) GetChunk(cx, cy int) *Chunk {
	id := ChunkID(cx, cy)
	m.mu.RLock()
	ch, ok := m.chunks[id]
	m.mu.RUnlock()
	if ok {
		return ch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.chunks[id]; ok {
		return ch
	}
	ch = newChunk(cx, cy, m.src)
	ch.limit = m.coordLimit
	m.chunks[id] = ch
	return ch
}

func (m *Manager) GetChunkByID(id string) (*Chunk, error) {
	cx, cy, err := ParseChunkID(id)
	if err != nil {
		return nil, err
	}
	return m.GetChunk(cx, cy), nil
}

// LookupChunk returns the chunk at (cx,cy) only if it was already created.
func (m *Manager) LookupChunk(cx, cy int) (*Chunk, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.chunks[ChunkID(cx, cy)]
	return ch, ok
}

// LoadedChunkKeys lists created chunks sorted by (cx,cy).
func (m *Manager) LoadedChunkKeys() []Coord {
	m.mu.RLock()
	keys := make([]Coord, 0, len(m.chunks))
	for _, ch := range m.chunks {
		keys = append(keys, ch.coord)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CY < keys[j].CY
	})
	return keys
}

func (m *Manager) ChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// IsActive applies the activity predicate; no predicate means always active.
func (m *Manager) IsActive(cx, cy int) bool {
	if m.isActive == nil {
		return true
	}
	return m.isActive(m.gameID, cx, cy)
}

// Cell returns the current state of global cell (gx,gy).
func (m *Manager) Cell(gx, gy int) Cell {
	cx, cy, lx, ly := GlobalToChunkLocal(gx, gy)
	c, _ := m.GetChunk(cx, cy).GetTile(lx, ly)
	return c
}

// SetFlagged sets the flag on an unrevealed global cell.
func (m *Manager) SetFlagged(gx, gy int, v bool) (Cell, bool) {
	cx, cy, lx, ly := GlobalToChunkLocal(gx, gy)
	return m.GetChunk(cx, cy).SetFlagged(lx, ly, v)
}

// RevealSingle reveals one global cell without flooding.
func (m *Manager) RevealSingle(gx, gy int) (Cell, bool) {
	cx, cy, lx, ly := GlobalToChunkLocal(gx, gy)
	return m.GetChunk(cx, cy).Reveal(lx, ly)
}

// EnqueuePendingFill parks a fill for chunk id. A local coordinate already
// parked for that chunk is not parked again.
func (m *Manager) EnqueuePendingFill(id string, lx, ly int, hint Hint) bool {
	if !InBounds(lx, ly) {
		return false
	}
	m.pmu.Lock()
	defer m.pmu.Unlock()
	set, ok := m.pendingSet[id]
	if !ok {
		set = mapset.New[Local]()
		m.pendingSet[id] = set
	}
	k := Local{X: lx, Y: ly}
	if set.Has(k) {
		return false
	}
	set.Put(k)
	m.pending[id] = append(m.pending[id], PendingFill{LocalX: lx, LocalY: ly, Hint: hint})
	return true
}

// PendingFills returns a copy of the parked fills for chunk id.
func (m *Manager) PendingFills(id string) []PendingFill {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	items := m.pending[id]
	out := make([]PendingFill, len(items))
	copy(out, items)
	return out
}

func (m *Manager) HasPendingFills(id string) bool {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	return len(m.pending[id]) > 0
}

// PendingChunkIDs lists chunks with parked fills, sorted.
func (m *Manager) PendingChunkIDs() []string {
	m.pmu.Lock()
	out := make([]string, 0, len(m.pending))
	for id, items := range m.pending {
		if len(items) > 0 {
			out = append(out, id)
		}
	}
	m.pmu.Unlock()
	sort.Strings(out)
	return out
}

// PendingCount is the total number of parked fills across chunks.
func (m *Manager) PendingCount() int {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	n := 0
	for _, items := range m.pending {
		n += len(items)
	}
	return n
}

// ExportPendingFills copies the centralized queue for snapshots.
func (m *Manager) ExportPendingFills() map[string][]PendingFill {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	out := make(map[string][]PendingFill, len(m.pending))
	for id, items := range m.pending {
		if len(items) == 0 {
			continue
		}
		cp := make([]PendingFill, len(items))
		copy(cp, items)
		out[id] = cp
	}
	return out
}

// ImportPendingFills merges parked fills restored from a snapshot.
func (m *Manager) ImportPendingFills(in map[string][]PendingFill) {
	for id, items := range in {
		for _, it := range items {
			m.EnqueuePendingFill(id, it.LocalX, it.LocalY, it.Hint)
		}
	}
}

func (m *Manager) takePending(id string) []PendingFill {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	items := m.pending[id]
	delete(m.pending, id)
	delete(m.pendingSet, id)
	return items
}

// RevealAndPropagate flood-fills from global (gx,gy). The fill crosses into
// active neighbour chunks and parks at inactive ones. It returns every cell
// revealed, across all chunks touched.
func (m *Manager) RevealAndPropagate(gx, gy int, hint Hint) []Cell {
	cx, cy, lx, ly := GlobalToChunkLocal(gx, gy)
	origin := m.GetChunk(cx, cy)
	return m.drive([]fillTask{{chunk: origin, lx: lx, ly: ly, hint: hint}}, origin.id)
}

// ProcessPendingFillsForChunk replays every fill parked for chunk id and
// clears its entry. Further boundary crossings follow the same activity rule.
func (m *Manager) ProcessPendingFillsForChunk(id string) []Cell {
	cx, cy, err := ParseChunkID(id)
	if err != nil {
		m.log.WithError(err).Warn("process pending fills: bad chunk id")
		return nil
	}
	items := m.takePending(id)
	if len(items) == 0 {
		return nil
	}
	ch := m.GetChunk(cx, cy)
	tasks := make([]fillTask, 0, len(items))
	for _, it := range items {
		tasks = append(tasks, fillTask{chunk: ch, lx: it.LocalX, ly: it.LocalY, hint: it.Hint})
	}
	m.log.WithFields(logrus.Fields{"chunk": id, "fills": len(items)}).Debug("draining pending fills")
	return m.drive(tasks, "")
}

type fillTask struct {
	chunk  *Chunk
	lx, ly int
	hint   Hint
}

type crossing struct {
	from   string
	gx, gy int
	hint   Hint
}

// router collects boundary crossings during one local flood fill, so that no
// neighbour is filled while the source chunk is still locked.
type router struct {
	crossings []crossing
}

func (r *router) PropagateFill(from *Chunk, gx, gy int, hint Hint) {
	cx, cy := GlobalToChunk(gx, gy)
	if cx == from.coord.CX && cy == from.coord.CY {
		panic(fmt.Sprintf("chunks: propagation from %s re-entered its own chunk at (%d,%d)", from.id, gx, gy))
	}
	r.crossings = append(r.crossings, crossing{from: from.id, gx: gx, gy: gy, hint: hint})
}

// drive runs fill tasks until the frontier is exhausted. Work for active
// chunks is appended to the queue; work for inactive ones is parked.
// Every chunk changed by the drive except quiet is broadcast once at the end.
func (m *Manager) drive(tasks []fillTask, quiet string) []Cell {
	var (
		r        router
		revealed []Cell
		touched  = map[string][]Cell{}
		order    []*Chunk
		visited  = mapset.New[string]()
		seen     = mapset.New[[2]int]()
		parked   int
	)
	for _, t := range tasks {
		visited.Put(t.chunk.id)
	}

	for len(tasks) > 0 {
		t := tasks[0]
		tasks = tasks[1:]

		cells := t.chunk.ExecuteLocalFloodFill(t.lx, t.ly, t.hint, &r)
		if len(cells) > 0 {
			if _, ok := touched[t.chunk.id]; !ok {
				order = append(order, t.chunk)
			}
			touched[t.chunk.id] = append(touched[t.chunk.id], cells...)
			revealed = append(revealed, cells...)
		}

		for _, x := range r.crossings {
			if seen.Has([2]int{x.gx, x.gy}) {
				continue
			}
			seen.Put([2]int{x.gx, x.gy})
			if o := m.src.Override(x.gx, x.gy); o.Revealed || o.Flagged {
				continue
			}
			cx, cy, lx, ly := GlobalToChunkLocal(x.gx, x.gy)
			id := ChunkID(cx, cy)
			overBudget := m.maxDriveChunks > 0 && !visited.Has(id) && visited.Size() >= m.maxDriveChunks
			if m.IsActive(cx, cy) && !overBudget {
				visited.Put(id)
				tasks = append(tasks, fillTask{chunk: m.GetChunk(cx, cy), lx: lx, ly: ly, hint: x.hint})
				continue
			}
			if m.EnqueuePendingFill(id, lx, ly, x.hint) {
				parked++
			}
		}
		r.crossings = r.crossings[:0]
	}

	if parked > 0 {
		m.log.WithFields(logrus.Fields{"parked": parked, "chunks": visited.Size()}).Debug("fill parked at inactive frontier")
	}
	if m.broadcast != nil {
		for _, ch := range order {
			if ch.id == quiet {
				continue
			}
			m.broadcast(ch, touched[ch.id])
		}
	}
	return revealed
}
