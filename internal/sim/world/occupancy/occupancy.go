// Package occupancy is the sparse spatial index of cell overrides layered over
// the generated grid. Only cells that are revealed or flagged have an entry;
// everything else is implicitly hidden and unflagged.
package occupancy

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/zyedidia/generic/mapset"

	"minefield.ai/internal/sim/world/logic/mathx"
)

// ChunkSize mirrors the chunk edge length so the index can hydrate per chunk.
const ChunkSize = 16

type Pos struct {
	X int
	Y int
}

type ChunkKey struct {
	CX int
	CY int
}

// Override is the persisted state of a touched cell.
type Override struct {
	Revealed bool `json:"revealed,omitempty"`
	Flagged  bool `json:"flagged,omitempty"`
}

func (o Override) IsZero() bool { return !o.Revealed && !o.Flagged }

// Entry is one override with its coordinates, used for bulk import/export.
type Entry struct {
	X        int      `json:"x"`
	Y        int      `json:"y"`
	Override Override `json:"override"`
}

// Backend is the durable read/write capability behind the index.
type Backend interface {
	LoadOverride(x, y int) (Override, bool, error)
	SaveOverride(x, y int, o Override) error
	DeleteOverride(x, y int) error
}

// RangeLoader is implemented by backends that can load a rectangle of
// overrides (inclusive bounds) in one round trip.
type RangeLoader interface {
	LoadRange(minX, minY, maxX, maxY int) ([]Entry, error)
}

// Seeder is implemented by in-process backends that start every run empty.
// Seed fills an empty backend and reports whether it did.
type Seeder interface {
	Seed(entries []Entry) bool
}

type Stats struct {
	Entries       int    `json:"entries"`
	HydratedChunk int    `json:"hydrated_chunks"`
	Reads         uint64 `json:"reads"`
	Writes        uint64 `json:"writes"`
	ReadErrors    uint64 `json:"read_errors"`
	WriteErrors   uint64 `json:"write_errors"`
}

type Index struct {
	mu       sync.RWMutex
	cells    map[Pos]Override
	hydrated mapset.Set[ChunkKey]

	backend Backend
	log     logrus.FieldLogger

	reads       atomic.Uint64
	writes      atomic.Uint64
	readErrors  atomic.Uint64
	writeErrors atomic.Uint64
}

// New returns an index backed by b. A nil backend keeps everything in memory.
func New(b Backend, log logrus.FieldLogger) *Index {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Index{
		cells:    map[Pos]Override{},
		hydrated: mapset.New[ChunkKey](),
		backend:  b,
		log:      log,
	}
}

// EnsureChunk loads the persisted overrides of chunk (cx,cy) once.
func (ix *Index) EnsureChunk(cx, cy int) {
	k := ChunkKey{CX: cx, CY: cy}
	ix.mu.RLock()
	done := ix.hydrated.Has(k)
	ix.mu.RUnlock()
	if done {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.hydrated.Has(k) {
		return
	}
	ix.hydrated.Put(k)
	if ix.backend == nil {
		return
	}

	minX, minY := cx*ChunkSize, cy*ChunkSize
	maxX, maxY := minX+ChunkSize-1, minY+ChunkSize-1
	if rl, ok := ix.backend.(RangeLoader); ok {
		ix.reads.Add(1)
		entries, err := rl.LoadRange(minX, minY, maxX, maxY)
		if err != nil {
			ix.readErrors.Add(1)
			ix.log.WithFields(logrus.Fields{"cx": cx, "cy": cy}).WithError(err).Warn("occupancy: range load failed")
			return
		}
		for _, e := range entries {
			if e.Override.IsZero() {
				delete(ix.cells, Pos{X: e.X, Y: e.Y})
				continue
			}
			ix.cells[Pos{X: e.X, Y: e.Y}] = e.Override
		}
		return
	}

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			p := Pos{X: x, Y: y}
			ix.reads.Add(1)
			o, found, err := ix.backend.LoadOverride(x, y)
			if err != nil {
				ix.readErrors.Add(1)
				ix.log.WithFields(logrus.Fields{"x": x, "y": y}).WithError(err).Warn("occupancy: load failed")
				continue
			}
			if found && !o.IsZero() {
				ix.cells[p] = o
			} else {
				delete(ix.cells, p)
			}
		}
	}
}

// Get returns the override at (x,y), hydrating its chunk first.
func (ix *Index) Get(x, y int) Override {
	ix.EnsureChunk(mathx.FloorDiv(x, ChunkSize), mathx.FloorDiv(y, ChunkSize))
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.cells[Pos{X: x, Y: y}]
}

// Set stores o at (x,y). A zero override removes the entry entirely.
func (ix *Index) Set(x, y int, o Override) {
	ix.EnsureChunk(mathx.FloorDiv(x, ChunkSize), mathx.FloorDiv(y, ChunkSize))

	p := Pos{X: x, Y: y}
	ix.mu.Lock()
	prev, had := ix.cells[p]
	if o.IsZero() {
		if !had {
			ix.mu.Unlock()
			return
		}
		delete(ix.cells, p)
	} else {
		if had && prev == o {
			ix.mu.Unlock()
			return
		}
		ix.cells[p] = o
	}
	ix.mu.Unlock()

	if ix.backend == nil {
		return
	}
	ix.writes.Add(1)
	var err error
	if o.IsZero() {
		err = ix.backend.DeleteOverride(x, y)
	} else {
		err = ix.backend.SaveOverride(x, y, o)
	}
	if err != nil {
		ix.writeErrors.Add(1)
		ix.log.WithFields(logrus.Fields{"x": x, "y": y}).WithError(err).Error("occupancy: write failed")
	}
}

func (ix *Index) SetRevealed(x, y int, v bool) {
	o := ix.Get(x, y)
	o.Revealed = v
	if v {
		o.Flagged = false
	}
	ix.Set(x, y, o)
}

func (ix *Index) SetFlagged(x, y int, v bool) {
	o := ix.Get(x, y)
	o.Flagged = v
	ix.Set(x, y, o)
}

// Import restores snapshot entries. A durable backend already holds the
// newest state, so entries are only taken when there is no backend or the
// backend is an empty Seeder; they are never written back. It reports
// whether the entries were used.
func (ix *Index) Import(entries []Entry) bool {
	if ix.backend != nil {
		sd, ok := ix.backend.(Seeder)
		if !ok || !sd.Seed(entries) {
			return false
		}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range entries {
		if e.Override.IsZero() {
			continue
		}
		ix.cells[Pos{X: e.X, Y: e.Y}] = e.Override
	}
	return true
}

// Entries returns every in-memory override sorted by (y,x).
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	out := make([]Entry, 0, len(ix.cells))
	for p, o := range ix.cells {
		out = append(out, Entry{X: p.X, Y: p.Y, Override: o})
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.cells)
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	n := len(ix.cells)
	h := ix.hydrated.Size()
	ix.mu.RUnlock()
	return Stats{
		Entries:       n,
		HydratedChunk: h,
		Reads:         ix.reads.Load(),
		Writes:        ix.writes.Load(),
		ReadErrors:    ix.readErrors.Load(),
		WriteErrors:   ix.writeErrors.Load(),
	}
}
