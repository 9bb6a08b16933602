package chunks

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type activeSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newActiveSet(ids ...string) *activeSet {
	a := &activeSet{ids: map[string]bool{}}
	for _, id := range ids {
		a.ids[id] = true
	}
	return a
}

func (a *activeSet) predicate(_ string, cx, cy int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ids[ChunkID(cx, cy)]
}

func (a *activeSet) activate(id string) {
	a.mu.Lock()
	a.ids[id] = true
	a.mu.Unlock()
}

func TestGetChunkMemoized(t *testing.T) {
	src, _ := testSource()
	m := NewManager("g", src)
	a := m.GetChunk(-3, 4)
	b := m.GetChunk(-3, 4)
	require.Same(t, a, b)

	c, err := m.GetChunkByID("-3_4")
	require.NoError(t, err)
	require.Same(t, a, c)

	_, err = m.GetChunkByID("nope")
	require.ErrorIs(t, err, ErrBadChunkID)

	_, ok := m.LookupChunk(9, 9)
	require.False(t, ok)
	require.Equal(t, []Coord{{CX: -3, CY: 4}}, m.LoadedChunkKeys())
}

func TestFloodFillContainedToInactiveBoundary(t *testing.T) {
	src, _ := testSource()
	active := newActiveSet("0_0")
	m := NewManager("g", src, WithActivePredicate(active.predicate))

	got := m.RevealAndPropagate(5, 5, NoHint)
	require.Len(t, got, Size*Size)

	want := []string{"-1_-1", "-1_0", "-1_1", "0_-1", "0_1", "1_-1", "1_0", "1_1"}
	sort.Strings(want)
	require.Equal(t, want, m.PendingChunkIDs())

	require.Len(t, m.PendingFills("1_0"), Size)
	require.Len(t, m.PendingFills("0_-1"), Size)
	require.Len(t, m.PendingFills("1_1"), 1)
	require.Equal(t, []PendingFill{{LocalX: 15, LocalY: 15, Hint: NoHint}}, m.PendingFills("-1_-1"))
	require.Equal(t, 4*Size+4, m.PendingCount())

	require.Empty(t, m.PendingFills("2_0"))
	require.Empty(t, m.PendingFills("2_2"))
	require.Equal(t, 1, m.ChunkCount())
}

func TestActivationDrainsPendingFills(t *testing.T) {
	src, ix := testSource()
	active := newActiveSet("0_0")
	var broadcasts []string
	m := NewManager("g", src,
		WithActivePredicate(active.predicate),
		WithBroadcast(func(ch *Chunk, delta []Cell) {
			broadcasts = append(broadcasts, ch.ID())
		}),
	)

	m.RevealAndPropagate(0, 0, NoHint)
	require.Empty(t, broadcasts)
	_, ok := m.LookupChunk(1, 0)
	require.False(t, ok)
	require.False(t, ix.Get(16, 0).Revealed)

	active.activate("1_0")
	got := m.ProcessPendingFillsForChunk("1_0")
	require.Len(t, got, Size*Size)
	require.Empty(t, m.PendingFills("1_0"))
	require.False(t, m.HasPendingFills("1_0"))
	require.Equal(t, []string{"1_0"}, broadcasts)
	require.True(t, ix.Get(16, 0).Revealed)
	require.True(t, ix.Get(31, 15).Revealed)

	// The drain reached 2_0 but left it parked.
	require.Len(t, m.PendingFills("2_0"), Size)
	// The corner parked by the first drive is not parked twice.
	require.Len(t, m.PendingFills("1_-1"), Size)

	require.Empty(t, m.ProcessPendingFillsForChunk("1_0"))
}

func TestActiveNeighboursFillTransitively(t *testing.T) {
	src, _ := testSource()
	active := newActiveSet("0_0", "1_0", "2_0")
	var mu sync.Mutex
	deltas := map[string]int{}
	m := NewManager("g", src,
		WithActivePredicate(active.predicate),
		WithBroadcast(func(ch *Chunk, delta []Cell) {
			mu.Lock()
			deltas[ch.ID()] += len(delta)
			mu.Unlock()
		}),
	)

	got := m.RevealAndPropagate(3, 3, NoHint)
	require.Len(t, got, 3*Size*Size)
	require.Equal(t, map[string]int{"1_0": Size * Size, "2_0": Size * Size}, deltas)
	require.Len(t, m.PendingFills("3_0"), Size)
	require.Empty(t, m.PendingFills("1_0"))
}

func TestNilPredicateMeansAlwaysActive(t *testing.T) {
	src, _ := testSource()
	m := NewManager("g", src, WithMaxDriveChunks(9))
	require.True(t, m.IsActive(100, -100))

	got := m.RevealAndPropagate(0, 0, NoHint)
	require.Len(t, got, 9*Size*Size)
	require.Equal(t, 9, m.ChunkCount())
	require.Greater(t, m.PendingCount(), 0)
}

func TestRevealStopsAtMinesAcrossChunks(t *testing.T) {
	// A wall of mines along x=16 keeps the fill inside chunk column 0.
	var wall [][2]int
	for y := -40; y < 40; y++ {
		wall = append(wall, [2]int{16, y})
	}
	src, _ := testSource(wall...)
	m := NewManager("g", src, WithMaxDriveChunks(0), WithActivePredicate(func(_ string, cx, cy int) bool {
		return cx >= -1 && cx <= 1 && cy >= 0 && cy <= 1
	}))

	got := m.RevealAndPropagate(2, 2, NoHint)
	for _, c := range got {
		require.False(t, c.IsMine)
		require.Less(t, c.X, 16)
	}
	require.False(t, m.Cell(16, 5).Revealed)
	require.True(t, m.Cell(15, 5).Revealed)
	require.Equal(t, 3, m.Cell(15, 5).AdjacentMines)
	require.Empty(t, m.PendingFills("1_0"))
}

func TestPendingSkipsCellsAlreadyVisible(t *testing.T) {
	src, _ := testSource()
	active := newActiveSet("0_0")
	m := NewManager("g", src, WithActivePredicate(active.predicate))

	_, ok := m.SetFlagged(16, 4, true)
	require.True(t, ok)
	m.RevealAndPropagate(0, 0, NoHint)
	for _, p := range m.PendingFills("1_0") {
		require.False(t, p.LocalX == 0 && p.LocalY == 4, "flagged cell parked")
	}
	require.Len(t, m.PendingFills("1_0"), Size-1)
}

func TestEnqueuePendingFillDedupes(t *testing.T) {
	src, _ := testSource()
	m := NewManager("g", src)
	require.True(t, m.EnqueuePendingFill("4_4", 1, 2, NoHint))
	require.False(t, m.EnqueuePendingFill("4_4", 1, 2, 5))
	require.False(t, m.EnqueuePendingFill("4_4", 16, 2, NoHint))
	require.Len(t, m.PendingFills("4_4"), 1)
}

func TestExportImportPendingFills(t *testing.T) {
	src, _ := testSource()
	m := NewManager("g", src)
	m.EnqueuePendingFill("1_0", 0, 3, NoHint)
	m.EnqueuePendingFill("-1_0", 15, 3, 2)

	out := m.ExportPendingFills()
	require.Len(t, out, 2)

	src2, _ := testSource()
	m2 := NewManager("g", src2)
	m2.ImportPendingFills(out)
	require.Equal(t, m.PendingChunkIDs(), m2.PendingChunkIDs())
	require.Equal(t, []PendingFill{{LocalX: 15, LocalY: 3, Hint: 2}}, m2.PendingFills("-1_0"))
}

func TestRouterPanicsOnSourceReentry(t *testing.T) {
	src, _ := testSource()
	c := newChunk(0, 0, src)
	var r router
	require.Panics(t, func() { r.PropagateFill(c, 3, 3, NoHint) })
	require.NotPanics(t, func() { r.PropagateFill(c, 16, 3, NoHint) })
	require.Len(t, r.crossings, 1)
}
