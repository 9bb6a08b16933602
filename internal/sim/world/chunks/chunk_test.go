package chunks

import (
	"testing"

	"github.com/stretchr/testify/require"

	"minefield.ai/internal/sim/world/occupancy"
	"minefield.ai/internal/sim/world/terrain/gen"
)

// testSource builds a Source whose only mines are the listed cells.
func testSource(mines ...[2]int) (Source, *occupancy.Index) {
	set := map[[2]int]bool{}
	for _, m := range mines {
		set[m] = true
	}
	g := gen.New(1, gen.WithNoise(gen.NoiseFunc(func(x, y float64) float64 {
		if set[[2]int{int(x), int(y)}] {
			return -0.9
		}
		return 0
	})))
	ix := occupancy.New(occupancy.NewMemoryBackend(), nil)
	return NewGridSource(g, ix), ix
}

func TestChunkMaterializesLazily(t *testing.T) {
	src, _ := testSource([2]int{3, 3})
	c := newChunk(0, 0, src)
	require.Equal(t, Unloaded, c.State())
	require.False(t, c.Materialized())

	cell, ok := c.GetTile(3, 3)
	require.True(t, ok)
	require.True(t, c.Materialized())
	require.Equal(t, LoadedClean, c.State())
	require.True(t, cell.IsMine)
	require.Equal(t, 0, cell.AdjacentMines)

	cell, ok = c.GetTile(2, 2)
	require.True(t, ok)
	require.Equal(t, 1, cell.AdjacentMines)
	require.Equal(t, 2, cell.X)
	require.Equal(t, 2, cell.Y)
}

func TestGetTileOutOfBounds(t *testing.T) {
	src, _ := testSource()
	c := newChunk(0, 0, src)
	_, ok := c.GetTile(Size, 0)
	require.False(t, ok)
	_, ok = c.GetTile(0, -1)
	require.False(t, ok)

	c.SetTile(-1, 0, Cell{Revealed: true})
	require.Equal(t, 0, c.revealedCount())
}

func TestSetTileCommitsOverride(t *testing.T) {
	src, ix := testSource()
	c := newChunk(-1, 0, src)
	c.SetTile(15, 2, Cell{Revealed: true, Flagged: true})

	cell, _ := c.GetTile(15, 2)
	require.Equal(t, -1, cell.X)
	require.True(t, cell.Revealed)
	require.False(t, cell.Flagged)
	require.Equal(t, occupancy.Override{Revealed: true}, ix.Get(-1, 2))
}

func TestAddPendingFillDedupes(t *testing.T) {
	src, _ := testSource()
	c := newChunk(0, 0, src)
	require.True(t, c.AddPendingFill(4, 4, NoHint))
	require.False(t, c.AddPendingFill(4, 4, 3))
	require.False(t, c.AddPendingFill(16, 4, NoHint))
	require.Len(t, c.PendingFills(), 1)
	require.Equal(t, DirtyPendingFills, c.State())
}

func TestProcessPendingFillsStateMachine(t *testing.T) {
	src, _ := testSource()
	c := newChunk(0, 0, src)
	require.Empty(t, c.ProcessPendingFills(nil))
	require.Equal(t, Unloaded, c.State())

	c.AddPendingFill(0, 0, NoHint)
	first := c.ProcessPendingFills(nil)
	require.Len(t, first, 1)
	// The zero cell queued its neighbours while the batch ran.
	require.Equal(t, DirtyPendingFills, c.State())

	total := len(first)
	for c.State() == DirtyPendingFills {
		total += len(c.ProcessPendingFills(nil))
	}
	require.Equal(t, UpToDate, c.State())
	require.Equal(t, Size*Size, total)
	require.Empty(t, c.PendingFills())

	c.AddPendingFill(1, 1, NoHint)
	require.Equal(t, DirtyPendingFills, c.State())
	require.Empty(t, c.ProcessPendingFills(nil))
	require.Equal(t, UpToDate, c.State())
}

func TestLocalFloodFillStopsAtNumbers(t *testing.T) {
	src, _ := testSource([2]int{8, 8})
	c := newChunk(0, 0, src)

	got := c.ExecuteLocalFloodFill(7, 7, NoHint, nil)
	require.Len(t, got, 1)
	require.Equal(t, 1, got[0].AdjacentMines)

	got = c.ExecuteLocalFloodFill(0, 0, NoHint, nil)
	require.Len(t, got, Size*Size-2)
	mine, _ := c.GetTile(8, 8)
	require.False(t, mine.Revealed)
	require.Equal(t, Size*Size-1, c.revealedCount())
	require.Equal(t, UpToDate, c.State())
}

func TestLocalFloodFillSkipsRevealedAndFlagged(t *testing.T) {
	src, _ := testSource()
	c := newChunk(0, 0, src)
	_, ok := c.SetFlagged(5, 5, true)
	require.True(t, ok)
	require.Empty(t, c.ExecuteLocalFloodFill(5, 5, NoHint, nil))

	got := c.ExecuteLocalFloodFill(0, 0, NoHint, nil)
	require.Len(t, got, Size*Size-1)
	flagged, _ := c.GetTile(5, 5)
	require.True(t, flagged.Flagged)
	require.False(t, flagged.Revealed)

	require.Empty(t, c.ExecuteLocalFloodFill(0, 0, NoHint, nil))
}

type recordingPropagator struct {
	targets map[string]int
}

func (r *recordingPropagator) PropagateFill(from *Chunk, gx, gy int, hint Hint) {
	cx, cy := GlobalToChunk(gx, gy)
	r.targets[ChunkID(cx, cy)]++
}

func TestLocalFloodFillReportsCrossings(t *testing.T) {
	src, _ := testSource()
	c := newChunk(0, 0, src)
	p := &recordingPropagator{targets: map[string]int{}}
	got := c.ExecuteLocalFloodFill(8, 8, 2, p)
	require.Len(t, got, Size*Size)
	for _, cell := range got {
		cx, cy := GlobalToChunk(cell.X, cell.Y)
		require.Equal(t, 0, cx)
		require.Equal(t, 0, cy)
	}
	require.Len(t, p.targets, 8)
	require.NotContains(t, p.targets, "0_0")
	require.NotContains(t, p.targets, "2_0")
}

func TestRevealSingleAndFlagRules(t *testing.T) {
	src, ix := testSource([2]int{1, 1})
	c := newChunk(0, 0, src)

	cell, changed := c.Reveal(1, 1)
	require.True(t, changed)
	require.True(t, cell.IsMine)
	require.True(t, cell.Revealed)
	require.True(t, ix.Get(1, 1).Revealed)

	_, changed = c.Reveal(1, 1)
	require.False(t, changed)

	_, ok := c.SetFlagged(1, 1, true)
	require.False(t, ok)

	cell, ok = c.SetFlagged(2, 2, true)
	require.True(t, ok)
	require.True(t, cell.Flagged)
	cell, ok = c.SetFlagged(2, 2, false)
	require.True(t, ok)
	require.False(t, cell.Flagged)
	require.True(t, ix.Get(2, 2).IsZero())
}

func TestChunkHydratesFromOccupancy(t *testing.T) {
	src, ix := testSource()
	ix.Import([]occupancy.Entry{
		{X: 17, Y: 1, Override: occupancy.Override{Revealed: true}},
		{X: 18, Y: 1, Override: occupancy.Override{Flagged: true}},
	})
	c := newChunk(1, 0, src)
	a, _ := c.GetTile(1, 1)
	b, _ := c.GetTile(2, 1)
	require.True(t, a.Revealed)
	require.True(t, b.Flagged)
	require.Len(t, c.VisibleCells(), 2)
}

func TestMaterializedMinesHaveZeroAdjacency(t *testing.T) {
	g := gen.NewFromString("test-seed")
	src := NewGridSource(g, occupancy.New(nil, nil))
	for cy := -2; cy <= 2; cy++ {
		for cx := -2; cx <= 2; cx++ {
			for _, cell := range newChunk(cx, cy, src).cells() {
				if cell.IsMine {
					require.Equal(t, 0, cell.AdjacentMines, "mine at (%d,%d)", cell.X, cell.Y)
				}
			}
		}
	}
}
