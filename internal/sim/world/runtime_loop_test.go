package world

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minefield.ai/internal/persistence/snapshot"
	"minefield.ai/internal/sim/world/chunks"
)

func startRuntime(t *testing.T, g *Game, setup func(*Runtime)) (*Runtime, context.CancelFunc) {
	t.Helper()
	rt := NewRuntime(g)
	if setup != nil {
		setup(rt)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = rt.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-rt.Done()
	})
	return rt, cancel
}

func TestRuntimeAppliesActions(t *testing.T) {
	g := newTestGame(t, Deps{Noise: ringNoise()})
	var hooked []Outcome
	rt, _ := startRuntime(t, g, func(rt *Runtime) {
		rt.SetActionHook(func(_ Action, res Result) { hooked = append(hooked, res.Outcome) })
	})

	ctx := context.Background()
	res, err := rt.Do(ctx, Action{Kind: ActionReveal, X: 0, Y: 0})
	require.NoError(t, err)
	require.Equal(t, OutcomeRevealed, res.Outcome)

	_, err = rt.Do(ctx, Action{Kind: ActionChord, X: 2000, Y: 0})
	require.ErrorIs(t, err, ErrInvalidCoordinate)

	res, err = rt.Do(ctx, Action{Kind: ActionFlag, X: -1, Y: -1})
	require.NoError(t, err)
	require.Equal(t, OutcomeFlagged, res.Outcome)

	snap, err := rt.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Overrides, 2)

	// The hook runs on the loop goroutine before the next request is served.
	require.Equal(t, []Outcome{OutcomeRevealed, OutcomeFlagged}, hooked)
}

func TestRuntimeDrainsPendingFills(t *testing.T) {
	active := map[string]bool{"0_0": true}
	g := newTestGame(t, Deps{
		Noise:  mineNoise(func(int, int) bool { return false }),
		Active: func(_ string, cx, cy int) bool { return active[chunks.ChunkID(cx, cy)] },
	})
	rt, _ := startRuntime(t, g, nil)
	ctx := context.Background()

	_, err := rt.Do(ctx, Action{Kind: ActionReveal, X: 1, Y: 1})
	require.NoError(t, err)
	require.True(t, g.Chunks().HasPendingFills("0_1"))

	cells, err := rt.Drain(ctx, "0_1")
	require.NoError(t, err)
	require.Len(t, cells, 256)
	require.False(t, g.Chunks().HasPendingFills("0_1"))

	cells, err = rt.Drain(ctx, "0_1")
	require.NoError(t, err)
	require.Empty(t, cells)
}

func TestRuntimePeriodicSnapshots(t *testing.T) {
	g, err := NewGame(GameConfig{ID: "snap", Seed: 9, SnapshotEveryActions: 2}, Deps{Noise: ringNoise()})
	require.NoError(t, err)
	sink := make(chan snapshot.GameSnapshotV1, 4)
	rt, _ := startRuntime(t, g, func(rt *Runtime) { rt.SetSnapshotSink(sink) })

	ctx := context.Background()
	for _, p := range [][2]int{{0, 0}, {5, 5}, {6, 6}} {
		_, err := rt.Do(ctx, Action{Kind: ActionFlag, X: p[0], Y: p[1]})
		require.NoError(t, err)
	}
	select {
	case s := <-sink:
		require.Equal(t, uint64(2), s.Header.Seq)
		require.Len(t, s.Overrides, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no periodic snapshot")
	}
	select {
	case s := <-sink:
		t.Fatalf("unexpected second snapshot at seq %d", s.Header.Seq)
	default:
	}
}

func TestRuntimeStop(t *testing.T) {
	g := newTestGame(t, Deps{Noise: ringNoise()})
	rt, _ := startRuntime(t, g, nil)
	rt.Stop()
	rt.Stop()
	<-rt.Done()

	_, err := rt.Do(context.Background(), Action{Kind: ActionReveal})
	require.ErrorIs(t, err, ErrStopped)
	_, err = rt.Drain(context.Background(), "0_0")
	require.ErrorIs(t, err, ErrStopped)
}

func TestRuntimeDoHonoursContext(t *testing.T) {
	g := newTestGame(t, Deps{Noise: ringNoise()})
	rt := NewRuntime(g) // never started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rt.Snapshot(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
