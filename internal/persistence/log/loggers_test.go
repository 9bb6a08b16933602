package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minefield.ai/internal/sim/world"
)

func TestActionLoggerRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewActionLogger(dir)
	clock := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	require.NoError(t, l.WriteAction(world.ActionLogEntry{Game: "g", Seq: 1, Kind: "REVEAL", Outcome: world.OutcomeRevealed, Revealed: 12}))
	require.NoError(t, l.WriteAction(world.ActionLogEntry{Game: "g", Seq: 2, Kind: "FLAG", X: 3, Y: -4, Outcome: world.OutcomeFlagged}))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, l.WriteAction(world.ActionLogEntry{Game: "g", Seq: 3, Kind: "REVEAL", Outcome: world.OutcomeMineHit, Revealed: 1}))
	require.NoError(t, l.Close())

	first, err := ReadActions(filepath.Join(dir, "actions", "actions-2024-03-01-10.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, uint64(2), first[1].Seq)
	require.Equal(t, -4, first[1].Y)

	second, err := ReadActions(filepath.Join(dir, "actions", "actions-2024-03-01-11.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, world.OutcomeMineHit, second[0].Outcome)
}

func TestActionLoggerAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for seq := uint64(1); seq <= 2; seq++ {
		l := NewActionLogger(dir)
		l.w.now = func() time.Time { return clock }
		require.NoError(t, l.WriteAction(world.ActionLogEntry{Game: "g", Seq: seq}))
		require.NoError(t, l.Close())
	}
	got, err := ReadActions(filepath.Join(dir, "actions", "actions-2024-03-01-10.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, got, 2)
}
