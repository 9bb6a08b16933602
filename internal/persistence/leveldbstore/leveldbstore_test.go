package leveldbstore

import (
	"testing"

	"minefield.ai/internal/sim/world/occupancy"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOverridesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	g := s.Overrides("g1")
	if err := g.SaveOverride(-1, -1, occupancy.Override{Revealed: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := g.SaveOverride(-16, -16, occupancy.Override{Flagged: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := g.SaveOverride(0, 0, occupancy.Override{Flagged: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Overrides("g2").SaveOverride(-1, -1, occupancy.Override{Flagged: true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	o, ok, err := g.LoadOverride(-1, -1)
	if err != nil || !ok || !o.Revealed || o.Flagged {
		t.Fatalf("load = %+v %v %v", o, ok, err)
	}
	if _, ok, err := g.LoadOverride(3, 3); ok || err != nil {
		t.Fatalf("missing override ok=%v err=%v", ok, err)
	}

	entries, err := g.LoadRange(-16, -16, -1, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in chunk -1_-1, got %+v", entries)
	}

	if err := g.DeleteOverride(-1, -1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := g.LoadOverride(-1, -1); ok {
		t.Fatalf("override survived delete")
	}
	if _, ok, _ := s.Overrides("g2").LoadOverride(-1, -1); !ok {
		t.Fatalf("delete leaked into another game")
	}
}

func TestDropGame(t *testing.T) {
	s := openTestStore(t)
	g := s.Overrides("g")
	for x := 0; x < 40; x++ {
		if err := g.SaveOverride(x, 0, occupancy.Override{Revealed: true}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DropGame("g"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	entries, err := g.LoadRange(0, 0, 47, 15)
	if err != nil || len(entries) != 0 {
		t.Fatalf("after drop: %+v %v", entries, err)
	}
}

func TestIndexHydratesFromLevelDB(t *testing.T) {
	s := openTestStore(t)
	g := s.Overrides("g")
	if err := g.SaveOverride(33, -2, occupancy.Override{Flagged: true}); err != nil {
		t.Fatal(err)
	}
	ix := occupancy.New(g, nil)
	if !ix.Get(33, -2).Flagged {
		t.Fatalf("index did not hydrate")
	}
	ix.SetRevealed(33, -2, true)
	o, ok, err := g.LoadOverride(33, -2)
	if err != nil || !ok || !o.Revealed || o.Flagged {
		t.Fatalf("write-through = %+v %v %v", o, ok, err)
	}
}
