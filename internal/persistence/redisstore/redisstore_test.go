package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"minefield.ai/internal/sim/world/occupancy"
)

func TestFieldEncoding(t *testing.T) {
	for _, p := range [][2]int{{0, 0}, {-17, 3}, {100000, -1}} {
		x, y, ok := parseField(field(p[0], p[1]))
		if !ok || x != p[0] || y != p[1] {
			t.Fatalf("field round trip %v -> (%d,%d,%v)", p, x, y, ok)
		}
	}
	if _, _, ok := parseField("nope"); ok {
		t.Fatalf("garbage field parsed")
	}
	for _, o := range []occupancy.Override{{Revealed: true}, {Flagged: true}, {}} {
		if got := decodeOverride(encodeOverride(o)); got != o {
			t.Fatalf("override round trip %+v -> %+v", o, got)
		}
	}
}

func TestChunkKeyUsesFloorDivision(t *testing.T) {
	g := newStore(nil, Options{}).Overrides("g")
	if got := g.keyFor(-1, 15); got != "minefield:g:ovr:-1_0" {
		t.Fatalf("keyFor(-1,15)=%s", got)
	}
	if got := g.keyFor(16, -16); got != "minefield:g:ovr:1_-1" {
		t.Fatalf("keyFor(16,-16)=%s", got)
	}
}

// Runs against a live server when MINEFIELD_TEST_REDIS is set (host:port).
func TestStoreAgainstRedis(t *testing.T) {
	addr := os.Getenv("MINEFIELD_TEST_REDIS")
	if addr == "" {
		t.Skip("MINEFIELD_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, Options{Addr: addr, Prefix: "minefield-test"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	game := uuid.NewString()
	defer func() { _ = s.DropGame(context.Background(), game) }()
	g := s.Overrides(game)

	if err := g.SaveOverride(-3, 4, occupancy.Override{Revealed: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := g.SaveOverride(20, 4, occupancy.Override{Flagged: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	o, ok, err := g.LoadOverride(-3, 4)
	if err != nil || !ok || !o.Revealed {
		t.Fatalf("load = %+v %v %v", o, ok, err)
	}
	entries, err := g.LoadRange(-16, 0, 31, 15)
	if err != nil || len(entries) != 2 {
		t.Fatalf("range = %+v %v", entries, err)
	}
	if err := g.DeleteOverride(-3, 4); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := g.LoadOverride(-3, 4); ok {
		t.Fatalf("override survived delete")
	}
}
