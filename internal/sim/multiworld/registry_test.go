package multiworld

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"minefield.ai/internal/persistence/archive"
	"minefield.ai/internal/persistence/indexdb"
	"minefield.ai/internal/sim/interest"
	"minefield.ai/internal/sim/world"
	"minefield.ai/internal/sim/world/terrain/gen"
)

// noMines makes every cell a zero so one reveal floods its whole chunk.
var noMines = gen.NoiseFunc(func(x, y float64) float64 { return 0 })

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Storage.Backend = BackendMemory
	cfg.Game.SnapshotEveryActions = 0
	return cfg
}

func newTestRegistry(t *testing.T, cfg Config, catalog *indexdb.SQLiteIndex) *Registry {
	t.Helper()
	r := NewRegistry(Options{Config: cfg, Catalog: catalog, Noise: noMines})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func openCatalog(t *testing.T, dir string) *indexdb.SQLiteIndex {
	t.Helper()
	ix, err := indexdb.OpenSQLite(filepath.Join(dir, "minefield.db"), nil)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestRegistry_CreateGetDo(t *testing.T) {
	r := newTestRegistry(t, testConfig(t), nil)
	ctx := context.Background()

	g, err := r.Create(ctx, GameSpec{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.ID() == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := r.Create(ctx, GameSpec{ID: g.ID()}); !errors.Is(err, ErrGameExists) {
		t.Fatalf("duplicate create err=%v", err)
	}
	if got, err := r.Get(g.ID()); err != nil || got != g {
		t.Fatalf("get: %v", err)
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("missing get err=%v", err)
	}

	res, err := r.Do(ctx, g.ID(), world.Action{Kind: world.ActionReveal, X: 5, Y: 5})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.Outcome != world.OutcomeRevealed || len(res.Cells) != 256 {
		t.Fatalf("reveal: outcome=%s cells=%d", res.Outcome, len(res.Cells))
	}
	if n := g.Chunks().PendingCount(); n != 4*16+4 {
		t.Fatalf("pending=%d", n)
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != g.ID() {
		t.Fatalf("ids=%v", ids)
	}
	if st := r.Stats(); len(st) != 1 || st[0].Actions != 1 || st[0].Revealed != 256 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRegistry_ActivateDrainsAndBroadcasts(t *testing.T) {
	r := newTestRegistry(t, testConfig(t), nil)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		views = map[string]int{}
	)
	r.SetChunkListener(func(game string, v world.ChunkView) {
		mu.Lock()
		views[game+"/"+v.ID] += len(v.Cells)
		mu.Unlock()
	})

	g, err := r.Create(ctx, GameSpec{ID: "g1", SeedText: "test-seed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Do(ctx, "g1", world.Action{Kind: world.ActionReveal, X: 0, Y: 0}); err != nil {
		t.Fatalf("do: %v", err)
	}

	k := interest.Key{CX: 1, CY: 0}
	if !r.Interest().Add("g1", "s1", k) {
		t.Fatalf("expected chunk to become active")
	}
	cells, err := r.Activate(ctx, "g1", k)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(cells) != 256 {
		t.Fatalf("drained %d cells", len(cells))
	}
	if g.Chunks().HasPendingFills("1_0") {
		t.Fatalf("pending fills survived the drain")
	}
	mu.Lock()
	got := views["g1/1_0"]
	mu.Unlock()
	if got != 256 {
		t.Fatalf("broadcast views=%v", views)
	}

	// Nothing parked: no runtime round trip.
	cells, err = r.Activate(ctx, "g1", interest.Key{CX: 9, CY: 9})
	if err != nil || cells != nil {
		t.Fatalf("activate idle chunk: %v %v", cells, err)
	}
}

func TestRegistry_RemoveArchives(t *testing.T) {
	cfg := testConfig(t)
	r := newTestRegistry(t, cfg, openCatalog(t, cfg.Server.DataDir))
	ctx := context.Background()

	if _, err := r.Create(ctx, GameSpec{ID: "gone"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Do(ctx, "gone", world.Action{Kind: world.ActionFlag, X: 1, Y: 1}); err != nil {
		t.Fatalf("flag: %v", err)
	}
	archived, err := r.Remove(ctx, "gone")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("archived snapshot missing: %v", err)
	}
	meta, err := archive.ReadMeta(archived)
	if err != nil || meta.GameID != "gone" || meta.Overrides != 1 || meta.Seq != 1 {
		t.Fatalf("meta=%+v err=%v", meta, err)
	}
	if _, err := r.Get("gone"); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("get after remove err=%v", err)
	}
	if _, err := r.Remove(ctx, "gone"); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("second remove err=%v", err)
	}
}

func TestRegistry_RestoreFromLatestSnapshot(t *testing.T) {
	cfg := testConfig(t)
	catalog := openCatalog(t, cfg.Server.DataDir)
	ctx := context.Background()

	first := NewRegistry(Options{Config: cfg, Catalog: catalog, Noise: noMines})
	if _, err := first.Create(ctx, GameSpec{ID: "keep", SeedText: "test-seed"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := first.Create(ctx, GameSpec{ID: "fresh"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := first.Do(ctx, "keep", world.Action{Kind: world.ActionReveal, X: 3, Y: 3}); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := first.Create(ctx, GameSpec{ID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("create after close err=%v", err)
	}
	if err := catalog.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	second := newTestRegistry(t, cfg, catalog)
	n, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("restored %d games", n)
	}
	g, err := second.Get("keep")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g.ActionCount() != 1 {
		t.Fatalf("seq=%d", g.ActionCount())
	}
	if g.Config().Seed != gen.SeedFromString("test-seed") {
		t.Fatalf("seed not restored")
	}
	if !g.Index().Get(3, 3).Revealed || g.Index().Len() != 256 {
		t.Fatalf("overrides not restored: len=%d", g.Index().Len())
	}
	if g.Chunks().PendingCount() != 4*16+4 {
		t.Fatalf("pending=%d", g.Chunks().PendingCount())
	}
}

func TestRegistry_ActivateRacingActionLeavesNoParkedFills(t *testing.T) {
	r := newTestRegistry(t, testConfig(t), nil)
	ctx := context.Background()
	k := interest.Key{CX: 1, CY: 0}

	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("race-%d", i)
		g, err := r.Create(ctx, GameSpec{ID: id, SeedText: "test-seed"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := r.Do(ctx, id, world.Action{Kind: world.ActionReveal, X: 0, Y: 0}); err != nil {
				t.Errorf("do: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			r.Interest().Add(id, "s1", k)
			if _, err := r.Activate(ctx, id, k); err != nil {
				t.Errorf("activate: %v", err)
			}
		}()
		wg.Wait()

		if g.Chunks().HasPendingFills("1_0") {
			t.Fatalf("%s: fills parked for an active chunk", id)
		}
	}
}
