package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir, "g1", 100)
	in := GameSnapshotV1{
		Header:         Header{GameID: "g1", Seq: 42, SavedAt: 100},
		Seed:           -7,
		SeedText:       "test-seed",
		MineThreshold:  0.1,
		NoiseFrequency: 1,
		CoordLimit:     1 << 20,
		Overrides: []OverrideV1{
			{X: -1, Y: 2, Revealed: true},
			{X: 5, Y: 5, Flagged: true},
		},
		PendingFills: []PendingFillV1{{Chunk: "1_0", LX: 0, LY: 3, Hint: -1}},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file left behind: %v", err)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header.Version != Version || out.Header.Seq != 42 || out.Seed != -7 || out.SeedText != "test-seed" {
		t.Fatalf("unexpected snapshot: %+v", out)
	}
	if len(out.Overrides) != 2 || !out.Overrides[0].Revealed || !out.Overrides[1].Flagged {
		t.Fatalf("overrides: %+v", out.Overrides)
	}
	if len(out.PendingFills) != 1 || out.PendingFills[0].Chunk != "1_0" || out.PendingFills[0].Hint != -1 {
		t.Fatalf("pending: %+v", out.PendingFills)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.GameID != "g1" || h.Seq != 42 {
		t.Fatalf("header: %+v", h)
	}
}

func TestLatestPicksNewest(t *testing.T) {
	dir := t.TempDir()
	if _, err := Latest(dir, "g"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	for _, ts := range []int64{5, 300, 40} {
		if err := WriteSnapshot(PathFor(dir, "g", ts), GameSnapshotV1{Header: Header{GameID: "g", SavedAt: ts}}); err != nil {
			t.Fatalf("write %d: %v", ts, err)
		}
	}
	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(GameDir(dir, "g"), "snapshots", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Latest(dir, "g")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if p != PathFor(dir, "g", 300) {
		t.Fatalf("latest=%s", p)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.snap.zst")
	if err := os.WriteFile(p, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(p); err == nil {
		t.Fatalf("expected error")
	}
}
