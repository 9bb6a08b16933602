package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

var ErrNoSnapshot = errors.New("no snapshot")

type Header struct {
	Version int    `json:"version"`
	GameID  string `json:"game_id"`
	Seq     uint64 `json:"seq"`
	SavedAt int64  `json:"saved_at"`
}

// GameSnapshotV1 is everything needed to resume a game: the generator
// parameters, the occupancy overrides and the parked cross-chunk fills.
type GameSnapshotV1 struct {
	Header Header `json:"header"`

	Seed           int64   `json:"seed"`
	SeedText       string  `json:"seed_text,omitempty"`
	MineThreshold  float64 `json:"mine_threshold"`
	NoiseFrequency float64 `json:"noise_frequency"`
	CoordLimit     int     `json:"coord_limit"`

	Overrides    []OverrideV1    `json:"overrides"`
	PendingFills []PendingFillV1 `json:"pending_fills"`
}

type OverrideV1 struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Revealed bool `json:"revealed,omitempty"`
	Flagged  bool `json:"flagged,omitempty"`
}

type PendingFillV1 struct {
	Chunk string `json:"chunk"`
	LX    int    `json:"lx"`
	LY    int    `json:"ly"`
	Hint  int    `json:"hint"`
}

// WriteSnapshot writes the header as a JSON line followed by the gob body,
// all inside a zstd stream. The file is replaced atomically.
func WriteSnapshot(path string, snap GameSnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap GameSnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (GameSnapshotV1, error) {
	var snap GameSnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

const fileSuffix = ".snap.zst"

// GameDir is the per-game directory under the data root.
func GameDir(dataDir, gameID string) string {
	return filepath.Join(dataDir, "games", gameID)
}

// PathFor names the snapshot written at unixNano.
func PathFor(dataDir, gameID string, unixNano int64) string {
	return filepath.Join(GameDir(dataDir, gameID), "snapshots", strconv.FormatInt(unixNano, 10)+fileSuffix)
}

// Latest returns the newest snapshot path of a game, or ErrNoSnapshot.
func Latest(dataDir, gameID string) (string, error) {
	dir := filepath.Join(GameDir(dataDir, gameID), "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoSnapshot
		}
		return "", err
	}
	type cand struct {
		ts   int64
		name string
	}
	var cands []cand
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(e.Name(), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{ts: ts, name: e.Name()})
	}
	if len(cands) == 0 {
		return "", ErrNoSnapshot
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].ts < cands[j].ts })
	return filepath.Join(dir, cands[len(cands)-1].name), nil
}
