package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"minefield.ai/internal/persistence/snapshot"
)

type GameArchiveMeta struct {
	GameID    string `json:"game_id"`
	Seq       uint64 `json:"seq"`
	Seed      int64  `json:"seed"`
	SeedText  string `json:"seed_text,omitempty"`
	Snapshot  string `json:"snapshot"`
	Overrides int    `json:"overrides"`
	Pending   int    `json:"pending_fills"`
	CreatedAt string `json:"created_at"`
}

// ArchiveGameSnapshot copies the final snapshot of a removed game into
// dataDir/archives/<game>_<seq>/ next to a meta.json describing it.
func ArchiveGameSnapshot(dataDir, snapshotPath string, snap snapshot.GameSnapshotV1) (string, error) {
	if snap.Header.GameID == "" {
		return "", fmt.Errorf("archive: snapshot has no game id")
	}
	dir := filepath.Join(dataDir, "archives", fmt.Sprintf("%s_%06d", snap.Header.GameID, snap.Header.Seq))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := GameArchiveMeta{
		GameID:    snap.Header.GameID,
		Seq:       snap.Header.Seq,
		Seed:      snap.Seed,
		SeedText:  snap.SeedText,
		Snapshot:  filepath.Base(dst),
		Overrides: len(snap.Overrides),
		Pending:   len(snap.PendingFills),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// ReadMeta loads the meta.json stored beside an archived snapshot.
func ReadMeta(archivedPath string) (GameArchiveMeta, error) {
	var m GameArchiveMeta
	b, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
