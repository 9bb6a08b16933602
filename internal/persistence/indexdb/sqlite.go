package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"minefield.ai/internal/persistence/snapshot"
	"minefield.ai/internal/sim/world/occupancy"
)

var (
	ErrClosed    = errors.New("indexdb closed")
	ErrQueueFull = errors.New("indexdb write queue full")
)

// WriteWait bounds how long an override or catalog write waits for queue
// space before it fails with ErrQueueFull.
const WriteWait = 10 * time.Second

// SQLiteIndex stores occupancy overrides of every game plus the games catalog
// and snapshot index. Writes are queued to a single writer goroutine that
// batches them into transactions; reads go straight to the database.
type SQLiteIndex struct {
	db  *sql.DB
	log logrus.FieldLogger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against Close.
	mu      sync.RWMutex
	closed    atomic.Bool
	dropped   atomic.Uint64
	failed    atomic.Uint64
	writeWait time.Duration
}

type reqKind int

const (
	reqSaveOverride reqKind = iota + 1
	reqDeleteOverride
	reqGame
	reqGameStatus
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	game     string
	x, y     int
	override occupancy.Override
	gameRow  GameRow
	status   string
	snapshot snapshotRow
	done     chan struct{}
}

// GameRow is one entry of the games catalog.
type GameRow struct {
	ID             string  `json:"id"`
	Seed           int64   `json:"seed"`
	SeedText       string  `json:"seed_text,omitempty"`
	MineThreshold  float64 `json:"mine_threshold"`
	NoiseFrequency float64 `json:"noise_frequency"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

const (
	GameActive  = "active"
	GameRemoved = "removed"
)

type snapshotRow struct {
	Game      string
	Seq       uint64
	SavedAt   int64
	Path      string
	Overrides int
	Pending   int
}

func OpenSQLite(path string, log logrus.FieldLogger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		log = l
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer plus concurrent WAL readers.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:        db,
		log:       log.WithField("component", "indexdb"),
		ch:        make(chan req, 65536),
		writeWait: WriteWait,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS overrides (
			game TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			revealed INTEGER NOT NULL,
			flagged INTEGER NOT NULL,
			PRIMARY KEY (game, y, x)
		);`,
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			seed_text TEXT NOT NULL,
			mine_threshold REAL NOT NULL,
			noise_frequency REAL NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			game TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			path TEXT NOT NULL,
			overrides INTEGER NOT NULL,
			pending INTEGER NOT NULL,
			PRIMARY KEY (game, saved_at)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

// Close drains queued writes, commits them and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts writes refused because the queue was full or closed.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// Failed counts writes the database rejected.
func (s *SQLiteIndex) Failed() uint64 { return s.failed.Load() }

// enqueue drops r when the queue is full. Only snapshot index rows use it:
// they can be rebuilt from the files on disk.
func (s *SQLiteIndex) enqueue(r req) error {
	if s == nil {
		return ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		s.dropped.Add(1)
		return ErrClosed
	}
	select {
	case s.ch <- r:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// enqueueWait waits up to writeWait for queue space. Overrides and catalog
// rows go through it since nothing else holds them durably.
func (s *SQLiteIndex) enqueueWait(r req) error {
	if s == nil {
		return ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		s.dropped.Add(1)
		return ErrClosed
	}
	select {
	case s.ch <- r:
		return nil
	default:
	}
	t := time.NewTimer(s.writeWait)
	defer t.Stop()
	select {
	case s.ch <- r:
		return nil
	case <-t.C:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Flush blocks until every write queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil {
		return ErrClosed
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordGame adds or replaces a catalog entry.
func (s *SQLiteIndex) RecordGame(row GameRow) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if row.CreatedAt == "" {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.Status == "" {
		row.Status = GameActive
	}
	return s.enqueueWait(req{kind: reqGame, gameRow: row})
}

// MarkGameRemoved keeps the catalog row but excludes it from ListGames.
func (s *SQLiteIndex) MarkGameRemoved(id string) error {
	return s.enqueueWait(req{kind: reqGameStatus, game: id, status: GameRemoved})
}

// RecordSnapshot indexes a snapshot file written for a game.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.GameSnapshotV1) {
	_ = s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Game:      snap.Header.GameID,
		Seq:       snap.Header.Seq,
		SavedAt:   snap.Header.SavedAt,
		Path:      path,
		Overrides: len(snap.Overrides),
		Pending:   len(snap.PendingFills),
	}})
}

// ListGames returns catalog rows with the given status ("" for all), by id.
func (s *SQLiteIndex) ListGames(ctx context.Context, status string) ([]GameRow, error) {
	q := `SELECT id,seed,seed_text,mine_threshold,noise_frequency,status,created_at,updated_at FROM games`
	var args []any
	if status != "" {
		q += ` WHERE status=?`
		args = append(args, status)
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GameRow
	for rows.Next() {
		var g GameRow
		if err := rows.Scan(&g.ID, &g.Seed, &g.SeedText, &g.MineThreshold, &g.NoiseFrequency, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LatestSnapshotPath returns the newest indexed snapshot of game, or
// snapshot.ErrNoSnapshot.
func (s *SQLiteIndex) LatestSnapshotPath(ctx context.Context, game string) (string, error) {
	var p string
	err := s.db.QueryRowContext(ctx, `SELECT path FROM snapshots WHERE game=? ORDER BY saved_at DESC LIMIT 1`, game).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", snapshot.ErrNoSnapshot
	}
	return p, err
}

// CountOverrides reports how many overrides are committed for game.
func (s *SQLiteIndex) CountOverrides(ctx context.Context, game string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM overrides WHERE game=?`, game).Scan(&n)
	return n, err
}

// DropOverrides deletes every committed override of game. Queued writes are
// flushed first so none of them lands after the delete.
func (s *SQLiteIndex) DropOverrides(ctx context.Context, game string) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM overrides WHERE game=?`, game)
	return err
}

// Overrides returns the occupancy backend of one game.
func (s *SQLiteIndex) Overrides(game string) *GameOverrides {
	return &GameOverrides{s: s, game: game}
}

// GameOverrides implements occupancy.Backend and occupancy.RangeLoader for
// one game.
type GameOverrides struct {
	s    *SQLiteIndex
	game string
}

func (g *GameOverrides) LoadOverride(x, y int) (occupancy.Override, bool, error) {
	var rev, flag bool
	err := g.s.db.QueryRow(`SELECT revealed,flagged FROM overrides WHERE game=? AND x=? AND y=?`, g.game, x, y).Scan(&rev, &flag)
	if errors.Is(err, sql.ErrNoRows) {
		return occupancy.Override{}, false, nil
	}
	if err != nil {
		return occupancy.Override{}, false, err
	}
	return occupancy.Override{Revealed: rev, Flagged: flag}, true, nil
}

func (g *GameOverrides) LoadRange(minX, minY, maxX, maxY int) ([]occupancy.Entry, error) {
	rows, err := g.s.db.Query(
		`SELECT x,y,revealed,flagged FROM overrides WHERE game=? AND y BETWEEN ? AND ? AND x BETWEEN ? AND ?`,
		g.game, minY, maxY, minX, maxX,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []occupancy.Entry
	for rows.Next() {
		var e occupancy.Entry
		if err := rows.Scan(&e.X, &e.Y, &e.Override.Revealed, &e.Override.Flagged); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *GameOverrides) SaveOverride(x, y int, o occupancy.Override) error {
	return g.s.enqueueWait(req{kind: reqSaveOverride, game: g.game, x: x, y: y, override: o})
}

func (g *GameOverrides) DeleteOverride(x, y int) error {
	return g.s.enqueueWait(req{kind: reqDeleteOverride, game: g.game, x: x, y: y})
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertOverride, _ := s.db.Prepare(`INSERT OR REPLACE INTO overrides(game,x,y,revealed,flagged) VALUES(?,?,?,?,?)`)
	deleteOverride, _ := s.db.Prepare(`DELETE FROM overrides WHERE game=? AND x=? AND y=?`)
	upsertGame, _ := s.db.Prepare(`INSERT INTO games(id,seed,seed_text,mine_threshold,noise_frequency,status,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET seed=excluded.seed,seed_text=excluded.seed_text,mine_threshold=excluded.mine_threshold,
		noise_frequency=excluded.noise_frequency,status=excluded.status,updated_at=excluded.updated_at`)
	updateStatus, _ := s.db.Prepare(`UPDATE games SET status=?,updated_at=? WHERE id=?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(game,saved_at,seq,path,overrides,pending) VALUES(?,?,?,?,?,?)`)
	stmts := []*sql.Stmt{upsertOverride, deleteOverride, upsertGame, updateStatus, insertSnapshot}
	defer func() {
		for _, st := range stmts {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 500 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.WithError(err).Warn("begin tx failed")
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(opCount))
			s.log.WithError(err).Error("commit failed")
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			s.failed.Add(1)
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			s.failed.Add(1)
			s.log.WithError(err).Warn("write failed")
			return
		}
		opCount++
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			if r.kind == reqFlush {
				commit()
				close(r.done)
				continue
			}
			begin()
			if tx == nil {
				s.failed.Add(1)
				continue
			}
			now := time.Now().UTC().Format(time.RFC3339)
			switch r.kind {
			case reqSaveOverride:
				exec(upsertOverride, r.game, r.x, r.y, r.override.Revealed, r.override.Flagged)
			case reqDeleteOverride:
				exec(deleteOverride, r.game, r.x, r.y)
			case reqGame:
				g := r.gameRow
				exec(upsertGame, g.ID, g.Seed, g.SeedText, g.MineThreshold, g.NoiseFrequency, g.Status, g.CreatedAt, g.UpdatedAt)
			case reqGameStatus:
				exec(updateStatus, r.status, now, r.game)
			case reqSnapshot:
				sn := r.snapshot
				exec(insertSnapshot, sn.Game, sn.SavedAt, int64(sn.Seq), sn.Path, sn.Overrides, sn.Pending)
			}
			if opCount >= commitEvery {
				commit()
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
