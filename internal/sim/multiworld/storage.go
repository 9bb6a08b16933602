package multiworld

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"minefield.ai/internal/persistence/indexdb"
	"minefield.ai/internal/persistence/leveldbstore"
	"minefield.ai/internal/persistence/redisstore"
	"minefield.ai/internal/sim/world/occupancy"
)

// Storage hands out the occupancy backend of each game.
type Storage interface {
	Name() string
	Backend(game string) occupancy.Backend
	Drop(ctx context.Context, game string) error
	Close() error
}

// OpenStorage opens the sqlite catalog and the configured override backend.
// With the sqlite backend both share one database.
func OpenStorage(ctx context.Context, cfg Config, log logrus.FieldLogger) (Storage, *indexdb.SQLiteIndex, error) {
	catalog, err := indexdb.OpenSQLite(resolve(cfg.Server.DataDir, cfg.Storage.SQLitePath), log)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	var st Storage
	switch cfg.Storage.Backend {
	case BackendMemory:
		st = NewMemoryStorage()
	case BackendSQLite:
		st = sqliteStorage{ix: catalog}
	case BackendLevelDB:
		s, err := leveldbstore.Open(resolve(cfg.Server.DataDir, cfg.Storage.LevelDBDir))
		if err != nil {
			_ = catalog.Close()
			return nil, nil, fmt.Errorf("open leveldb: %w", err)
		}
		st = leveldbStorage{s: s}
	case BackendRedis:
		rc := cfg.Storage.Redis
		s, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
			Timeout:  rc.Timeout,
		})
		if err != nil {
			_ = catalog.Close()
			return nil, nil, fmt.Errorf("open redis: %w", err)
		}
		st = redisStorage{s: s}
	default:
		_ = catalog.Close()
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	return st, catalog, nil
}

func resolve(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

// MemoryStorage keeps one in-process backend per game.
type MemoryStorage struct {
	mu    sync.Mutex
	games map[string]*occupancy.MemoryBackend
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{games: map[string]*occupancy.MemoryBackend{}}
}

func (m *MemoryStorage) Name() string { return BackendMemory }
func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Backend(game string) occupancy.Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.games[game]
	if !ok {
		b = occupancy.NewMemoryBackend()
		m.games[game] = b
	}
	return b
}

func (m *MemoryStorage) Drop(_ context.Context, game string) error {
	m.mu.Lock()
	delete(m.games, game)
	m.mu.Unlock()
	return nil
}

type sqliteStorage struct{ ix *indexdb.SQLiteIndex }

func (s sqliteStorage) Name() string                                { return BackendSQLite }
func (s sqliteStorage) Backend(game string) occupancy.Backend       { return s.ix.Overrides(game) }
func (s sqliteStorage) Drop(ctx context.Context, game string) error { return s.ix.DropOverrides(ctx, game) }

// Close is a no-op: the database is the catalog and is closed by its owner.
func (s sqliteStorage) Close() error { return nil }

type leveldbStorage struct{ s *leveldbstore.Store }

func (l leveldbStorage) Name() string                              { return BackendLevelDB }
func (l leveldbStorage) Backend(game string) occupancy.Backend     { return l.s.Overrides(game) }
func (l leveldbStorage) Drop(_ context.Context, game string) error { return l.s.DropGame(game) }
func (l leveldbStorage) Close() error                              { return l.s.Close() }

type redisStorage struct{ s *redisstore.Store }

func (r redisStorage) Name() string                                { return BackendRedis }
func (r redisStorage) Backend(game string) occupancy.Backend       { return r.s.Overrides(game) }
func (r redisStorage) Drop(ctx context.Context, game string) error { return r.s.DropGame(ctx, game) }
func (r redisStorage) Close() error                                { return r.s.Close() }
