// Package leveldbstore keeps occupancy overrides in an embedded leveldb.
// Keys are grouped by chunk so a chunk hydrates with one prefix scan.
package leveldbstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"

	"minefield.ai/internal/sim/world/logic/mathx"
	"minefield.ai/internal/sim/world/occupancy"
)

type Store struct {
	db *leveldb.DB
}

func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.SnappyCompression,
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DropGame deletes every override of game.
func (s *Store) DropGame(game string) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte("ovr/"+game+"/")), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *Store) Overrides(game string) *GameOverrides {
	return &GameOverrides{s: s, game: game}
}

// GameOverrides implements occupancy.Backend and occupancy.RangeLoader.
type GameOverrides struct {
	s    *Store
	game string
}

func (g *GameOverrides) chunkPrefix(cx, cy int) string {
	return "ovr/" + g.game + "/" + strconv.Itoa(cx) + "_" + strconv.Itoa(cy) + "/"
}

func (g *GameOverrides) key(x, y int) []byte {
	cx, cy := mathx.FloorDiv(x, occupancy.ChunkSize), mathx.FloorDiv(y, occupancy.ChunkSize)
	return []byte(g.chunkPrefix(cx, cy) + strconv.Itoa(x) + "," + strconv.Itoa(y))
}

func (g *GameOverrides) LoadOverride(x, y int) (occupancy.Override, bool, error) {
	v, err := g.s.db.Get(g.key(x, y), nil)
	switch {
	case err == nil:
		return decode(v), true, nil
	case errors.Is(err, leveldb.ErrNotFound):
		return occupancy.Override{}, false, nil
	default:
		return occupancy.Override{}, false, err
	}
}

func (g *GameOverrides) LoadRange(minX, minY, maxX, maxY int) ([]occupancy.Entry, error) {
	cx0, cy0 := mathx.FloorDiv(minX, occupancy.ChunkSize), mathx.FloorDiv(minY, occupancy.ChunkSize)
	cx1, cy1 := mathx.FloorDiv(maxX, occupancy.ChunkSize), mathx.FloorDiv(maxY, occupancy.ChunkSize)
	var out []occupancy.Entry
	for cy := cy0; cy <= cy1; cy++ {
		for cx := cx0; cx <= cx1; cx++ {
			prefix := g.chunkPrefix(cx, cy)
			iter := g.s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
			for iter.Next() {
				x, y, ok := parseCoord(strings.TrimPrefix(string(iter.Key()), prefix))
				if !ok || x < minX || x > maxX || y < minY || y > maxY {
					continue
				}
				out = append(out, occupancy.Entry{X: x, Y: y, Override: decode(iter.Value())})
			}
			iter.Release()
			if err := iter.Error(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (g *GameOverrides) SaveOverride(x, y int, o occupancy.Override) error {
	return g.s.db.Put(g.key(x, y), encode(o), nil)
}

func (g *GameOverrides) DeleteOverride(x, y int) error {
	return g.s.db.Delete(g.key(x, y), nil)
}

func parseCoord(s string) (x, y int, ok bool) {
	a, b, found := strings.Cut(s, ",")
	if !found {
		return 0, 0, false
	}
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	y, err = strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

const (
	bitRevealed byte = 1 << iota
	bitFlagged
)

func encode(o occupancy.Override) []byte {
	var b byte
	if o.Revealed {
		b |= bitRevealed
	}
	if o.Flagged {
		b |= bitFlagged
	}
	return []byte{b}
}

func decode(v []byte) occupancy.Override {
	if len(v) == 0 {
		return occupancy.Override{}
	}
	return occupancy.Override{Revealed: v[0]&bitRevealed != 0, Flagged: v[0]&bitFlagged != 0}
}
