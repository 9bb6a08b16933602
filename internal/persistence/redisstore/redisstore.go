// Package redisstore keeps occupancy overrides in redis, one hash per chunk.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"minefield.ai/internal/sim/world/logic/mathx"
	"minefield.ai/internal/sim/world/occupancy"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "minefield".
	Prefix string
	// Timeout bounds each round trip. Defaults to 2s.
	Timeout time.Duration
}

type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newStore(client, opts), nil
}

func newStore(client *redis.Client, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "minefield"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Store{client: client, prefix: prefix, timeout: timeout}
}

func (s *Store) Close() error { return s.client.Close() }

// DropGame deletes every override hash of game.
func (s *Store) DropGame(ctx context.Context, game string) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":"+game+":ovr:*", 512).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) Overrides(game string) *GameOverrides {
	return &GameOverrides{s: s, game: game}
}

// GameOverrides implements occupancy.Backend and occupancy.RangeLoader.
type GameOverrides struct {
	s    *Store
	game string
}

func (g *GameOverrides) chunkKey(cx, cy int) string {
	return g.s.prefix + ":" + g.game + ":ovr:" + strconv.Itoa(cx) + "_" + strconv.Itoa(cy)
}

func (g *GameOverrides) keyFor(x, y int) string {
	return g.chunkKey(mathx.FloorDiv(x, occupancy.ChunkSize), mathx.FloorDiv(y, occupancy.ChunkSize))
}

func (g *GameOverrides) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.s.timeout)
}

func (g *GameOverrides) LoadOverride(x, y int) (occupancy.Override, bool, error) {
	ctx, cancel := g.ctx()
	defer cancel()
	v, err := g.s.client.HGet(ctx, g.keyFor(x, y), field(x, y)).Result()
	if err == redis.Nil {
		return occupancy.Override{}, false, nil
	}
	if err != nil {
		return occupancy.Override{}, false, err
	}
	return decodeOverride(v), true, nil
}

// LoadRange fetches every chunk hash overlapping the rectangle in one pipeline.
func (g *GameOverrides) LoadRange(minX, minY, maxX, maxY int) ([]occupancy.Entry, error) {
	ctx, cancel := g.ctx()
	defer cancel()

	cx0, cy0 := mathx.FloorDiv(minX, occupancy.ChunkSize), mathx.FloorDiv(minY, occupancy.ChunkSize)
	cx1, cy1 := mathx.FloorDiv(maxX, occupancy.ChunkSize), mathx.FloorDiv(maxY, occupancy.ChunkSize)
	pipe := g.s.client.Pipeline()
	var cmds []*redis.StringStringMapCmd
	for cy := cy0; cy <= cy1; cy++ {
		for cx := cx0; cx <= cx1; cx++ {
			cmds = append(cmds, pipe.HGetAll(ctx, g.chunkKey(cx, cy)))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	var out []occupancy.Entry
	for _, c := range cmds {
		m, err := c.Result()
		if err != nil {
			return nil, err
		}
		for f, v := range m {
			x, y, ok := parseField(f)
			if !ok || x < minX || x > maxX || y < minY || y > maxY {
				continue
			}
			out = append(out, occupancy.Entry{X: x, Y: y, Override: decodeOverride(v)})
		}
	}
	return out, nil
}

func (g *GameOverrides) SaveOverride(x, y int, o occupancy.Override) error {
	ctx, cancel := g.ctx()
	defer cancel()
	return g.s.client.HSet(ctx, g.keyFor(x, y), field(x, y), encodeOverride(o)).Err()
}

func (g *GameOverrides) DeleteOverride(x, y int) error {
	ctx, cancel := g.ctx()
	defer cancel()
	return g.s.client.HDel(ctx, g.keyFor(x, y), field(x, y)).Err()
}

func field(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

func parseField(f string) (x, y int, ok bool) {
	a, b, found := strings.Cut(f, ",")
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

func encodeOverride(o occupancy.Override) string {
	var b strings.Builder
	if o.Revealed {
		b.WriteByte('r')
	}
	if o.Flagged {
		b.WriteByte('f')
	}
	return b.String()
}

func decodeOverride(v string) occupancy.Override {
	return occupancy.Override{
		Revealed: strings.ContainsRune(v, 'r'),
		Flagged:  strings.ContainsRune(v, 'f'),
	}
}
