package multiworld

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"minefield.ai/internal/persistence/archive"
	"minefield.ai/internal/persistence/indexdb"
	plog "minefield.ai/internal/persistence/log"
	"minefield.ai/internal/persistence/snapshot"
	"minefield.ai/internal/sim/interest"
	"minefield.ai/internal/sim/world"
	"minefield.ai/internal/sim/world/chunks"
	"minefield.ai/internal/sim/world/terrain/gen"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrGameExists   = errors.New("game already exists")
	ErrClosed       = errors.New("registry closed")
)

// GameSpec describes a game to create. Zero fields take the config defaults;
// an empty ID gets a random one.
type GameSpec struct {
	ID             string  `json:"id,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	SeedText       string  `json:"seed_text,omitempty"`
	MineThreshold  float64 `json:"mine_threshold,omitempty"`
	NoiseFrequency float64 `json:"noise_frequency,omitempty"`
}

// ChunkListener receives the visible delta of every chunk a propagation
// touched. It runs on the game's runtime goroutine and must not block.
type ChunkListener func(gameID string, view world.ChunkView)

type Options struct {
	Config   Config
	Logger   logrus.FieldLogger
	Interest *interest.Registry
	// Storage defaults to in-process memory.
	Storage Storage
	// Catalog is optional. Without it games are not restored on startup.
	Catalog *indexdb.SQLiteIndex
	// Noise replaces generator noise for every game. Tests only.
	Noise gen.Noise
}

type entry struct {
	game    *world.Game
	rt      *world.Runtime
	actions *plog.ActionLogger

	snaps   chan snapshot.GameSnapshotV1
	cancel  context.CancelFunc
	running sync.WaitGroup

	// revealed counts cells revealed by actions since the game was loaded.
	revealed atomic.Uint64
}

// Registry owns every live game of the process and its runtime goroutines.
type Registry struct {
	cfg      Config
	log      logrus.FieldLogger
	interest *interest.Registry
	storage  Storage
	catalog  *indexdb.SQLiteIndex
	noise    gen.Noise

	ctx    context.Context
	cancel context.CancelFunc

	lmu      sync.RWMutex
	listener ChunkListener

	mu     sync.RWMutex
	games  map[string]*entry
	closed bool
}

func NewRegistry(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	in := opts.Interest
	if in == nil {
		in = interest.New()
	}
	st := opts.Storage
	if st == nil {
		st = NewMemoryStorage()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      opts.Config,
		log:      log,
		interest: in,
		storage:  st,
		catalog:  opts.Catalog,
		noise:    opts.Noise,
		ctx:      ctx,
		cancel:   cancel,
		games:    map[string]*entry{},
	}
}

func (r *Registry) Config() Config               { return r.cfg }
func (r *Registry) Interest() *interest.Registry { return r.interest }
func (r *Registry) StorageName() string          { return r.storage.Name() }

// SetChunkListener must be called before the first game starts.
func (r *Registry) SetChunkListener(fn ChunkListener) {
	r.lmu.Lock()
	r.listener = fn
	r.lmu.Unlock()
}

func (r *Registry) chunkListener() ChunkListener {
	r.lmu.RLock()
	defer r.lmu.RUnlock()
	return r.listener
}

// Create starts a new game.
func (r *Registry) Create(ctx context.Context, spec GameSpec) (*world.Game, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	gc := r.cfg.GameConfig(spec)
	e, err := r.start(gc, nil)
	if err != nil {
		return nil, err
	}
	if r.catalog != nil {
		c := e.game.Config()
		err := r.catalog.RecordGame(indexdb.GameRow{
			ID:             c.ID,
			Seed:           c.Seed,
			SeedText:       c.SeedText,
			MineThreshold:  c.MineThreshold,
			NoiseFrequency: c.NoiseFrequency,
		})
		if err != nil {
			r.log.WithError(err).WithField("game", c.ID).Warn("catalog write failed")
		}
	}
	r.log.WithFields(logrus.Fields{"game": gc.ID, "seed": e.game.Config().Seed}).Info("game created")
	return e.game, nil
}

// start builds a game, optionally restores it from snap, and launches its
// runtime. The game is visible to Get only once its runtime runs.
func (r *Registry) start(gc world.GameConfig, snap *snapshot.GameSnapshotV1) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.games[gc.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrGameExists, gc.ID)
	}

	gameID := gc.ID
	deps := world.Deps{
		Backend: r.storage.Backend(gameID),
		Active:  r.interest.HasActiveSubscribers,
		Broadcast: func(ch *chunks.Chunk, delta []chunks.Cell) {
			if fn := r.chunkListener(); fn != nil {
				fn(gameID, world.DeltaView(ch, delta))
			}
		},
		Noise:  r.noise,
		Logger: r.log,
	}
	g, err := world.NewGame(gc, deps)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if err := g.ImportSnapshot(*snap); err != nil {
			return nil, fmt.Errorf("restore %s: %w", gameID, err)
		}
	}

	e := &entry{
		game:    g,
		rt:      world.NewRuntime(g),
		actions: plog.NewActionLogger(snapshot.GameDir(r.cfg.Server.DataDir, gameID)),
		snaps:   make(chan snapshot.GameSnapshotV1, 2),
	}
	g.SetActionLogger(e.actions)
	e.rt.SetSnapshotSink(e.snaps)
	e.rt.SetActionHook(func(act world.Action, res world.Result) {
		switch res.Outcome {
		case world.OutcomeRevealed:
			e.revealed.Add(uint64(len(res.Cells)))
		case world.OutcomeMineHit:
			r.log.WithFields(logrus.Fields{"game": gameID, "x": act.X, "y": act.Y}).Info("mine hit")
		}
	})

	ctx, cancel := context.WithCancel(r.ctx)
	e.cancel = cancel
	e.running.Add(2)
	go func() {
		defer e.running.Done()
		if err := e.rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			g.Logger().WithError(err).Warn("runtime stopped")
		}
	}()
	go func() {
		defer e.running.Done()
		for s := range e.snaps {
			if _, err := r.persistSnapshot(s); err != nil {
				g.Logger().WithError(err).Warn("periodic snapshot failed")
			}
		}
	}()
	r.games[gameID] = e
	return e, nil
}

// Get returns a running game.
func (r *Registry) Get(id string) (*world.Game, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return e.game, nil
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	return e, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.games))
	for id := range r.games {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Do runs one action on a game's runtime, bounded by the action timeout.
func (r *Registry) Do(ctx context.Context, gameID string, act world.Action) (world.Result, error) {
	e, err := r.entry(gameID)
	if err != nil {
		return world.Result{}, err
	}
	ctx, cancel := r.requestCtx(ctx)
	defer cancel()
	return e.rt.Do(ctx, act)
}

// Activate is called when chunk k of a game gains its first subscriber. It
// replays the fills parked for the chunk and returns what they revealed.
func (r *Registry) Activate(ctx context.Context, gameID string, k interest.Key) ([]chunks.Cell, error) {
	e, err := r.entry(gameID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.requestCtx(ctx)
	defer cancel()
	return e.rt.Drain(ctx, chunks.ChunkID(k.CX, k.CY))
}

// Snapshot writes a snapshot of a game now and returns its path.
func (r *Registry) Snapshot(ctx context.Context, gameID string) (string, error) {
	e, err := r.entry(gameID)
	if err != nil {
		return "", err
	}
	ctx, cancel := r.requestCtx(ctx)
	defer cancel()
	s, err := e.rt.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return r.persistSnapshot(s)
}

func (r *Registry) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d := r.cfg.Server.ActionTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (r *Registry) persistSnapshot(s snapshot.GameSnapshotV1) (string, error) {
	if s.Header.SavedAt == 0 {
		s.Header.SavedAt = time.Now().UnixNano()
	}
	path := snapshot.PathFor(r.cfg.Server.DataDir, s.Header.GameID, s.Header.SavedAt)
	if err := snapshot.WriteSnapshot(path, s); err != nil {
		return "", err
	}
	if r.catalog != nil {
		r.catalog.RecordSnapshot(path, s)
	}
	return path, nil
}

// Remove stops a game, writes and archives its final snapshot, and drops its
// overrides from storage. It returns the archived snapshot path.
func (r *Registry) Remove(ctx context.Context, gameID string) (string, error) {
	r.mu.Lock()
	e, ok := r.games[gameID]
	if ok {
		delete(r.games, gameID)
	}
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}

	snap := r.stop(ctx, e)
	r.interest.RemoveGame(gameID)
	path, err := r.persistSnapshot(snap)
	if err != nil {
		return "", fmt.Errorf("final snapshot: %w", err)
	}
	archived, err := archive.ArchiveGameSnapshot(r.cfg.Server.DataDir, path, snap)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if err := r.storage.Drop(ctx, gameID); err != nil {
		r.log.WithError(err).WithField("game", gameID).Warn("drop overrides failed")
	}
	if r.catalog != nil {
		if err := r.catalog.MarkGameRemoved(gameID); err != nil {
			r.log.WithError(err).WithField("game", gameID).Warn("catalog write failed")
		}
	}
	r.log.WithFields(logrus.Fields{"game": gameID, "archive": archived}).Info("game removed")
	return archived, nil
}

// stop takes a final snapshot and shuts the runtime down.
func (r *Registry) stop(ctx context.Context, e *entry) snapshot.GameSnapshotV1 {
	sctx, cancel := r.requestCtx(ctx)
	snap, err := e.rt.Snapshot(sctx)
	cancel()
	e.rt.Stop()
	<-e.rt.Done()
	e.cancel()
	close(e.snaps)
	e.running.Wait()
	if cerr := e.actions.Close(); cerr != nil {
		e.game.Logger().WithError(cerr).Warn("action log close failed")
	}
	if err != nil {
		// The runtime is stopped now, so the export cannot race an action.
		snap = e.game.ExportSnapshot()
	}
	return snap
}

// Restore restarts every active game in the catalog from its latest snapshot.
// Games without a snapshot start from an empty board.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.catalog == nil {
		return 0, nil
	}
	rows, err := r.catalog.ListGames(ctx, indexdb.GameActive)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		if err := r.restoreOne(ctx, row); err != nil {
			r.log.WithError(err).WithField("game", row.ID).Warn("restore failed")
			continue
		}
		n++
	}
	return n, nil
}

func (r *Registry) restoreOne(ctx context.Context, row indexdb.GameRow) error {
	path, err := r.catalog.LatestSnapshotPath(ctx, row.ID)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		path, err = snapshot.Latest(r.cfg.Server.DataDir, row.ID)
	}
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		gc := r.cfg.GameConfig(GameSpec{
			ID:             row.ID,
			Seed:           row.Seed,
			SeedText:       row.SeedText,
			MineThreshold:  row.MineThreshold,
			NoiseFrequency: row.NoiseFrequency,
		})
		_, err := r.start(gc, nil)
		return err
	}
	if err != nil {
		return err
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	gc := world.ConfigFromSnapshot(snap)
	gc.MaxDriveChunks = r.cfg.Game.MaxDriveChunks
	gc.InboxSize = r.cfg.Game.InboxSize
	gc.SnapshotEveryActions = r.cfg.Game.SnapshotEveryActions
	if _, err := r.start(gc, &snap); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"game": row.ID, "seq": snap.Header.Seq, "path": path}).Info("game restored")
	return nil
}

// Close snapshots and stops every game. Storage and catalog stay open.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := make([]*entry, 0, len(r.games))
	for _, e := range r.games {
		entries = append(entries, e)
	}
	r.games = map[string]*entry{}
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if _, err := r.persistSnapshot(r.stop(ctx, e)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("game %s: %w", e.game.ID(), err)
		}
	}
	r.cancel()
	return firstErr
}

// Stats reports every running game, by id.
func (r *Registry) Stats() []world.GameStats {
	r.mu.RLock()
	out := make([]world.GameStats, 0, len(r.games))
	for _, e := range r.games {
		st := e.game.Stats()
		st.Revealed = e.revealed.Load()
		out = append(out, st)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
