package world

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"minefield.ai/internal/sim/world/chunks"
	"minefield.ai/internal/sim/world/occupancy"
	"minefield.ai/internal/sim/world/terrain/gen"
)

var ErrNoGameID = errors.New("game id is required")

// Deps are the collaborators a game is wired to. All fields are optional.
type Deps struct {
	// Backend makes the occupancy index durable. Nil keeps it in memory.
	Backend occupancy.Backend
	// Active reports chunk activity; nil treats every chunk as active.
	Active chunks.ActivePredicate
	// Broadcast receives chunks changed by propagation.
	Broadcast chunks.BroadcastFunc
	// Noise replaces the generator noise. Tests only.
	Noise gen.Noise

	Logger       logrus.FieldLogger
	ActionLogger ActionLogger
}

type ActionLogger interface {
	WriteAction(entry ActionLogEntry) error
}

type ActionLogEntry struct {
	Game     string  `json:"game"`
	Seq      uint64  `json:"seq"`
	Player   string  `json:"player,omitempty"`
	Kind     string  `json:"kind"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Outcome  Outcome `json:"outcome"`
	Revealed int     `json:"revealed"`
}

// Game is the state container of one board: generator, occupancy index and
// chunk manager. Mutations are serialized by mu; reads of chunk views only
// take the chunk locks.
type Game struct {
	cfg GameConfig

	gen    *gen.Generator
	index  *occupancy.Index
	chunks *chunks.Manager

	log          logrus.FieldLogger
	actionLogger ActionLogger

	mu       sync.Mutex
	seq      atomic.Uint64
	mineHits atomic.Uint64
}

func NewGame(cfg GameConfig, deps Deps) (*Game, error) {
	if cfg.ID == "" {
		return nil, ErrNoGameID
	}
	cfg.applyDefaults()

	log := deps.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("game", cfg.ID)

	genOpts := []gen.Option{gen.WithThreshold(cfg.MineThreshold), gen.WithFrequency(cfg.NoiseFrequency)}
	if deps.Noise != nil {
		genOpts = append(genOpts, gen.WithNoise(deps.Noise))
	}
	g := gen.New(cfg.Seed, genOpts...)
	ix := occupancy.New(deps.Backend, log)

	mgrOpts := []chunks.Option{
		chunks.WithLogger(log),
		chunks.WithMaxDriveChunks(cfg.MaxDriveChunks),
		chunks.WithCoordLimit(cfg.CoordLimit),
	}
	if deps.Active != nil {
		mgrOpts = append(mgrOpts, chunks.WithActivePredicate(deps.Active))
	}
	if deps.Broadcast != nil {
		mgrOpts = append(mgrOpts, chunks.WithBroadcast(deps.Broadcast))
	}

	return &Game{
		cfg:          cfg,
		gen:          g,
		index:        ix,
		chunks:       chunks.NewManager(cfg.ID, chunks.NewGridSource(g, ix), mgrOpts...),
		log:          log,
		actionLogger: deps.ActionLogger,
	}, nil
}

func (g *Game) ID() string                     { return g.cfg.ID }
func (g *Game) Config() GameConfig             { return g.cfg }
func (g *Game) Generator() *gen.Generator      { return g.gen }
func (g *Game) Index() *occupancy.Index        { return g.index }
func (g *Game) Chunks() *chunks.Manager        { return g.chunks }
func (g *Game) Logger() logrus.FieldLogger     { return g.log }
func (g *Game) ActionCount() uint64            { return g.seq.Load() }
func (g *Game) SetActionLogger(l ActionLogger) { g.actionLogger = l }

// ChunkView is what a subscriber is sent for one chunk: its visible cells.
type ChunkView struct {
	ID    string        `json:"id"`
	CX    int           `json:"cx"`
	CY    int           `json:"cy"`
	State string        `json:"state"`
	Cells []chunks.Cell `json:"cells"`
}

// ChunkView materializes chunk (cx,cy) if needed and returns its visible
// cells. Mines are only exposed once revealed.
func (g *Game) ChunkView(cx, cy int) ChunkView {
	ch := g.chunks.GetChunk(cx, cy)
	return viewOf(ch, ch.VisibleCells())
}

func viewOf(ch *chunks.Chunk, cells []chunks.Cell) ChunkView {
	out := make([]chunks.Cell, len(cells))
	for i, c := range cells {
		if !c.Revealed {
			c.IsMine = false
			c.AdjacentMines = 0
		}
		out[i] = c
	}
	co := ch.Coord()
	return ChunkView{ID: ch.ID(), CX: co.CX, CY: co.CY, State: ch.State().String(), Cells: out}
}

// DeltaView shapes a broadcast delta the same way as a ChunkView.
func DeltaView(ch *chunks.Chunk, delta []chunks.Cell) ChunkView {
	return viewOf(ch, delta)
}
