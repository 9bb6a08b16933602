package world

import (
	"context"
	"errors"
	"sync"

	"minefield.ai/internal/persistence/snapshot"
	"minefield.ai/internal/sim/world/chunks"
)

var ErrStopped = errors.New("game runtime stopped")

type actionReq struct {
	act  Action
	resp chan actionResp
}

type actionResp struct {
	res Result
	err error
}

type drainReq struct {
	chunk string
	resp  chan []chunks.Cell
}

type snapshotReq struct {
	resp chan snapshot.GameSnapshotV1
}

// Runtime is the single writer of one game. Every mutation goes through its
// loop so that a flood fill and the pending-fill queue update it causes are
// never interleaved with another action on the same game.
type Runtime struct {
	game *Game

	inbox  chan actionReq
	drains chan drainReq
	snaps  chan snapshotReq

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Optional (may be nil).
	snapshotSink chan<- snapshot.GameSnapshotV1
	actionHook   func(Action, Result)
}

func NewRuntime(g *Game) *Runtime {
	return &Runtime{
		game:   g,
		inbox:  make(chan actionReq, g.cfg.InboxSize),
		drains: make(chan drainReq, 64),
		snaps:  make(chan snapshotReq),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *Runtime) Game() *Game { return r.game }

// SetSnapshotSink receives a snapshot every SnapshotEveryActions actions.
// Must be called before Run.
func (r *Runtime) SetSnapshotSink(ch chan<- snapshot.GameSnapshotV1) { r.snapshotSink = ch }

// SetActionHook is called from the loop after every applied action, before
// its caller gets the result.
// Must be called before Run.
func (r *Runtime) SetActionHook(fn func(Action, Result)) { r.actionHook = fn }

func (r *Runtime) Run(ctx context.Context) error {
	defer close(r.done)
	every := r.game.cfg.SnapshotEveryActions
	since := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.inbox:
			res, err := r.game.Apply(req.act)
			if err == nil && r.actionHook != nil {
				r.actionHook(req.act, res)
			}
			req.resp <- actionResp{res: res, err: err}
			if err != nil {
				continue
			}
			since++
			if every > 0 && since >= every {
				since = 0
				r.emitSnapshot()
			}
		case req := <-r.drains:
			req.resp <- r.game.DrainPendingFills(req.chunk)
		case req := <-r.snaps:
			req.resp <- r.game.ExportSnapshot()
		}
	}
}

func (r *Runtime) emitSnapshot() {
	if r.snapshotSink == nil {
		return
	}
	select {
	case r.snapshotSink <- r.game.ExportSnapshot():
	default:
		r.game.log.Warn("snapshot sink full; skipping periodic snapshot")
	}
}

// Stop ends Run. Safe to call more than once.
func (r *Runtime) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Done is closed when Run returns.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Do submits an action and waits for its result.
func (r *Runtime) Do(ctx context.Context, act Action) (Result, error) {
	req := actionReq{act: act, resp: make(chan actionResp, 1)}
	select {
	case r.inbox <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-r.done:
		return Result{}, ErrStopped
	}
	select {
	case resp := <-req.resp:
		return resp.res, resp.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-r.done:
		return Result{}, ErrStopped
	}
}

// Drain replays the fills parked for chunk id on the loop goroutine.
func (r *Runtime) Drain(ctx context.Context, chunkID string) ([]chunks.Cell, error) {
	req := drainReq{chunk: chunkID, resp: make(chan []chunks.Cell, 1)}
	select {
	case r.drains <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrStopped
	}
	select {
	case cells := <-req.resp:
		return cells, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrStopped
	}
}

// Snapshot exports the game state between two actions.
func (r *Runtime) Snapshot(ctx context.Context) (snapshot.GameSnapshotV1, error) {
	req := snapshotReq{resp: make(chan snapshot.GameSnapshotV1, 1)}
	select {
	case r.snaps <- req:
	case <-ctx.Done():
		return snapshot.GameSnapshotV1{}, ctx.Err()
	case <-r.done:
		return snapshot.GameSnapshotV1{}, ErrStopped
	}
	select {
	case s := <-req.resp:
		return s, nil
	case <-ctx.Done():
		return snapshot.GameSnapshotV1{}, ctx.Err()
	case <-r.done:
		return snapshot.GameSnapshotV1{}, ErrStopped
	}
}
