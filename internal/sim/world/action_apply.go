package world

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"minefield.ai/internal/sim/world/chunks"
)

// Apply validates and executes one action, then records it.
func (g *Game) Apply(a Action) (Result, error) {
	var (
		res Result
		err error
	)
	switch a.Kind {
	case ActionReveal:
		res, err = g.Reveal(a.X, a.Y)
	case ActionFlag:
		res, err = g.ToggleFlag(a.X, a.Y)
	case ActionChord:
		res, err = g.Chord(a.X, a.Y)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	if err != nil {
		return Result{}, err
	}
	g.record(a, res)
	return res, nil
}

func (g *Game) record(a Action, res Result) {
	seq := g.seq.Add(1)
	if res.MineHit() {
		g.mineHits.Add(1)
		g.log.WithFields(logrus.Fields{"player": a.Player, "x": res.Mine.X, "y": res.Mine.Y}).Info("mine hit")
	}
	if g.actionLogger == nil {
		return
	}
	err := g.actionLogger.WriteAction(ActionLogEntry{
		Game:     g.cfg.ID,
		Seq:      seq,
		Player:   a.Player,
		Kind:     string(a.Kind),
		X:        a.X,
		Y:        a.Y,
		Outcome:  res.Outcome,
		Revealed: len(res.Cells),
	})
	if err != nil {
		g.log.WithError(err).Warn("action log write failed")
	}
}

// Reveal opens (x,y). A mine reports OutcomeMineHit and reveals only itself;
// anything else flood-fills through active chunks.
func (g *Game) Reveal(x, y int) (Result, error) {
	if err := g.validateCoord(x, y); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revealLocked(x, y), nil
}

func (g *Game) revealLocked(x, y int) Result {
	res := Result{Kind: ActionReveal, X: x, Y: y, Outcome: OutcomeNoop}
	cell := g.chunks.Cell(x, y)
	if cell.Revealed || cell.Flagged {
		return res
	}
	if cell.IsMine {
		mine, _ := g.chunks.RevealSingle(x, y)
		res.Outcome = OutcomeMineHit
		res.Mine = &mine
		res.Cells = []chunks.Cell{mine}
		return res
	}
	res.Cells = g.chunks.RevealAndPropagate(x, y, chunks.Hint(cell.AdjacentMines))
	if len(res.Cells) > 0 {
		res.Outcome = OutcomeRevealed
	}
	return res
}

// ToggleFlag flips the flag on an unrevealed cell. Revealed cells are a no-op.
func (g *Game) ToggleFlag(x, y int) (Result, error) {
	if err := g.validateCoord(x, y); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	res := Result{Kind: ActionFlag, X: x, Y: y, Outcome: OutcomeNoop}
	cur := g.chunks.Cell(x, y)
	if cur.Revealed {
		return res, nil
	}
	cell, ok := g.chunks.SetFlagged(x, y, !cur.Flagged)
	if !ok {
		return res, nil
	}
	if cell.Flagged {
		res.Outcome = OutcomeFlagged
	} else {
		res.Outcome = OutcomeUnflagged
	}
	cell.IsMine = false
	cell.AdjacentMines = 0
	res.Cells = []chunks.Cell{cell}
	return res, nil
}

// Chord reveals the unflagged neighbours of a revealed numbered cell once its
// flag count matches its number. The first mine uncovered ends the chord.
func (g *Game) Chord(x, y int) (Result, error) {
	if err := g.validateCoord(x, y); err != nil {
		return Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	res := Result{Kind: ActionChord, X: x, Y: y, Outcome: OutcomeNoop}
	center := g.chunks.Cell(x, y)
	if !center.Revealed || center.IsMine || center.AdjacentMines == 0 {
		return res, nil
	}

	flags := 0
	g.eachNeighbour(x, y, func(nx, ny int) bool {
		if g.chunks.Cell(nx, ny).Flagged {
			flags++
		}
		return true
	})
	if flags != center.AdjacentMines {
		return res, nil
	}

	g.eachNeighbour(x, y, func(nx, ny int) bool {
		r := g.revealLocked(nx, ny)
		res.Cells = append(res.Cells, r.Cells...)
		if r.MineHit() {
			res.Outcome = OutcomeMineHit
			res.Mine = r.Mine
			return false
		}
		return true
	})
	if res.Outcome == OutcomeNoop && len(res.Cells) > 0 {
		res.Outcome = OutcomeRevealed
	}
	return res, nil
}

// eachNeighbour visits the in-range 8-neighbours of (x,y) in row-major order
// until fn returns false.
func (g *Game) eachNeighbour(x, y int, fn func(nx, ny int) bool) {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if !g.inRange(x+dx, y+dy) {
				continue
			}
			if !fn(x+dx, y+dy) {
				return
			}
		}
	}
}

// DrainPendingFills replays the fills parked for chunk id. Called when the
// chunk becomes active.
func (g *Game) DrainPendingFills(id string) []chunks.Cell {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.chunks.HasPendingFills(id) {
		return nil
	}
	return g.chunks.ProcessPendingFillsForChunk(id)
}
