package world

import (
	"errors"
	"fmt"

	"minefield.ai/internal/sim/world/chunks"
)

type ActionKind string

const (
	ActionReveal ActionKind = "REVEAL"
	ActionFlag   ActionKind = "FLAG"
	ActionChord  ActionKind = "CHORD"
)

var supportedActionKinds = []ActionKind{
	ActionReveal,
	ActionFlag,
	ActionChord,
}

func SupportedActionKinds() []ActionKind {
	out := make([]ActionKind, len(supportedActionKinds))
	copy(out, supportedActionKinds)
	return out
}

func (k ActionKind) Valid() bool {
	for _, s := range supportedActionKinds {
		if s == k {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeRevealed  Outcome = "REVEALED"
	OutcomeMineHit   Outcome = "MINE_HIT"
	OutcomeFlagged   Outcome = "FLAGGED"
	OutcomeUnflagged Outcome = "UNFLAGGED"
	OutcomeNoop      Outcome = "NOOP"
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrUnknownAction     = errors.New("unknown action")
)

// Action is one player request against a game.
type Action struct {
	Kind   ActionKind `json:"kind"`
	X      int        `json:"x"`
	Y      int        `json:"y"`
	Player string     `json:"player,omitempty"`
}

// Result is what an action produced. Cells lists every cell whose visible
// state changed. Mine is set only for OutcomeMineHit.
type Result struct {
	Kind    ActionKind    `json:"kind"`
	X       int           `json:"x"`
	Y       int           `json:"y"`
	Outcome Outcome       `json:"outcome"`
	Cells   []chunks.Cell `json:"cells,omitempty"`
	Mine    *chunks.Cell  `json:"mine,omitempty"`
}

func (r Result) MineHit() bool { return r.Outcome == OutcomeMineHit }

func (g *Game) validateCoord(x, y int) error {
	lim := g.cfg.CoordLimit
	if x < -lim || x > lim || y < -lim || y > lim {
		return fmt.Errorf("%w: (%d,%d) outside ±%d", ErrInvalidCoordinate, x, y, lim)
	}
	return nil
}

func (g *Game) inRange(x, y int) bool { return g.validateCoord(x, y) == nil }
