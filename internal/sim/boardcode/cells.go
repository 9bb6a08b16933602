// Package boardcode packs the visible state of a chunk into a compact
// run-length string, sent alongside the explicit cell list of CHUNK_STATE.
package boardcode

import (
	"fmt"

	"minefield.ai/internal/sim/world/chunks"
)

// Cell codes. A revealed safe cell with n adjacent mines is CodeOpen+n.
const (
	CodeHidden  uint16 = 0
	CodeFlagged uint16 = 1
	CodeMine    uint16 = 2
	CodeOpen    uint16 = 10
)

// Code is the player-visible code of c.
func Code(c chunks.Cell) uint16 {
	switch {
	case c.Revealed && c.IsMine:
		return CodeMine
	case c.Revealed:
		return CodeOpen + uint16(c.AdjacentMines)
	case c.Flagged:
		return CodeFlagged
	default:
		return CodeHidden
	}
}

// PackChunk encodes chunk (cx,cy) in row-major local order. Cells outside
// the chunk are ignored; missing cells are hidden.
func PackChunk(cx, cy int, cells []chunks.Cell) string {
	codes := make([]uint16, chunks.Size*chunks.Size)
	for _, c := range cells {
		ccx, ccy, lx, ly := chunks.GlobalToChunkLocal(c.X, c.Y)
		if ccx != cx || ccy != cy {
			continue
		}
		codes[ly*chunks.Size+lx] = Code(c)
	}
	return EncodeRLE(codes)
}

// UnpackChunk decodes a packed chunk into its Size*Size codes.
func UnpackChunk(packed string) ([]uint16, error) {
	n := chunks.Size * chunks.Size
	codes, err := DecodeRLE(packed, n)
	if err != nil {
		return nil, err
	}
	if len(codes) != n {
		return nil, fmt.Errorf("packed chunk has %d cells, want %d", len(codes), n)
	}
	return codes, nil
}
