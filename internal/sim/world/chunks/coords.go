package chunks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"minefield.ai/internal/sim/world/logic/mathx"
)

// Size is the chunk edge length. It is part of the subscription contract
// with clients, so changing it invalidates every persisted chunk id.
const Size = 16

var ErrBadChunkID = errors.New("bad chunk id")

type Coord struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

func (c Coord) ID() string { return ChunkID(c.CX, c.CY) }

type Local struct {
	X int
	Y int
}

// ChunkID is the canonical "{cx}_{cy}" key.
func ChunkID(cx, cy int) string {
	return strconv.Itoa(cx) + "_" + strconv.Itoa(cy)
}

func ParseChunkID(id string) (cx, cy int, err error) {
	a, b, ok := strings.Cut(id, "_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadChunkID, id)
	}
	cx, err = strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadChunkID, id)
	}
	cy, err = strconv.Atoi(b)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadChunkID, id)
	}
	return cx, cy, nil
}

func GlobalToChunk(gx, gy int) (cx, cy int) {
	return mathx.FloorDiv(gx, Size), mathx.FloorDiv(gy, Size)
}

// GlobalToChunkLocal splits a global coordinate into its chunk and the
// non-negative offset inside that chunk.
func GlobalToChunkLocal(gx, gy int) (cx, cy, lx, ly int) {
	cx, cy = GlobalToChunk(gx, gy)
	return cx, cy, mathx.Mod(gx, Size), mathx.Mod(gy, Size)
}

func ChunkLocalToGlobal(cx, cy, lx, ly int) (gx, gy int) {
	return cx*Size + lx, cy*Size + ly
}

func InBounds(lx, ly int) bool {
	return lx >= 0 && lx < Size && ly >= 0 && ly < Size
}

func index(lx, ly int) int {
	return lx + ly*Size
}
