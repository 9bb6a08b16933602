package mathx

import "testing"

func TestFloorDivAndModNegative(t *testing.T) {
	cases := []struct {
		a, b     int
		div, mod int
	}{
		{0, 16, 0, 0},
		{15, 16, 0, 15},
		{16, 16, 1, 0},
		{-1, 16, -1, 15},
		{-16, 16, -1, 0},
		{-17, 16, -2, 15},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.div {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.div)
		}
		if got := Mod(c.a, c.b); got != c.mod {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, got, c.mod)
		}
	}
}

func TestHash2Deterministic(t *testing.T) {
	if Hash2(7, -3, 4) != Hash2(7, -3, 4) {
		t.Fatalf("hash must be stable")
	}
	if Hash2(7, -3, 4) == Hash2(7, 3, 4) {
		t.Fatalf("negative and positive x should hash differently")
	}
	if Hash2(7, 1, 2) == Hash2(7, 2, 1) {
		t.Fatalf("hash should not be symmetric in x,y")
	}
	if Hash2(7, 1, 2) == Hash2(8, 1, 2) {
		t.Fatalf("seed should affect hash")
	}
}

func TestUnitRanges(t *testing.T) {
	for i := 0; i < 1000; i++ {
		h := Hash2(1, i, -i)
		u := UnitFloat(h)
		if u < 0 || u >= 1 {
			t.Fatalf("UnitFloat out of range: %v", u)
		}
		s := SignedUnit(h)
		if s < -1 || s >= 1 {
			t.Fatalf("SignedUnit out of range: %v", s)
		}
	}
	if SmoothStep(0) != 0 || SmoothStep(1) != 1 || SmoothStep(0.5) != 0.5 {
		t.Fatalf("SmoothStep endpoints wrong")
	}
}
