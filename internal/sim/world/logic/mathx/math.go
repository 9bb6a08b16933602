package mathx

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash2 is a stateless splitmix hash of a lattice point. Coordinates are
// folded to 64 bits directly so negative inputs stay distinct from positive ones.
func Hash2(seed int64, x, y int) uint64 {
	ux := uint64(int64(x))
	uy := uint64(int64(y))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (mix64(uy) * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// UnitFloat maps a hash to [0,1) using its top 53 bits.
func UnitFloat(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}

// SignedUnit maps a hash to [-1,1).
func SignedUnit(h uint64) float64 {
	return UnitFloat(h)*2 - 1
}

func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// SmoothStep is the cubic 3t^2-2t^3 fade for t in [0,1].
func SmoothStep(t float64) float64 {
	return t * t * (3 - 2*t)
}
