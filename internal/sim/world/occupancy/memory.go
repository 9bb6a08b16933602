package occupancy

import "sync"

// MemoryBackend is a map-backed Backend, mainly for tests and ephemeral games.
type MemoryBackend struct {
	mu    sync.Mutex
	cells map[Pos]Override
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{cells: map[Pos]Override{}}
}

func (m *MemoryBackend) LoadOverride(x, y int) (Override, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.cells[Pos{X: x, Y: y}]
	return o, ok, nil
}

func (m *MemoryBackend) SaveOverride(x, y int, o Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells[Pos{X: x, Y: y}] = o
	return nil
}

func (m *MemoryBackend) DeleteOverride(x, y int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cells, Pos{X: x, Y: y})
	return nil
}

// Seed copies entries into an empty backend.
func (m *MemoryBackend) Seed(entries []Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cells) > 0 {
		return false
	}
	for _, e := range entries {
		if !e.Override.IsZero() {
			m.cells[Pos{X: e.X, Y: e.Y}] = e.Override
		}
	}
	return true
}

func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cells)
}
