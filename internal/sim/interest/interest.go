// Package interest tracks which sessions are subscribed to which chunks of
// which game. A chunk with at least one subscriber is active.
package interest

import (
	"sort"
	"sync"

	"github.com/zyedidia/generic/mapset"

	"minefield.ai/internal/sim/world/logic/mathx"
)

type Key struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

// ComputeWantedChunks expands every center by radius (a square of chunks) and
// returns at most maxChunks keys, nearest first by Manhattan distance.
func ComputeWantedChunks(centers []Key, radius int, maxChunks int) []Key {
	if radius < 0 {
		radius = 0
	}
	if maxChunks <= 0 {
		maxChunks = 1024
	}
	type item struct {
		k    Key
		dist int
	}
	distByKey := map[Key]int{}
	for _, c := range centers {
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				k := Key{CX: c.CX + dx, CY: c.CY + dy}
				d := mathx.AbsInt(dx) + mathx.AbsInt(dy)
				if prev, ok := distByKey[k]; !ok || d < prev {
					distByKey[k] = d
				}
			}
		}
	}
	items := make([]item, 0, len(distByKey))
	for k, d := range distByKey {
		items = append(items, item{k: k, dist: d})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		if items[i].k.CX != items[j].k.CX {
			return items[i].k.CX < items[j].k.CX
		}
		return items[i].k.CY < items[j].k.CY
	})
	if len(items) > maxChunks {
		items = items[:maxChunks]
	}
	out := make([]Key, 0, len(items))
	for _, it := range items {
		out = append(out, it.k)
	}
	return out
}

func ClampInt(v, min, max, def int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type gameKey struct {
	game string
	k    Key
}

// Registry is safe for concurrent use. Its HasActiveSubscribers method is
// the activity predicate handed to chunk managers.
type Registry struct {
	mu       sync.RWMutex
	subs     map[gameKey]mapset.Set[string]
	sessions map[string]map[string]mapset.Set[Key] // game -> session -> keys
}

func New() *Registry {
	return &Registry{
		subs:     map[gameKey]mapset.Set[string]{},
		sessions: map[string]map[string]mapset.Set[Key]{},
	}
}

// Add subscribes session to chunk k of game. It reports whether the chunk
// went from inactive to active.
func (r *Registry) Add(game, session string, k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(game, session, k)
}

func (r *Registry) addLocked(game, session string, k Key) bool {
	gk := gameKey{game: game, k: k}
	set, ok := r.subs[gk]
	if !ok {
		set = mapset.New[string]()
		r.subs[gk] = set
	}
	if set.Has(session) {
		return false
	}
	set.Put(session)

	bySession, ok := r.sessions[game]
	if !ok {
		bySession = map[string]mapset.Set[Key]{}
		r.sessions[game] = bySession
	}
	keys, ok := bySession[session]
	if !ok {
		keys = mapset.New[Key]()
		bySession[session] = keys
	}
	keys.Put(k)
	return set.Size() == 1
}

// Remove unsubscribes session from chunk k. It reports whether the chunk
// became inactive.
func (r *Registry) Remove(game, session string, k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(game, session, k)
}

func (r *Registry) removeLocked(game, session string, k Key) bool {
	gk := gameKey{game: game, k: k}
	set, ok := r.subs[gk]
	if !ok || !set.Has(session) {
		return false
	}
	set.Remove(session)
	if bySession := r.sessions[game]; bySession != nil {
		if keys, ok := bySession[session]; ok {
			keys.Remove(k)
			if keys.Size() == 0 {
				delete(bySession, session)
			}
		}
		if len(bySession) == 0 {
			delete(r.sessions, game)
		}
	}
	if set.Size() == 0 {
		delete(r.subs, gk)
		return true
	}
	return false
}

// Replace makes wanted the exact subscription set of session in game and
// returns the keys that became active and inactive as a result.
func (r *Registry) Replace(game, session string, wanted []Key) (activated, deactivated []Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := mapset.New[Key]()
	for _, k := range wanted {
		want.Put(k)
	}
	var drop []Key
	if keys, ok := r.sessions[game][session]; ok {
		keys.Each(func(k Key) {
			if !want.Has(k) {
				drop = append(drop, k)
			}
		})
	}
	for _, k := range drop {
		if r.removeLocked(game, session, k) {
			deactivated = append(deactivated, k)
		}
	}
	for _, k := range wanted {
		if r.addLocked(game, session, k) {
			activated = append(activated, k)
		}
	}
	sortKeys(deactivated)
	return activated, deactivated
}

// RemoveSession drops every subscription of session across all games.
func (r *Registry) RemoveSession(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for game, bySession := range r.sessions {
		keys, ok := bySession[session]
		if !ok {
			continue
		}
		var all []Key
		keys.Each(func(k Key) { all = append(all, k) })
		for _, k := range all {
			r.removeLocked(game, session, k)
		}
	}
}

// RemoveGame forgets every subscription to game.
func (r *Registry) RemoveGame(game string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for gk := range r.subs {
		if gk.game == game {
			delete(r.subs, gk)
		}
	}
	delete(r.sessions, game)
}

func (r *Registry) HasActiveSubscribers(game string, cx, cy int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.subs[gameKey{game: game, k: Key{CX: cx, CY: cy}}]
	return ok && set.Size() > 0
}

// Subscribers returns the sessions watching chunk (cx,cy), sorted.
func (r *Registry) Subscribers(game string, cx, cy int) []string {
	r.mu.RLock()
	set, ok := r.subs[gameKey{game: game, k: Key{CX: cx, CY: cy}}]
	var out []string
	if ok {
		set.Each(func(s string) { out = append(out, s) })
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ActiveChunks counts active chunks of game.
func (r *Registry) ActiveChunks(game string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for gk := range r.subs {
		if gk.game == game {
			n++
		}
	}
	return n
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CY < keys[j].CY
	})
}
