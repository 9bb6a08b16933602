package interest

import (
	"reflect"
	"testing"
)

func TestComputeWantedChunks(t *testing.T) {
	out := ComputeWantedChunks([]Key{{CX: 0, CY: 0}}, 1, 4)
	if len(out) != 4 {
		t.Fatalf("expected clipped 4 chunks, got %d", len(out))
	}
	if out[0] != (Key{CX: 0, CY: 0}) {
		t.Fatalf("closest chunk should be center, got %+v", out[0])
	}
	if got := len(ComputeWantedChunks([]Key{{CX: 0, CY: 0}, {CX: 1, CY: 0}}, 1, 0)); got != 12 {
		t.Fatalf("expected 12 chunks for two overlapping squares, got %d", got)
	}
	if got := ComputeWantedChunks([]Key{{CX: -3, CY: 2}}, 0, 10); !reflect.DeepEqual(got, []Key{{CX: -3, CY: 2}}) {
		t.Fatalf("radius 0: %+v", got)
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(0, 1, 5, 3); got != 3 {
		t.Fatalf("ClampInt default failed: %d", got)
	}
	if got := ClampInt(9, 1, 5, 3); got != 5 {
		t.Fatalf("ClampInt max failed: %d", got)
	}
}

func TestRegistryActivation(t *testing.T) {
	r := New()
	k := Key{CX: 1, CY: -1}
	if r.HasActiveSubscribers("g", 1, -1) {
		t.Fatalf("fresh registry reports active")
	}
	if !r.Add("g", "s1", k) {
		t.Fatalf("first subscriber should activate")
	}
	if r.Add("g", "s2", k) {
		t.Fatalf("second subscriber should not re-activate")
	}
	if r.Add("g", "s1", k) {
		t.Fatalf("duplicate add should be a no-op")
	}
	if !r.HasActiveSubscribers("g", 1, -1) || r.HasActiveSubscribers("other", 1, -1) {
		t.Fatalf("activity must be per game")
	}
	if got := r.Subscribers("g", 1, -1); !reflect.DeepEqual(got, []string{"s1", "s2"}) {
		t.Fatalf("subscribers=%v", got)
	}
	if r.Remove("g", "s1", k) {
		t.Fatalf("chunk still has s2")
	}
	if !r.Remove("g", "s2", k) {
		t.Fatalf("last unsubscribe should deactivate")
	}
	if r.HasActiveSubscribers("g", 1, -1) {
		t.Fatalf("chunk should be inactive")
	}
}

func TestRegistryReplace(t *testing.T) {
	r := New()
	on, off := r.Replace("g", "s", []Key{{0, 0}, {1, 0}})
	if len(on) != 2 || len(off) != 0 {
		t.Fatalf("first replace on=%v off=%v", on, off)
	}
	r.Add("g", "other", Key{CX: 1, CY: 0})

	on, off = r.Replace("g", "s", []Key{{1, 0}, {2, 0}})
	if !reflect.DeepEqual(on, []Key{{2, 0}}) || !reflect.DeepEqual(off, []Key{{0, 0}}) {
		t.Fatalf("second replace on=%v off=%v", on, off)
	}
	if r.ActiveChunks("g") != 2 {
		t.Fatalf("active=%d", r.ActiveChunks("g"))
	}

	r.RemoveSession("s")
	if r.HasActiveSubscribers("g", 2, 0) || !r.HasActiveSubscribers("g", 1, 0) {
		t.Fatalf("RemoveSession left wrong state")
	}
	r.RemoveGame("g")
	if r.ActiveChunks("g") != 0 {
		t.Fatalf("RemoveGame left chunks")
	}
}
