package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"minefield.ai/internal/sim/multiworld"
	"minefield.ai/internal/sim/world"
	"minefield.ai/internal/transport/ws"
)

func newTestMux(t *testing.T) (*http.ServeMux, *multiworld.Registry) {
	t.Helper()
	cfg := multiworld.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Storage.Backend = multiworld.BackendMemory
	reg := multiworld.NewRegistry(multiworld.Options{Config: cfg})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	mux := http.NewServeMux()
	registerAdmin(mux, reg)
	mux.HandleFunc("/metrics", metricsHandler(reg, ws.NewServer(reg, ws.Options{}), nil))
	return mux, reg
}

func do(t *testing.T, mux *http.ServeMux, method, path, body, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAdminGameLifecycle(t *testing.T) {
	mux, reg := newTestMux(t)
	const local = "127.0.0.1:5000"

	rec := do(t, mux, http.MethodPost, "/admin/v1/games", `{"id":"g1","seed_text":"test-seed"}`, local)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(t, mux, http.MethodPost, "/admin/v1/games", `{"id":"g1"}`, local); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d", rec.Code)
	}
	if _, err := reg.Do(context.Background(), "g1", world.Action{Kind: world.ActionFlag, X: 2, Y: 2}); err != nil {
		t.Fatalf("flag: %v", err)
	}

	rec = do(t, mux, http.MethodGet, "/admin/v1/games", "", local)
	var stats []world.GameStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stats) != 1 || stats[0].ID != "g1" || stats[0].Actions != 1 {
		t.Fatalf("stats=%+v", stats)
	}

	rec = do(t, mux, http.MethodPost, "/admin/v1/games/g1/snapshot", "", local)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), ".snap.zst") {
		t.Fatalf("snapshot status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/metrics", "", local)
	if !strings.Contains(rec.Body.String(), `minefield_game_actions_total{game="g1"} 1`) {
		t.Fatalf("metrics missing game counter:\n%s", rec.Body.String())
	}

	if rec := do(t, mux, http.MethodDelete, "/admin/v1/games/g1", "", local); rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(t, mux, http.MethodDelete, "/admin/v1/games/g1", "", local); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rec.Code)
	}
}

func TestAdminRejectsRemoteCallers(t *testing.T) {
	mux, _ := newTestMux(t)
	if rec := do(t, mux, http.MethodGet, "/admin/v1/games", "", "203.0.113.9:4000"); rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}
}
