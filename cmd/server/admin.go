package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"minefield.ai/internal/sim/multiworld"
)

// registerAdmin mounts loopback-only management endpoints.
func registerAdmin(mux *http.ServeMux, reg *multiworld.Registry) {
	mux.HandleFunc("GET /admin/v1/games", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, reg.Stats())
	}))
	mux.HandleFunc("POST /admin/v1/games", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		var spec multiworld.GameSpec
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
				writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
		}
		g, err := reg.Create(r.Context(), spec)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, g.Stats())
	}))
	mux.HandleFunc("POST /admin/v1/games/{id}/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		path, err := reg.Snapshot(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"path": path})
	}))
	mux.HandleFunc("DELETE /admin/v1/games/{id}", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		archived, err := reg.Remove(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"archive": archived})
	}))
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, multiworld.ErrGameNotFound):
		status = http.StatusNotFound
	case errors.Is(err, multiworld.ErrGameExists):
		status = http.StatusConflict
	}
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
