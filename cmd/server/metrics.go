package main

import (
	"fmt"
	"net/http"

	"minefield.ai/internal/persistence/indexdb"
	"minefield.ai/internal/sim/multiworld"
	"minefield.ai/internal/transport/ws"
)

func metricsHandler(reg *multiworld.Registry, wsSrv *ws.Server, catalog *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		stats := reg.Stats()

		fmt.Fprintf(rw, "# HELP minefield_games Running games.\n")
		fmt.Fprintf(rw, "# TYPE minefield_games gauge\n")
		fmt.Fprintf(rw, "minefield_games %d\n", len(stats))

		fmt.Fprintf(rw, "# HELP minefield_sessions Connected websocket sessions.\n")
		fmt.Fprintf(rw, "# TYPE minefield_sessions gauge\n")
		fmt.Fprintf(rw, "minefield_sessions %d\n", wsSrv.SessionCount())

		fmt.Fprintf(rw, "# HELP minefield_ws_dropped_total Messages dropped on full session queues.\n")
		fmt.Fprintf(rw, "# TYPE minefield_ws_dropped_total counter\n")
		fmt.Fprintf(rw, "minefield_ws_dropped_total %d\n", wsSrv.Dropped())

		fmt.Fprintf(rw, "# HELP minefield_game_actions_total Applied actions.\n")
		fmt.Fprintf(rw, "# TYPE minefield_game_actions_total counter\n")
		for _, s := range stats {
			fmt.Fprintf(rw, "minefield_game_actions_total{game=%q} %d\n", s.ID, s.Actions)
		}
		fmt.Fprintf(rw, "# HELP minefield_game_mine_hits_total Reveals that hit a mine.\n")
		fmt.Fprintf(rw, "# TYPE minefield_game_mine_hits_total counter\n")
		for _, s := range stats {
			fmt.Fprintf(rw, "minefield_game_mine_hits_total{game=%q} %d\n", s.ID, s.MineHits)
		}
		fmt.Fprintf(rw, "# HELP minefield_game_loaded_chunks Materialized chunks.\n")
		fmt.Fprintf(rw, "# TYPE minefield_game_loaded_chunks gauge\n")
		for _, s := range stats {
			fmt.Fprintf(rw, "minefield_game_loaded_chunks{game=%q} %d\n", s.ID, s.Chunks)
		}
		fmt.Fprintf(rw, "# HELP minefield_game_active_chunks Chunks with at least one subscriber.\n")
		fmt.Fprintf(rw, "# TYPE minefield_game_active_chunks gauge\n")
		for _, s := range stats {
			fmt.Fprintf(rw, "minefield_game_active_chunks{game=%q} %d\n", s.ID, reg.Interest().ActiveChunks(s.ID))
		}
		fmt.Fprintf(rw, "# HELP minefield_game_pending_fills Fills parked at inactive chunks.\n")
		fmt.Fprintf(rw, "# TYPE minefield_game_pending_fills gauge\n")
		for _, s := range stats {
			fmt.Fprintf(rw, "minefield_game_pending_fills{game=%q} %d\n", s.ID, s.PendingFills)
		}
		fmt.Fprintf(rw, "# HELP minefield_game_overrides Revealed or flagged cells held in memory.\n")
		fmt.Fprintf(rw, "# TYPE minefield_game_overrides gauge\n")
		for _, s := range stats {
			fmt.Fprintf(rw, "minefield_game_overrides{game=%q} %d\n", s.ID, s.Occupancy.Entries)
		}
		fmt.Fprintf(rw, "# HELP minefield_store_write_errors_total Failed override writes.\n")
		fmt.Fprintf(rw, "# TYPE minefield_store_write_errors_total counter\n")
		for _, s := range stats {
			fmt.Fprintf(rw, "minefield_store_write_errors_total{game=%q} %d\n", s.ID, s.Occupancy.WriteErrors)
		}

		if catalog != nil {
			fmt.Fprintf(rw, "# HELP minefield_sqlite_dropped_total Writes dropped on a full sqlite queue.\n")
			fmt.Fprintf(rw, "# TYPE minefield_sqlite_dropped_total counter\n")
			fmt.Fprintf(rw, "minefield_sqlite_dropped_total %d\n", catalog.Dropped())
			fmt.Fprintf(rw, "# HELP minefield_sqlite_failed_total Sqlite writes that failed to commit.\n")
			fmt.Fprintf(rw, "# TYPE minefield_sqlite_failed_total counter\n")
			fmt.Fprintf(rw, "minefield_sqlite_failed_total %d\n", catalog.Failed())
		}
	}
}
