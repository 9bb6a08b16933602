package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"minefield.ai/internal/persistence/archive"
	"minefield.ai/internal/persistence/indexdb"
	plog "minefield.ai/internal/persistence/log"
	"minefield.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "catalog":
			catalogCmd(os.Args[2:])
			return
		case "actions":
			actionsCmd(os.Args[2:])
			return
		case "archive":
			archiveCmd(os.Args[2:])
			return
		case "games":
			gamesCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "remove":
			removeCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "games"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

type snapshotSummary struct {
	Path           string         `json:"path"`
	GameID         string         `json:"game_id"`
	Seq            uint64         `json:"seq"`
	SavedAt        string         `json:"saved_at"`
	Seed           int64          `json:"seed"`
	SeedText       string         `json:"seed_text,omitempty"`
	MineThreshold  float64        `json:"mine_threshold"`
	Revealed       int            `json:"revealed"`
	Flagged        int            `json:"flagged"`
	PendingFills   int            `json:"pending_fills"`
	PendingByChunk map[string]int `json:"pending_by_chunk,omitempty"`
}

func summarize(path string, s snapshot.GameSnapshotV1) snapshotSummary {
	out := snapshotSummary{
		Path:          path,
		GameID:        s.Header.GameID,
		Seq:           s.Header.Seq,
		SavedAt:       time.Unix(0, s.Header.SavedAt).UTC().Format(time.RFC3339),
		Seed:          s.Seed,
		SeedText:      s.SeedText,
		MineThreshold: s.MineThreshold,
		PendingFills:  len(s.PendingFills),
	}
	for _, o := range s.Overrides {
		if o.Revealed {
			out.Revealed++
		}
		if o.Flagged {
			out.Flagged++
		}
	}
	if len(s.PendingFills) > 0 {
		out.PendingByChunk = map[string]int{}
		for _, p := range s.PendingFills {
			out.PendingByChunk[p.Chunk]++
		}
	}
	return out
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id (uses its latest snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (overrides -game)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*gameID) == "" {
			fmt.Fprintln(os.Stderr, "missing -game or -snapshot")
			os.Exit(2)
		}
		p, err := snapshot.Latest(*dataDir, *gameID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest:", err)
			os.Exit(1)
		}
		path = p
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	printJSON(summarize(path, snap))
}

func catalogCmd(args []string) {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite catalog path (default <data>/minefield.db)")
	status := fs.String("status", "", "filter by status: active|removed")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "minefield.db")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "catalog:", err)
		os.Exit(1)
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	idx, err := indexdb.OpenSQLite(path, quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.ListGames(ctx, *status)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	type row struct {
		indexdb.GameRow
		Overrides    int    `json:"overrides"`
		LastSnapshot string `json:"last_snapshot,omitempty"`
	}
	out := make([]row, 0, len(rows))
	for _, g := range rows {
		r := row{GameRow: g}
		r.Overrides, _ = idx.CountOverrides(ctx, g.ID)
		if p, err := idx.LatestSnapshotPath(ctx, g.ID); err == nil {
			r.LastSnapshot = p
		} else if !errors.Is(err, snapshot.ErrNoSnapshot) {
			fmt.Fprintln(os.Stderr, "snapshot lookup:", err)
		}
		out = append(out, r)
	}
	printJSON(out)
}

type actionTally struct {
	Entries  int            `json:"entries"`
	FirstSeq uint64         `json:"first_seq"`
	LastSeq  uint64         `json:"last_seq"`
	Outcomes map[string]int `json:"outcomes"`
	Players  map[string]int `json:"players"`
}

func actionsCmd(args []string) {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id (reads every action file of the game)")
	file := fs.String("file", "", "single action file (overrides -game)")
	player := fs.String("player", "", "only count this player")
	dump := fs.Bool("dump", false, "print entries as JSON lines instead of a tally")
	_ = fs.Parse(args)

	var files []string
	if strings.TrimSpace(*file) != "" {
		files = []string{*file}
	} else {
		if strings.TrimSpace(*gameID) == "" {
			fmt.Fprintln(os.Stderr, "missing -game or -file")
			os.Exit(2)
		}
		matches, err := filepath.Glob(filepath.Join(snapshot.GameDir(*dataDir, *gameID), "actions", "actions-*.jsonl.zst"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "glob:", err)
			os.Exit(1)
		}
		sort.Strings(matches)
		files = matches
	}

	tally := actionTally{Outcomes: map[string]int{}, Players: map[string]int{}}
	enc := json.NewEncoder(os.Stdout)
	for _, f := range files {
		entries, err := plog.ReadActions(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", f, err)
			os.Exit(1)
		}
		for _, e := range entries {
			if *player != "" && e.Player != *player {
				continue
			}
			if *dump {
				_ = enc.Encode(e)
				continue
			}
			if tally.Entries == 0 || e.Seq < tally.FirstSeq {
				tally.FirstSeq = e.Seq
			}
			if e.Seq > tally.LastSeq {
				tally.LastSeq = e.Seq
			}
			tally.Entries++
			tally.Outcomes[string(e.Outcome)]++
			tally.Players[e.Player]++
		}
	}
	if !*dump {
		printJSON(tally)
	}
}

func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dirs, err := os.ReadDir(filepath.Join(*dataDir, "archives"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var metas []archive.GameArchiveMeta
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		m, err := archive.ReadMeta(filepath.Join(*dataDir, "archives", d.Name()))
		if err != nil {
			fmt.Fprintln(os.Stderr, "meta:", d.Name(), err)
			continue
		}
		metas = append(metas, m)
	}
	printJSON(metas)
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
