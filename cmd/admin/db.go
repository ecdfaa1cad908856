package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "runs", *runID, "index", "run.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(os.Stdout, db, q, *limit); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

var queries = map[string]string{
	"runs":      `SELECT run_id,seed,dt,phenotype_dt,catalog_digest,started_at FROM runs ORDER BY started_at DESC LIMIT ?`,
	"snapshots": `SELECT run_id,step,time,path,cells,tumor,immune,macrophages,dead,protected,attachments,deaths,recruited FROM snapshots ORDER BY step DESC LIMIT ?`,
	"steps":     `SELECT run_id,step,time,tumor,live_tumor,immune,macrophages,attached,deaths,recruited,tumor_radius FROM steps ORDER BY step DESC LIMIT ?`,
	"deaths":    `SELECT run_id,step,time,new_deaths,deaths,live_tumor FROM steps WHERE new_deaths > 0 ORDER BY step DESC LIMIT ?`,
	"summaries": `SELECT run_id,step,count,mean,sd,min,max FROM oncoprotein_summaries ORDER BY step DESC LIMIT ?`,
	"catalogs":  `SELECT name,digest,updated_at FROM catalogs ORDER BY name LIMIT ?`,
}

// runQuery prints one JSON object per row, keyed by column name.
func runQuery(w io.Writer, db *sql.DB, name string, limit int) error {
	q, ok := queries[name]
	if !ok {
		return fmt.Errorf("unknown query (want one of runs, snapshots, steps, deaths, summaries, catalogs)")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(q, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = vals[i]
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
