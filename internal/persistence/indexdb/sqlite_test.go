package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "run.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return idx, path
}

func openReadDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteIndex_WriteStep(t *testing.T) {
	idx, path := openTestIndex(t)
	_ = idx.WriteStep(tissue.StepLogEntry{RunID: "run_1", Step: 60, Time: 6, Tumor: 12, LiveTumor: 11, Immune: 3, Deaths: 1, NewDeaths: 1, TumorRadius: 250})
	_ = idx.WriteStep(tissue.StepLogEntry{RunID: "run_1", Step: 61, Time: 6.1, Tumor: 12, LiveTumor: 11, Immune: 3, Deaths: 1, TumorRadius: 250})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openReadDB(t, path)
	var n, live, deaths int
	if err := db.QueryRow(`SELECT COUNT(*) FROM steps WHERE run_id='run_1'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("steps=%d want=2", n)
	}
	if err := db.QueryRow(`SELECT live_tumor,new_deaths FROM steps WHERE run_id='run_1' AND step=60`).Scan(&live, &deaths); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if live != 11 || deaths != 1 {
		t.Fatalf("row mismatch: live=%d new_deaths=%d", live, deaths)
	}
}

func TestSQLiteIndex_RecordSnapshotCountsKinds(t *testing.T) {
	idx, path := openTestIndex(t)
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, RunID: "run_1", Step: 3000, Time: 300},
		Seed:   42,
		Cells: []snapshot.CellV1{
			{ID: 1, Type: "cancer cell", PDL1: model.PDL1Killable},
			{ID: 2, Type: "cancer cell", PDL1: model.PDL1Protected},
			{ID: 3, Type: "cancer cell", PDL1: model.PDL1Killable, Dead: true},
			{ID: 4, Type: celltypes.ImmuneName},
			{ID: 5, Type: celltypes.MacrophageName},
		},
		Attachments: []snapshot.AttachmentV1{{A: 2, B: 4}},
		Counters:    snapshot.CountersV1{NextCell: 6, Deaths: 1, Recruited: 1},
	}
	idx.RecordSnapshot("/abs/3000.snap.zst", snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openReadDB(t, path)
	var p string
	var seed int64
	var cells, tumor, immune, macro, dead, protect, attach int
	row := db.QueryRow(`SELECT path,seed,cells,tumor,immune,macrophages,dead,protected,attachments FROM snapshots WHERE run_id='run_1' AND step=3000`)
	if err := row.Scan(&p, &seed, &cells, &tumor, &immune, &macro, &dead, &protect, &attach); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if p != "/abs/3000.snap.zst" || seed != 42 || cells != 5 {
		t.Fatalf("row mismatch: path=%q seed=%d cells=%d", p, seed, cells)
	}
	if tumor != 3 || immune != 1 || macro != 1 || dead != 1 || protect != 1 || attach != 1 {
		t.Fatalf("counts mismatch: tumor=%d immune=%d macro=%d dead=%d protected=%d attach=%d", tumor, immune, macro, dead, protect, attach)
	}
}

func TestSQLiteIndex_RunAndSummary(t *testing.T) {
	idx, path := openTestIndex(t)
	tune := tuning.Defaults()
	tune.Parameters.IntValues["random_seed"] = 7
	if err := idx.UpsertRun("run_1", tune, "abc"); err != nil {
		t.Fatalf("UpsertRun: %v", err)
	}
	if err := idx.UpsertCatalogs("", nil, tune); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	idx.RecordSummary("run_1", 0, tissue.OncoproteinSummary{Count: 10, Mean: 1, SD: 0.3, Min: 0.2, Max: 1.8})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openReadDB(t, path)
	var seed int64
	var digest string
	if err := db.QueryRow(`SELECT seed,catalog_digest FROM runs WHERE run_id='run_1'`).Scan(&seed, &digest); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if seed != 7 || digest != "abc" {
		t.Fatalf("run mismatch: seed=%d digest=%q", seed, digest)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs WHERE name='tuning'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("tuning catalog row: n=%d err=%v", n, err)
	}
	var count int
	var mean float64
	if err := db.QueryRow(`SELECT count,mean FROM oncoprotein_summaries WHERE run_id='run_1' AND step=0`).Scan(&count, &mean); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if count != 10 || mean != 1 {
		t.Fatalf("summary mismatch: count=%d mean=%v", count, mean)
	}
}
