package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of a run. The JSONL step log and the
// snapshot files remain the source of truth; writes are dropped when the
// writer goroutine falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStep     atomic.Uint64
	dropSnapshot atomic.Uint64
	dropSummary  atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqSnapshot
	reqSummary
)

type req struct {
	kind reqKind

	step     tissue.StepLogEntry
	snapshot snapshotRow
	summary  summaryRow
}

type snapshotRow struct {
	RunID       string  `json:"run_id"`
	Step        uint64  `json:"step"`
	Time        float64 `json:"time"`
	Path        string  `json:"path"`
	Seed        int64   `json:"seed"`
	Cells       int     `json:"cells"`
	Tumor       int     `json:"tumor"`
	Immune      int     `json:"immune"`
	Macrophages int     `json:"macrophages"`
	Dead        int     `json:"dead"`
	Protected   int     `json:"protected"`
	Attachments int     `json:"attachments"`
	Deaths      int     `json:"deaths"`
	Recruited   int     `json:"recruited"`
}

type summaryRow struct {
	RunID   string
	Step    uint64
	Summary tissue.OncoproteinSummary
}

// Stats reports queue pressure for /metrics.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropStepTotal     uint64
	DropSnapshotTotal uint64
	DropSummaryTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			dt REAL NOT NULL,
			phenotype_dt REAL NOT NULL,
			catalog_digest TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			time REAL NOT NULL,
			tumor INTEGER NOT NULL,
			live_tumor INTEGER NOT NULL,
			immune INTEGER NOT NULL,
			macrophages INTEGER NOT NULL,
			attached INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			new_deaths INTEGER NOT NULL,
			recruited INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			tumor_radius REAL NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_deaths ON steps(run_id, new_deaths) WHERE new_deaths > 0;`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			time REAL NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			tumor INTEGER NOT NULL,
			immune INTEGER NOT NULL,
			macrophages INTEGER NOT NULL,
			dead INTEGER NOT NULL,
			protected INTEGER NOT NULL,
			attachments INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			recruited INTEGER NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
		`CREATE TABLE IF NOT EXISTS oncoprotein_summaries (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			count INTEGER NOT NULL,
			mean REAL NOT NULL,
			sd REAL NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropStepTotal:     s.dropStep.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropSummaryTotal:  s.dropSummary.Load(),
	}
}

func (s *SQLiteIndex) WriteStep(entry tissue.StepLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqStep, step: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropStep.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := summarizeSnapshot(path, snap)
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) RecordSummary(runID string, step uint64, sum tissue.OncoproteinSummary) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSummary, summary: summaryRow{RunID: runID, Step: step, Summary: sum}}:
	default:
		s.dropSummary.Add(1)
	}
}

func summarizeSnapshot(path string, snap snapshot.SnapshotV1) snapshotRow {
	r := snapshotRow{
		RunID:       snap.Header.RunID,
		Step:        snap.Header.Step,
		Time:        snap.Header.Time,
		Path:        path,
		Seed:        snap.Seed,
		Cells:       len(snap.Cells),
		Attachments: len(snap.Attachments),
		Deaths:      snap.Counters.Deaths,
		Recruited:   snap.Counters.Recruited,
	}
	for _, c := range snap.Cells {
		switch c.Type {
		case celltypes.ImmuneName:
			r.Immune++
		case celltypes.MacrophageName:
			r.Macrophages++
		default:
			r.Tumor++
			if c.PDL1 == model.PDL1Protected {
				r.Protected++
			}
		}
		if c.Dead {
			r.Dead++
		}
	}
	return r
}

// UpsertRun records run identity. It writes synchronously so the row exists
// before any step rows reference it.
func (s *SQLiteIndex) UpsertRun(runID string, tune tuning.Tuning, catalogDigest string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs(run_id,seed,dt,phenotype_dt,catalog_digest,started_at) VALUES(?,?,?,?,?,?)`,
		runID,
		int64(tune.Parameters.Int("random_seed")),
		tune.DT,
		tune.PhenotypeDT,
		catalogDigest,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cat *catalogs.Catalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := catalogRows(configDir, cat, tune)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type catalogRow struct {
	name   string
	digest string
	json   []byte
}

func catalogRows(configDir string, cat *catalogs.Catalog, tune tuning.Tuning) ([]catalogRow, error) {
	var rows []catalogRow
	if cat != nil {
		raw, err := os.ReadFile(filepath.Join(configDir, catalogs.FileName))
		if err != nil {
			// Fall back to the resolved definitions.
			raw, err = json.Marshal(cat.Defs)
			if err != nil {
				return nil, err
			}
		}
		rows = append(rows, catalogRow{name: "cell_definitions", digest: cat.Digest, json: raw})
	}

	// Tuning: store the values we actually apply (canonical JSON).
	b, err := json.Marshal(tune)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	rows = append(rows, catalogRow{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	return rows, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(run_id,step,time,tumor,live_tumor,immune,macrophages,attached,deaths,new_deaths,recruited,removed,tumor_radius) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,step,time,path,seed,cells,tumor,immune,macrophages,dead,protected,attachments,deaths,recruited) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSummary, _ := s.db.Prepare(`INSERT OR REPLACE INTO oncoprotein_summaries(run_id,step,count,mean,sd,min,max) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStep, insertSnapshot, insertSummary} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStep:
			e := r.step
			exec(insertStep,
				e.RunID, int64(e.Step), e.Time,
				e.Tumor, e.LiveTumor, e.Immune, e.Macrophages, e.Attached,
				e.Deaths, e.NewDeaths, e.Recruited, e.Removed, e.TumorRadius,
			)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot,
				sn.RunID, int64(sn.Step), sn.Time, sn.Path, sn.Seed,
				sn.Cells, sn.Tumor, sn.Immune, sn.Macrophages, sn.Dead, sn.Protected,
				sn.Attachments, sn.Deaths, sn.Recruited,
			)
		case reqSummary:
			su := r.summary
			exec(insertSummary,
				su.RunID, int64(su.Step),
				su.Summary.Count, su.Summary.Mean, su.Summary.SD, su.Summary.Min, su.Summary.Max,
			)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
