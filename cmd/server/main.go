package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cancerimmune.bio/internal/persistence/indexdb"
	persistlog "cancerimmune.bio/internal/persistence/log"
	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
	"cancerimmune.bio/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		runID      = flag.String("run", "", "run id (default: a new uuid; required to resume the latest snapshot)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (steps + catalogs + snapshot metadata)")
		maxSteps   = flag.Int("max_steps", -1, "stop stepping after this many steps (-1: use tuning)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot of -run if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cat, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest && strings.TrimSpace(*runID) != "" {
		snapshotToLoad = latestSnapshot(filepath.Join(*dataDir, "runs", *runID))
	}

	// Load tuning (required for a fresh run; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		// Resume fallback: the snapshot carries the effective tuning; allow a missing file.
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using snapshot values", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if *runID != "" && s.Header.RunID != "" && s.Header.RunID != *runID {
			logger.Fatalf("snapshot run id mismatch: flag=%s snap=%s", *runID, s.Header.RunID)
		}
		if len(s.TuningJSON) > 0 {
			tune, err = tuning.FromJSON(s.TuningJSON)
			if err != nil {
				logger.Fatalf("snapshot tuning: %v", err)
			}
		}
		snap = &s
	}
	if *maxSteps >= 0 {
		tune.MaxSteps = *maxSteps
	}

	reg, err := celltypes.Build(cat, tune.Parameters)
	if err != nil {
		logger.Fatalf("build cell types: %v", err)
	}

	// Create the tissue (fresh or resumed from snapshot).
	cfg := tissue.Config{RunID: strings.TrimSpace(*runID), Tuning: tune}
	var t *tissue.Tissue
	var seeded *tissue.OncoproteinSummary
	if snap != nil {
		t, err = tissue.NewFromSnapshot(cfg, reg, *snap, logger)
		if err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed run=%s from snapshot=%s step=%d", t.RunID(), filepath.Base(snapshotToLoad), t.CurrentStep())
	} else {
		t, err = tissue.New(cfg, reg, logger)
		if err != nil {
			logger.Fatalf("tissue: %v", err)
		}
		sum := t.SeedTissue()
		seeded = &sum
		logger.Printf("started run=%s seed=%d cells=%d", t.RunID(), tune.Parameters.Int("random_seed"), len(t.Cells()))
	}

	runDir := filepath.Join(*dataDir, "runs", t.RunID())
	_ = os.MkdirAll(runDir, 0o755)

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(runDir, t.RunID(), *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertRun(t.RunID(), tune, reg.CatalogDigest); err != nil {
			logger.Printf("index backend: upsert run: %v", err)
		}
		if err := idx.UpsertCatalogs(*configDir, cat, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	stepLog := persistlog.NewStepLogger(runDir, persistlog.DefaultStepWindow)
	summaryLog := persistlog.NewSummaryLogger(runDir)
	defer stepLog.Close()
	defer summaryLog.Close()
	t.SetStepLogger(multiStepLogger{a: stepLog, b: idx})

	recordSummary := func(step uint64, sum tissue.OncoproteinSummary) {
		_ = summaryLog.WriteSummary(persistlog.SummaryEntry{RunID: t.RunID(), Step: step, Summary: sum})
		if idx != nil {
			idx.RecordSummary(t.RunID(), step, sum)
		}
	}
	if seeded != nil {
		recordSummary(0, *seeded)
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	t.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snapCh:
				path := filepath.Join(runDir, "snapshots", fmt.Sprintf("%d.snap.zst", s.Header.Step))
				if err := snapshot.WriteSnapshot(path, s); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				recordSummary(s.Header.Step, snapshotOncoprotein(s))
				if idx != nil {
					idx.RecordSnapshot(path, s)
				}
			}
		}
	}()

	go func() {
		if err := t.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("tissue stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, t.RunID(), t.Metrics(), idx)
	})

	enableAdminHTTP := envBool("CI_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("CI_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				RunID   string         `json:"run_id"`
				Step    uint64         `json:"step"`
				Time    float64        `json:"time"`
				Metrics tissue.Metrics `json:"metrics"`
			}{
				RunID:   t.RunID(),
				Step:    t.CurrentStep(),
				Time:    t.Time(),
				Metrics: t.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			step, err := t.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "step": step, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "step": step})
		})

		obsSrv := observer.NewServer(t, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (CI_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (CI_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func snapshotOncoprotein(s snapshot.SnapshotV1) tissue.OncoproteinSummary {
	xs := make([]float64, len(s.Cells))
	for i, c := range s.Cells {
		xs[i] = c.Oncoprotein
	}
	return tissue.SummarizeOncoprotein(xs)
}

func writeMetrics(rw http.ResponseWriter, runID string, m tissue.Metrics, idx runtimeIndex) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP cancerimmune_step Current mechanics step.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_step gauge\n")
	fmt.Fprintf(rw, "cancerimmune_step{run=%q} %d\n", runID, m.Step)

	fmt.Fprintf(rw, "# HELP cancerimmune_time_minutes Simulated time in minutes.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_time_minutes gauge\n")
	fmt.Fprintf(rw, "cancerimmune_time_minutes{run=%q} %.3f\n", runID, m.Time)

	fmt.Fprintf(rw, "# HELP cancerimmune_cells Cells in the tissue by kind.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_cells gauge\n")
	fmt.Fprintf(rw, "cancerimmune_cells{run=%q,kind=%q} %d\n", runID, "tumor", m.Tumor)
	fmt.Fprintf(rw, "cancerimmune_cells{run=%q,kind=%q} %d\n", runID, "tumor_live", m.LiveTumor)
	fmt.Fprintf(rw, "cancerimmune_cells{run=%q,kind=%q} %d\n", runID, "immune", m.Immune)
	fmt.Fprintf(rw, "cancerimmune_cells{run=%q,kind=%q} %d\n", runID, "macrophage", m.Macrophages)

	fmt.Fprintf(rw, "# HELP cancerimmune_attached_cells Cells currently in an attachment.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_attached_cells gauge\n")
	fmt.Fprintf(rw, "cancerimmune_attached_cells{run=%q} %d\n", runID, m.Attached)

	fmt.Fprintf(rw, "# HELP cancerimmune_deaths_total Cumulative cell deaths.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_deaths_total counter\n")
	fmt.Fprintf(rw, "cancerimmune_deaths_total{run=%q} %d\n", runID, m.Deaths)

	fmt.Fprintf(rw, "# HELP cancerimmune_recruited_total Immune cells recruited.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_recruited_total counter\n")
	fmt.Fprintf(rw, "cancerimmune_recruited_total{run=%q} %d\n", runID, m.Recruited)

	fmt.Fprintf(rw, "# HELP cancerimmune_tumor_radius Current tumor radius in microns.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_tumor_radius gauge\n")
	fmt.Fprintf(rw, "cancerimmune_tumor_radius{run=%q} %.3f\n", runID, m.TumorRadius)

	fmt.Fprintf(rw, "# HELP cancerimmune_observers Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_observers gauge\n")
	fmt.Fprintf(rw, "cancerimmune_observers{run=%q} %d\n", runID, m.Observers)

	fmt.Fprintf(rw, "# HELP cancerimmune_step_ms Last step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE cancerimmune_step_ms gauge\n")
	fmt.Fprintf(rw, "cancerimmune_step_ms{run=%q} %.3f\n", runID, m.StepMS)

	switch ix := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := ix.Stats()
		fmt.Fprintf(rw, "# HELP cancerimmune_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE cancerimmune_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "cancerimmune_index_queue_depth{run=%q,backend=%q} %d\n", runID, "sqlite", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP cancerimmune_index_dropped_total Index writes dropped under load.\n")
		fmt.Fprintf(rw, "# TYPE cancerimmune_index_dropped_total counter\n")
		fmt.Fprintf(rw, "cancerimmune_index_dropped_total{run=%q,kind=%q} %d\n", runID, "step", s.DropStepTotal)
		fmt.Fprintf(rw, "cancerimmune_index_dropped_total{run=%q,kind=%q} %d\n", runID, "snapshot", s.DropSnapshotTotal)
		fmt.Fprintf(rw, "cancerimmune_index_dropped_total{run=%q,kind=%q} %d\n", runID, "summary", s.DropSummaryTotal)
	case *indexdb.IngestIndex:
		s := ix.Stats()
		fmt.Fprintf(rw, "# HELP cancerimmune_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE cancerimmune_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "cancerimmune_index_queue_depth{run=%q,backend=%q} %d\n", runID, "ingest", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP cancerimmune_index_dropped_total Index writes dropped under load.\n")
		fmt.Fprintf(rw, "# TYPE cancerimmune_index_dropped_total counter\n")
		fmt.Fprintf(rw, "cancerimmune_index_dropped_total{run=%q,kind=%q} %d\n", runID, "queue", s.QueueDroppedTotal)
		fmt.Fprintf(rw, "cancerimmune_index_dropped_total{run=%q,kind=%q} %d\n", runID, "pending", s.PendingDroppedTotal)
		fmt.Fprintf(rw, "# HELP cancerimmune_index_flush_fail_total Failed ingest flushes.\n")
		fmt.Fprintf(rw, "# TYPE cancerimmune_index_flush_fail_total counter\n")
		fmt.Fprintf(rw, "cancerimmune_index_flush_fail_total{run=%q} %d\n", runID, s.FlushFailTotal)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(runDir string) string {
	dir := filepath.Join(runDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestStep uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		step, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || step > bestStep {
			bestStep = step
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
