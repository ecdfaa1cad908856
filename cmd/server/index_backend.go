package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cancerimmune.bio/internal/persistence/indexdb"
	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
)

type runtimeIndex interface {
	tissue.StepLogger
	Close() error
	UpsertRun(runID string, tune tuning.Tuning, catalogDigest string) error
	UpsertCatalogs(configDir string, cat *catalogs.Catalog, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordSummary(runID string, step uint64, sum tissue.OncoproteinSummary)
}

func openRuntimeIndex(runDir, runID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CI_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(runDir, "index", "run.sqlite")
		return indexdb.OpenSQLite(dbPath)
	case "http", "ingest":
		endpoint := strings.TrimSpace(os.Getenv("CI_INDEX_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("CI_INDEX_INGEST_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("CI_INDEX_BACKEND=%s but CI_INDEX_INGEST_URL is empty", backend)
		}
		flushMS := envInt("CI_INDEX_INGEST_FLUSH_MS", 500)
		batchSize := envInt("CI_INDEX_INGEST_BATCH_SIZE", 128)
		idx, err := indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      endpoint,
			Token:         token,
			RunID:         runID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported CI_INDEX_BACKEND: %s", backend)
	}
}

type multiStepLogger struct {
	a tissue.StepLogger
	b tissue.StepLogger
}

func (m multiStepLogger) WriteStep(entry tissue.StepLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteStep(entry)
	}
	if m.b != nil {
		_ = m.b.WriteStep(entry)
	}
	return nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
