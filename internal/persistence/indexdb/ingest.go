package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
)

// IngestConfig configures the remote index: events are batched and POSTed as
// {"events":[...]} to Endpoint.
type IngestConfig struct {
	Endpoint      string
	Token         string
	RunID         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// Failed batches are kept and retried on the next flush up to this many
	// pending events; older events are dropped first.
	MaxPending int
	Logger     *log.Logger
}

type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	pendingDrop  atomic.Uint64
	flushFail    atomic.Uint64
	sent         atomic.Uint64
}

type IngestStats struct {
	QueueDepth          int
	QueueCapacity       int
	QueueDroppedTotal   uint64
	PendingDroppedTotal uint64
	FlushFailTotal      uint64
	SentTotal           uint64
}

type ingestEvent struct {
	Kind    string `json:"kind"`
	RunID   string `json:"run_id"`
	Payload any    `json:"payload"`
}

type ingestRunPayload struct {
	Seed          int64   `json:"seed"`
	DT            float64 `json:"dt"`
	PhenotypeDT   float64 `json:"phenotype_dt"`
	CatalogDigest string  `json:"catalog_digest"`
	StartedAt     string  `json:"started_at"`
}

type ingestSummaryPayload struct {
	Step    uint64                    `json:"step"`
	Summary tissue.OncoproteinSummary `json:"summary"`
}

type ingestCatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.RunID = strings.TrimSpace(cfg.RunID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 16 * cfg.BatchSize
	}

	d := &IngestIndex{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan ingestEvent, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) Stats() IngestStats {
	if d == nil {
		return IngestStats{}
	}
	return IngestStats{
		QueueDepth:          len(d.ch),
		QueueCapacity:       cap(d.ch),
		QueueDroppedTotal:   d.queueDropped.Load(),
		PendingDroppedTotal: d.pendingDrop.Load(),
		FlushFailTotal:      d.flushFail.Load(),
		SentTotal:           d.sent.Load(),
	}
}

func (d *IngestIndex) WriteStep(entry tissue.StepLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(ingestEvent{Kind: "step", RunID: d.cfg.RunID, Payload: entry})
	return nil
}

func (d *IngestIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if d == nil || d.closed.Load() {
		return
	}
	d.enqueue(ingestEvent{Kind: "snapshot", RunID: d.cfg.RunID, Payload: summarizeSnapshot(path, snap)})
}

func (d *IngestIndex) RecordSummary(runID string, step uint64, sum tissue.OncoproteinSummary) {
	if d == nil || d.closed.Load() {
		return
	}
	d.enqueue(ingestEvent{Kind: "summary", RunID: runID, Payload: ingestSummaryPayload{Step: step, Summary: sum}})
}

func (d *IngestIndex) UpsertRun(runID string, tune tuning.Tuning, catalogDigest string) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(ingestEvent{Kind: "run", RunID: runID, Payload: ingestRunPayload{
		Seed:          int64(tune.Parameters.Int("random_seed")),
		DT:            tune.DT,
		PhenotypeDT:   tune.PhenotypeDT,
		CatalogDigest: catalogDigest,
		StartedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

func (d *IngestIndex) UpsertCatalogs(configDir string, cat *catalogs.Catalog, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	rows, err := catalogRows(configDir, cat, tune)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		d.enqueue(ingestEvent{Kind: "catalog", RunID: d.cfg.RunID, Payload: ingestCatalogPayload{
			Name:      r.name,
			Digest:    r.digest,
			JSON:      string(r.json),
			UpdatedAt: now,
		}})
	}
	return nil
}

func (d *IngestIndex) enqueue(ev ingestEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("ingest queue full; drop kind=%s run=%s", ev.Kind, ev.RunID)
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("ingest flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxPending; over > 0 {
				d.pendingDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(events []ingestEvent) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []ingestEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *IngestIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
