package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/tissue"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep, step: tissue.StepLogEntry{Step: 1}}

	_ = s.WriteStep(tissue.StepLogEntry{Step: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})
	s.RecordSummary("run_1", 2, tissue.OncoproteinSummary{Count: 1})

	st := s.Stats()
	if st.DropStepTotal != 1 {
		t.Fatalf("DropStepTotal=%d want=1", st.DropStepTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.DropSummaryTotal != 1 {
		t.Fatalf("DropSummaryTotal=%d want=1", st.DropSummaryTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestIngestIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	var applied []ingestEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []ingestEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		applied = append(applied, body.Events...)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	idx, err := OpenIngest(IngestConfig{
		Endpoint:      srv.URL,
		RunID:         "run_1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenIngest: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteStep(tissue.StepLogEntry{RunID: "run_1", Step: 123, Tumor: 7}); err != nil {
		t.Fatalf("WriteStep: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(applied) >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	got := append([]ingestEvent(nil), applied...)
	finalReqCount := reqCount
	mu.Unlock()

	if len(got) < 1 {
		t.Fatalf("expected retained batch to be eventually delivered; applied=%d reqCount=%d", len(got), finalReqCount)
	}
	if got[0].Kind != "step" || got[0].RunID != "run_1" {
		t.Fatalf("event mismatch: %+v", got[0])
	}

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

func TestOpenIngest_RequiresEndpointAndRun(t *testing.T) {
	if _, err := OpenIngest(IngestConfig{RunID: "run_1"}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := OpenIngest(IngestConfig{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}
