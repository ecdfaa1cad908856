package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"cancerimmune.bio/internal/sim/tissue"
)

// DefaultStepWindow is the number of steps covered by one log file.
const DefaultStepWindow = 10000

// StepWindowWriter appends zstd-compressed JSONL records to files that each
// cover a fixed window of simulation steps: <prefix>-<firstStep>.jsonl.zst.
// Names depend on the step only, so two runs with the same settings produce
// the same file layout.
type StepWindowWriter struct {
	dir    string
	prefix string
	window uint64

	mu    sync.Mutex
	first uint64
	open  bool
	f     *os.File
	enc   *zstd.Encoder
	buf   *bufio.Writer
}

func NewStepWindowWriter(dir, prefix string, window uint64) *StepWindowWriter {
	if window == 0 {
		window = DefaultStepWindow
	}
	return &StepWindowWriter{dir: dir, prefix: prefix, window: window}
}

// WindowStart is the first step of the window holding step.
func (w *StepWindowWriter) WindowStart(step uint64) uint64 {
	return step - step%w.window
}

// Write appends v as the record for step. A step outside the open window
// closes the current file and opens (or appends to) the one that covers it.
func (w *StepWindowWriter) Write(step uint64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if first := w.WindowStart(step); !w.open || first != w.first {
		if err := w.openLocked(first); err != nil {
			return err
		}
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *StepWindowWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *StepWindowWriter) openLocked(first uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	// A resumed run appends a new zstd frame; readers decode concatenated frames.
	f, err := os.OpenFile(WindowPath(w.dir, w.prefix, first), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("zstd writer: %w", err)
	}
	w.f, w.enc = f, enc
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	w.first, w.open = first, true
	return nil
}

func (w *StepWindowWriter) closeLocked() error {
	if !w.open {
		return nil
	}
	w.open = false
	flushErr := w.buf.Flush()
	encErr := w.enc.Close()
	fileErr := w.f.Close()
	w.buf, w.enc, w.f = nil, nil, nil
	switch {
	case flushErr != nil:
		return flushErr
	case encErr != nil:
		return encErr
	default:
		return fileErr
	}
}

// WindowPath names the file whose window starts at first. The step is zero
// padded so lexical order is step order.
func WindowPath(dir, prefix string, first uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%012d.jsonl.zst", prefix, first))
}

// StepLogger writes one entry per step under <run dir>/steps.
type StepLogger struct{ w *StepWindowWriter }

func NewStepLogger(runDir string, window uint64) *StepLogger {
	return &StepLogger{w: NewStepWindowWriter(filepath.Join(runDir, "steps"), "steps", window)}
}

func (l *StepLogger) WriteStep(e tissue.StepLogEntry) error { return l.w.Write(e.Step, e) }
func (l *StepLogger) Close() error                          { return l.w.Close() }

// SummaryLogger writes oncoprotein summaries under <run dir>/summaries.
type SummaryLogger struct{ w *StepWindowWriter }

func NewSummaryLogger(runDir string) *SummaryLogger {
	return &SummaryLogger{w: NewStepWindowWriter(filepath.Join(runDir, "summaries"), "summaries", 0)}
}

// SummaryEntry is one oncoprotein distribution sample.
type SummaryEntry struct {
	RunID   string                    `json:"run_id"`
	Step    uint64                    `json:"step"`
	Summary tissue.OncoproteinSummary `json:"summary"`
}

func (l *SummaryLogger) WriteSummary(e SummaryEntry) error { return l.w.Write(e.Step, e) }
func (l *SummaryLogger) Close() error                      { return l.w.Close() }
