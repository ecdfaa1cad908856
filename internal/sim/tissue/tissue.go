package tissue

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/attach"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/recruit"
	"cancerimmune.bio/internal/sim/tuning"
)

type Config struct {
	// RunID names the run in logs, snapshots and the index. Generated when empty.
	RunID  string
	Tuning tuning.Tuning
}

// Tissue is the simulation context: cell types, live cells, the attachment
// arena and the host services the behavior rules call through model.Env.
// All state must be accessed only from the loop goroutine.
type Tissue struct {
	cfg    Config
	tune   tuning.Tuning
	reg    *celltypes.Registry
	logger *log.Logger

	step atomic.Uint64

	cells  []*model.Cell // ascending ID
	byID   map[model.CellID]*model.Cell
	nextID uint64

	arena  *attach.Arena
	grid   *grid
	fields fields
	env    *hostEnv

	src *countingSource
	rng *rand.Rand

	deaths    *recruit.Counter
	recruited int

	phenotypeEvery int

	stop          chan struct{}
	admin         chan adminSnapshotReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	observers     map[string]*observerClient

	// Optional logger (may be nil). Implemented in internal/persistence/log.
	stepLogger StepLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Value
}

type StepLogger interface {
	WriteStep(entry StepLogEntry) error
}

type StepLogEntry struct {
	RunID       string  `json:"run_id"`
	Step        uint64  `json:"step"`
	Time        float64 `json:"time"`
	Tumor       int     `json:"tumor"`
	LiveTumor   int     `json:"live_tumor"`
	Immune      int     `json:"immune"`
	Macrophages int     `json:"macrophages"`
	Attached    int     `json:"attached"`
	Deaths      int     `json:"deaths"`
	NewDeaths   int     `json:"new_deaths,omitempty"`
	Recruited   int     `json:"recruited,omitempty"`
	Removed     int     `json:"removed,omitempty"`
	TumorRadius float64 `json:"tumor_radius"`
}

func New(cfg Config, reg *celltypes.Registry, logger *log.Logger) (*Tissue, error) {
	if reg == nil {
		return nil, fmt.Errorf("nil cell type registry")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	seed := int64(cfg.Tuning.Parameters.Int("random_seed"))
	src := newCountingSource(seed)

	t := &Tissue{
		cfg:    cfg,
		tune:   cfg.Tuning,
		reg:    reg,
		logger: logger,
		byID:   map[model.CellID]*model.Cell{},
		nextID: 1,
		arena:  attach.New(),
		grid:   newGrid(cfg.Tuning.MechanicsVoxelSize),
		fields: fields{
			oxygen: reg.Micro.MustIndex(model.DensityOxygen),
			immuno: reg.Micro.MustIndex(model.DensityImmunostimulatory),
			o2:     cfg.Tuning.Oxygen,
		},
		src:            src,
		rng:            rand.New(src),
		deaths:         recruit.NewCounter(),
		phenotypeEvery: cfg.Tuning.PhenotypeEvery(),
		stop:           make(chan struct{}),
		admin:          make(chan adminSnapshotReq, 16),
		observerJoin:   make(chan ObserverJoinRequest, 16),
		observerSub:    make(chan ObserverSubscribeRequest, 64),
		observerLeave:  make(chan string, 16),
		observers:      map[string]*observerClient{},
	}
	t.env = &hostEnv{t: t}
	t.publishMetrics(0, 0)
	return t, nil
}

func (t *Tissue) SetStepLogger(l StepLogger)                    { t.stepLogger = l }
func (t *Tissue) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { t.snapshotSink = ch }

func (t *Tissue) Config() Config { return t.cfg }

func (t *Tissue) RunID() string { return t.cfg.RunID }

func (t *Tissue) Tuning() tuning.Tuning { return t.tune }

func (t *Tissue) Registry() *celltypes.Registry { return t.reg }

func (t *Tissue) CurrentStep() uint64 { return t.step.Load() }

// Time is the simulated time in minutes at the current step.
func (t *Tissue) Time() float64 { return float64(t.step.Load()) * t.tune.DT }

func (t *Tissue) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(t.tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			return nil
		case req := <-t.admin:
			pendingAdmin = append(pendingAdmin, req)
		case req := <-t.observerJoin:
			t.handleObserverJoin(req)
		case req := <-t.observerSub:
			t.handleObserverSubscribe(req)
		case id := <-t.observerLeave:
			t.handleObserverLeave(id)
		case <-ticker.C:
			if limit := t.tune.MaxSteps; limit > 0 && t.step.Load() >= uint64(limit) {
				t.handleAdminSnapshotRequests(pendingAdmin)
				pendingAdmin = pendingAdmin[:0]
				continue
			}
			t.stepInternal()
			t.handleAdminSnapshotRequests(pendingAdmin)
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (t *Tissue) Stop() { close(t.stop) }

// StepOnce advances the tissue by one mechanics step using the same ordering
// as Run. It is intended for tests and offline runs.
func (t *Tissue) StepOnce() StepLogEntry {
	return t.stepInternal()
}

// Cells returns the live collection in ID order. Callers must not retain it
// across steps.
func (t *Tissue) Cells() []*model.Cell { return t.cells }

func (t *Tissue) Cell(id model.CellID) (*model.Cell, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Partner reports the cell attached to c, if any.
func (t *Tissue) Partner(c *model.Cell) (*model.Cell, bool) { return t.env.Partner(c) }

func (t *Tissue) Deaths() int { return t.deaths.Total() }

func (t *Tissue) Recruited() int { return t.recruited }

// AddCell creates a live cell of the given type at pos.
func (t *Tissue) AddCell(ct *model.CellType, pos model.Vec3) *model.Cell {
	c := model.NewCell(model.CellID(t.nextID), ct, pos)
	t.nextID++
	t.cells = append(t.cells, c)
	t.byID[c.ID] = c
	t.grid.add(c)
	return c
}

func (t *Tissue) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}
