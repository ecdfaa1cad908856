package tissue

// Metrics is a thread-safe read-only view of key run signals.
// It is updated from the loop goroutine and read from HTTP handlers/tests.
type Metrics struct {
	RunID string  `json:"run_id"`
	Step  uint64  `json:"step"`
	Time  float64 `json:"time"`

	Cells       int `json:"cells"`
	Tumor       int `json:"tumor"`
	LiveTumor   int `json:"live_tumor"`
	Immune      int `json:"immune"`
	Macrophages int `json:"macrophages"`
	Attached    int `json:"attached"`

	Deaths    int `json:"deaths"`
	Recruited int `json:"recruited"`

	TumorRadius float64 `json:"tumor_radius"`
	Observers   int     `json:"observers"`
	StepMS      float64 `json:"step_ms"`
}

func (t *Tissue) Metrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	v := t.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

func (t *Tissue) publishMetrics(step uint64, stepMS float64) {
	t.publishMetricsFrom(t.summary(step), stepMS)
}

func (t *Tissue) publishMetricsFrom(e StepLogEntry, stepMS float64) {
	t.metrics.Store(Metrics{
		RunID:       e.RunID,
		Step:        e.Step,
		Time:        e.Time,
		Cells:       len(t.cells),
		Tumor:       e.Tumor,
		LiveTumor:   e.LiveTumor,
		Immune:      e.Immune,
		Macrophages: e.Macrophages,
		Attached:    e.Attached,
		Deaths:      e.Deaths,
		Recruited:   t.recruited,
		TumorRadius: e.TumorRadius,
		Observers:   len(t.observers),
		StepMS:      stepMS,
	})
}
