package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/coloring"
	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
)

type report struct {
	RunID string  `json:"run_id"`
	Step  uint64  `json:"step"`
	Time  float64 `json:"time"`
	Seed  int64   `json:"seed"`

	Types       map[string]int `json:"types"`
	Phases      map[string]int `json:"phases"`
	Protected   int            `json:"protected"`
	Attachments int            `json:"attachments"`
	Deaths      int            `json:"deaths"`
	Recruited   int            `json:"recruited"`

	Oncoprotein      tissue.OncoproteinSummary `json:"oncoprotein"`
	TumorOncoprotein tissue.OncoproteinSummary `json:"tumor_oncoprotein"`

	// Cytoplasm colors as drawn by the observer.
	Colors map[string]int `json:"colors"`
}

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst")
		configDir = flag.String("configs", "./configs", "config directory")
		asJSON    = flag.Bool("json", false, "print the report as JSON")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	cat, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	t, err := load(cat, snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	r := build(t, snap)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r)
		return
	}
	r.print(os.Stdout)
}

func load(cat *catalogs.Catalog, snap snapshot.SnapshotV1) (*tissue.Tissue, error) {
	tune := tuning.Defaults()
	if len(snap.TuningJSON) > 0 {
		var err error
		if tune, err = tuning.FromJSON(snap.TuningJSON); err != nil {
			return nil, fmt.Errorf("snapshot tuning: %w", err)
		}
	}
	reg, err := celltypes.Build(cat, tune.Parameters)
	if err != nil {
		return nil, fmt.Errorf("build cell types: %w", err)
	}
	t, err := tissue.NewFromSnapshot(tissue.Config{Tuning: tune}, reg, snap, nil)
	if err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return t, nil
}

func build(t *tissue.Tissue, snap snapshot.SnapshotV1) report {
	r := report{
		RunID:       t.RunID(),
		Step:        t.CurrentStep(),
		Time:        t.Time(),
		Seed:        snap.Seed,
		Types:       map[string]int{},
		Phases:      map[string]int{},
		Colors:      map[string]int{},
		Attachments: len(snap.Attachments),
		Deaths:      t.Deaths(),
		Recruited:   t.Recruited(),
		Oncoprotein: t.OncoproteinSummary(),
	}
	var tumor []float64
	for _, c := range t.Cells() {
		r.Types[c.Type.Name]++
		r.Phases[c.Phenotype.Death.Phase.String()]++
		_, attached := t.Partner(c)
		r.Colors[coloring.For(c, attached)[0]]++
		if c.Is(model.KindTumor) {
			tumor = append(tumor, c.Oncoprotein)
			if c.PDL1 == model.PDL1Protected {
				r.Protected++
			}
		}
	}
	r.TumorOncoprotein = tissue.SummarizeOncoprotein(tumor)
	return r
}

func (r report) print(w io.Writer) {
	fmt.Fprintf(w, "run=%s step=%d time=%.1fmin seed=%d\n", r.RunID, r.Step, r.Time, r.Seed)
	fmt.Fprintf(w, "deaths=%d recruited=%d attachments=%d protected=%d\n", r.Deaths, r.Recruited, r.Attachments, r.Protected)
	printCounts(w, "types", r.Types)
	printCounts(w, "phases", r.Phases)
	printCounts(w, "colors", r.Colors)
	o := r.TumorOncoprotein
	fmt.Fprintf(w, "tumor oncoprotein: n=%d mean=%.4f sd=%.4f min=%.4f max=%.4f\n", o.Count, o.Mean, o.SD, o.Min, o.Max)
}

func printCounts(w io.Writer, title string, m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-24s %d\n", k, m[k])
	}
}
