package main

import (
	"bytes"
	"strings"
	"testing"

	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
)

func TestBuildReport(t *testing.T) {
	tune := tuning.Defaults()
	tune.Parameters.IntValues["random_seed"] = 11
	tune.Parameters.IntValues["number_of_initial_macrophages"] = 2
	tune.Parameters.DoubleValues["tumor_radius"] = 30

	cat, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	reg, err := celltypes.Build(cat, tune.Parameters)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	orig, err := tissue.New(tissue.Config{RunID: "run_inspect", Tuning: tune}, reg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	orig.SeedTissue()
	snap := orig.ExportSnapshot()

	loaded, err := load(cat, snap)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r := build(loaded, snap)

	tumor := len(orig.Cells()) - 2
	if r.Types[reg.Default.Name] != tumor || r.Types[celltypes.MacrophageName] != 2 {
		t.Fatalf("type counts=%v want tumor=%d macrophages=2", r.Types, tumor)
	}
	if r.Phases["live"] != len(orig.Cells()) {
		t.Fatalf("phases=%v", r.Phases)
	}
	if r.Colors["gold"] != 2 {
		t.Fatalf("macrophage colors=%v", r.Colors)
	}
	if r.TumorOncoprotein.Count != tumor || r.TumorOncoprotein.Min < 0 {
		t.Fatalf("tumor oncoprotein=%+v", r.TumorOncoprotein)
	}
	if r.RunID != "run_inspect" || r.Step != 0 {
		t.Fatalf("header mismatch: run=%s step=%d", r.RunID, r.Step)
	}

	var buf bytes.Buffer
	r.print(&buf)
	if !strings.Contains(buf.String(), "run=run_inspect step=0") {
		t.Fatalf("print output:\n%s", buf.String())
	}
}
