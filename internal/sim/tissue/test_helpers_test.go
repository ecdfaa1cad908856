package tissue

import (
	"testing"

	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/tuning"
)

// smallTuning keeps tissues to a few hundred cells, fully oxygenated and
// without periodic recruitment.
func smallTuning() tuning.Tuning {
	tu := tuning.Defaults()
	tu.Oxygen.Core = tu.Oxygen.Boundary
	tu.RecruitEverySteps = 0
	tu.Parameters.IntValues["random_seed"] = 42
	tu.Parameters.IntValues["number_of_initial_macrophages"] = 5
	tu.Parameters.DoubleValues["tumor_radius"] = 40
	return tu
}

func newTestTissue(t *testing.T, tu tuning.Tuning) *Tissue {
	t.Helper()
	cat, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	reg, err := celltypes.Build(cat, tu.Parameters)
	if err != nil {
		t.Fatalf("build cell types: %v", err)
	}
	ts, err := New(Config{RunID: "test", Tuning: tu}, reg, nil)
	if err != nil {
		t.Fatalf("new tissue: %v", err)
	}
	return ts
}
