package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "cancerimmune.bio/internal/persistence/log"
	"cancerimmune.bio/internal/persistence/snapshot"
	"cancerimmune.bio/internal/sim/catalogs"
	"cancerimmune.bio/internal/sim/celltypes"
	"cancerimmune.bio/internal/sim/tissue"
	"cancerimmune.bio/internal/sim/tuning"
)

var errStop = errors.New("stop")

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst")
		stepsDir  = flag.String("steps", "", "steps dir containing steps-*.jsonl.zst (default: <run dir>/steps)")
		configDir = flag.String("configs", "./configs", "config directory")
		toStep    = flag.Uint64("to_step", 0, "stop at step (inclusive, optional)")
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
	fmt.Printf("snapshot v%d run=%s step=%d seed=%d cells=%d attachments=%d deaths=%d recruited=%d\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Step, snap.Seed,
		len(snap.Cells), len(snap.Attachments), snap.Counters.Deaths, snap.Counters.Recruited)

	dir := *stepsDir
	if dir == "" {
		// <run dir>/snapshots/<step>.snap.zst -> <run dir>/steps
		dir = filepath.Join(filepath.Dir(filepath.Dir(*snapPath)), "steps")
	}

	cat, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tune := tuning.Defaults()
	if len(snap.TuningJSON) > 0 {
		tune, err = tuning.FromJSON(snap.TuningJSON)
		if err != nil {
			fmt.Fprintln(os.Stderr, "snapshot tuning:", err)
			os.Exit(1)
		}
	}
	reg, err := celltypes.Build(cat, tune.Parameters)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build cell types:", err)
		os.Exit(1)
	}
	t, err := tissue.NewFromSnapshot(tissue.Config{Tuning: tune}, reg, snap, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}

	files, err := persistlog.FilesAfter(dir, "steps", snap.Header.Step)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list steps:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no step files found in", dir)
		os.Exit(1)
	}

	checked, err := replay(t, files, *toStep)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d steps (from snapshot step=%d)\n", checked, snap.Header.Step)
}

// replay steps t forward and compares each step summary with the logged one.
func replay(t *tissue.Tissue, files []string, toStep uint64) (uint64, error) {
	var checked uint64
	for _, path := range files {
		err := persistlog.ReadJSONLZstd(path, func(line []byte) error {
			var want tissue.StepLogEntry
			if err := json.Unmarshal(line, &want); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			// Steps at or below the current one were verified already or re-logged by a resumed run.
			if want.RunID != t.RunID() || want.Step <= t.CurrentStep() {
				return nil
			}
			if toStep != 0 && want.Step > toStep {
				return errStop
			}
			if want.Step != t.CurrentStep()+1 {
				return fmt.Errorf("step gap: want=%d logged=%d", t.CurrentStep()+1, want.Step)
			}
			got := t.StepOnce()
			if got != want {
				return fmt.Errorf("divergence at step %d: got=%+v want=%+v", want.Step, got, want)
			}
			checked++
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}
