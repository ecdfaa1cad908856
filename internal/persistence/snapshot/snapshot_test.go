package snapshot

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "600.snap.zst")
	in := SnapshotV1{
		Header:        Header{Version: Version, RunID: "run-1", Step: 600, Time: 60},
		Seed:          7,
		TickRate:      10,
		DT:            0.1,
		PhenotypeDT:   6,
		CatalogDigest: "abc",
		Cells: []CellV1{
			{ID: 1, Type: "cancer cell", Pos: [3]float64{1, 2, 3}, Oncoprotein: 1.2, PDL1: 0, Capabilities: 9},
			{ID: 2, Type: "immune cell", Pos: [3]float64{4, 5, 6}, PDL1: 1, Motile: false},
			{ID: 3, Type: "cancer cell", Dead: true, DeathModel: 1, Phase: 1, Elapsed: 12.5},
		},
		Attachments: []AttachmentV1{{A: 1, B: 2}},
		Counters:    CountersV1{NextCell: 4, Deaths: 1, DeadIDs: []uint64{3}, RandDraws: 99},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h != in.Header {
		t.Fatalf("header mismatch: got %+v want %+v", h, in.Header)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestReadSnapshot_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 99}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
