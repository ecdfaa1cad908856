package observerproto_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cancerimmune.bio/internal/observerproto"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// toDoc round-trips v through JSON so the validator sees what goes on the wire.
func toDoc(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return doc
}

func TestSchemas_ValidateMessages(t *testing.T) {
	subSchema := compile(t, "subscribe.schema.json")
	bootSchema := compile(t, "bootstrap.schema.json")
	frameSchema := compile(t, "frame.schema.json")

	sub := observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		EverySteps:      10,
		Kinds:           []string{"tumor", "immune"},
	}
	if err := subSchema.Validate(toDoc(t, sub)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	boot := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           "run_1",
		Step:            0,
		RunParams: observerproto.RunParams{
			TickRateHz:  10,
			DT:          0.1,
			PhenotypeDT: 6,
			TumorRadius: 250,
			Seed:        42,
		},
		CellTypes: []observerproto.CellTypeInfo{
			{Name: "cancer cell", Kind: "tumor", Radius: 8.41},
			{Name: "immune cell", Kind: "immune", Radius: 8.41},
		},
		Densities: []string{"oxygen", "immunostimulatory factor"},
	}
	if err := bootSchema.Validate(toDoc(t, boot)); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	frame := observerproto.FrameMsg{
		Type:            "FRAME",
		ProtocolVersion: observerproto.Version,
		RunID:           "run_1",
		Step:            60,
		Time:            6,
		Stats:           observerproto.FrameStats{Tumor: 1, Immune: 1, Attached: 2, TumorRadius: 250},
		Cells: []observerproto.CellState{
			{ID: 1, Kind: "tumor", Pos: [3]float64{1, 2, 3}, Radius: 8.4, Colors: [4]string{"darkcyan", "black", "cyan", "black"}, Oncoprotein: 1.2, PDL1: 1, Phase: "live", AttachedTo: 2},
			{ID: 2, Kind: "immune", Radius: 8.4, Colors: [4]string{"lime", "lime", "green", "green"}, PDL1: 1, Phase: "live", AttachedTo: 1},
		},
	}
	if err := frameSchema.Validate(toDoc(t, frame)); err != nil {
		t.Fatalf("frame: %v", err)
	}
}

func TestSchemas_RejectBadMessages(t *testing.T) {
	subSchema := compile(t, "subscribe.schema.json")
	frameSchema := compile(t, "frame.schema.json")

	var badSub any
	_ = json.Unmarshal([]byte(`{"type":"SUBSCRIBE","protocol_version":"0.1","kinds":["neutrophil"]}`), &badSub)
	if err := subSchema.Validate(badSub); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}

	var badFrame any
	_ = json.Unmarshal([]byte(`{
	  "type":"FRAME","protocol_version":"0.1","run_id":"r","step":1,"time":0.1,
	  "stats":{"tumor":0,"immune":0,"macrophages":0,"attached":0,"deaths":0,"recruited":0,"tumor_radius":250},
	  "cells":[{"id":1,"kind":"tumor","pos":[0,0],"radius":8,"colors":["a","b","c","d"],"oncoprotein":1,"pdl1":1,"phase":"live"}]
	}`), &badFrame)
	if err := frameSchema.Validate(badFrame); err == nil {
		t.Fatalf("expected short position to be rejected")
	}
}
