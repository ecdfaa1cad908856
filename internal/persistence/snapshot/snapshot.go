package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int     `json:"version"`
	RunID   string  `json:"run_id"`
	Step    uint64  `json:"step"`
	Time    float64 `json:"time"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed          int64   `json:"seed"`
	TickRate      int     `json:"tick_rate_hz"`
	DT            float64 `json:"dt"`
	PhenotypeDT   float64 `json:"phenotype_dt"`
	CatalogDigest string  `json:"catalog_digest"`

	// Effective tuning as canonical JSON, so a resumed run uses the same values.
	TuningJSON []byte `json:"tuning_json,omitempty"`

	Cells       []CellV1       `json:"cells"`
	Attachments []AttachmentV1 `json:"attachments"`

	Counters CountersV1 `json:"counters"`
}

type CellV1 struct {
	ID   uint64     `json:"id"`
	Type string     `json:"type"`
	Pos  [3]float64 `json:"pos"`

	Oncoprotein  float64 `json:"oncoprotein"`
	PDL1         int     `json:"pdl1"`
	Capabilities uint8   `json:"capabilities"`

	Motile        bool       `json:"motile"`
	BiasDirection [3]float64 `json:"bias_direction"`

	SecretionRates []float64 `json:"secretion_rates,omitempty"`
	UptakeRates    []float64 `json:"uptake_rates,omitempty"`

	Dead         bool    `json:"dead"`
	DeathModel   int     `json:"death_model,omitempty"`
	Phase        int     `json:"phase,omitempty"`
	Elapsed      float64 `json:"elapsed,omitempty"`
	NecrosisRate float64 `json:"necrosis_rate,omitempty"`
}

type AttachmentV1 struct {
	A uint64 `json:"a"`
	B uint64 `json:"b"`
}

type CountersV1 struct {
	NextCell  uint64   `json:"next_cell"`
	Deaths    int      `json:"deaths"`
	DeadIDs   []uint64 `json:"dead_ids,omitempty"`
	Recruited int      `json:"recruited"`

	// Number of source draws consumed since seeding; replayed on import.
	RandDraws uint64 `json:"rand_draws"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
