package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Send one frame every N steps. Zero means the server default.
	EverySteps int `json:"every_steps"`

	// Optional kind filter ("tumor", "immune", "macrophage"). Empty means all.
	Kinds []string `json:"kinds,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	Step            uint64         `json:"step"`
	Time            float64        `json:"time"`
	RunParams       RunParams      `json:"run_params"`
	CellTypes       []CellTypeInfo `json:"cell_types"`
	Densities       []string       `json:"densities"`
}

type RunParams struct {
	TickRateHz  int     `json:"tick_rate_hz"`
	DT          float64 `json:"dt"`
	PhenotypeDT float64 `json:"phenotype_dt"`
	TumorRadius float64 `json:"tumor_radius"`
	Seed        int64   `json:"seed"`
}

type CellTypeInfo struct {
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Radius float64 `json:"radius"`
}

// Server -> Client. Sent every EverySteps steps.
type FrameMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	RunID           string  `json:"run_id"`
	Step            uint64  `json:"step"`
	Time            float64 `json:"time"`

	Stats FrameStats  `json:"stats"`
	Cells []CellState `json:"cells"`
}

type FrameStats struct {
	Tumor       int     `json:"tumor"`
	Immune      int     `json:"immune"`
	Macrophages int     `json:"macrophages"`
	Attached    int     `json:"attached"`
	Deaths      int     `json:"deaths"`
	Recruited   int     `json:"recruited"`
	TumorRadius float64 `json:"tumor_radius"`
}

type CellState struct {
	ID     uint64     `json:"id"`
	Kind   string     `json:"kind"`
	Pos    [3]float64 `json:"pos"`
	Radius float64    `json:"radius"`
	Colors [4]string  `json:"colors"`

	Oncoprotein float64 `json:"oncoprotein"`
	PDL1        int     `json:"pdl1"`
	Phase       string  `json:"phase"`
	AttachedTo  uint64  `json:"attached_to,omitempty"`
}
