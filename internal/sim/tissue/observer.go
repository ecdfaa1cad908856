package tissue

import (
	"encoding/json"

	"cancerimmune.bio/internal/observerproto"
	"cancerimmune.bio/internal/sim/coloring"
	"cancerimmune.bio/internal/sim/model"
)

const defaultFrameEverySteps = 10

type ObserverJoinRequest struct {
	SessionID  string
	Out        chan []byte
	EverySteps int
	Kinds      []string
}

type ObserverSubscribeRequest struct {
	SessionID  string
	EverySteps int
	Kinds      []string
}

type observerClient struct {
	out        chan []byte
	everySteps int
	kinds      map[model.Kind]bool // nil means all
}

func (t *Tissue) ObserverJoin() chan<- ObserverJoinRequest { return t.observerJoin }

func (t *Tissue) ObserverSubscribe() chan<- ObserverSubscribeRequest { return t.observerSub }

func (t *Tissue) ObserverLeave() chan<- string { return t.observerLeave }

func (t *Tissue) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	c := &observerClient{out: req.Out}
	c.configure(req.EverySteps, req.Kinds)
	t.observers[req.SessionID] = c

	// Send the current state right away so a new viewer is not blank.
	if b, err := json.Marshal(t.frameFor(c)); err == nil {
		trySend(c.out, b)
	}
}

func (t *Tissue) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := t.observers[req.SessionID]
	if c == nil {
		return
	}
	c.configure(req.EverySteps, req.Kinds)
}

func (t *Tissue) handleObserverLeave(id string) {
	delete(t.observers, id)
}

func (c *observerClient) configure(every int, kinds []string) {
	if every <= 0 {
		every = defaultFrameEverySteps
	}
	c.everySteps = every
	c.kinds = nil
	for _, k := range kinds {
		kind, ok := parseKind(k)
		if !ok {
			continue
		}
		if c.kinds == nil {
			c.kinds = map[model.Kind]bool{}
		}
		c.kinds[kind] = true
	}
}

func (t *Tissue) broadcastFrame(step uint64) {
	for _, c := range t.observers {
		if step%uint64(c.everySteps) != 0 {
			continue
		}
		b, err := json.Marshal(t.frameFor(c))
		if err != nil {
			continue
		}
		trySend(c.out, b)
	}
}

// Frame renders every cell with its colors. Call it only from the loop
// goroutine or while the loop is not running.
func (t *Tissue) Frame() observerproto.FrameMsg {
	return t.frame(nil)
}

func (t *Tissue) frameFor(c *observerClient) observerproto.FrameMsg {
	return t.frame(c.kinds)
}

func (t *Tissue) frame(kinds map[model.Kind]bool) observerproto.FrameMsg {
	step := t.step.Load()
	s := t.summary(step)
	msg := observerproto.FrameMsg{
		Type:            "FRAME",
		ProtocolVersion: observerproto.Version,
		RunID:           t.cfg.RunID,
		Step:            step,
		Time:            s.Time,
		Stats: observerproto.FrameStats{
			Tumor:       s.Tumor,
			Immune:      s.Immune,
			Macrophages: s.Macrophages,
			Attached:    s.Attached,
			Deaths:      s.Deaths,
			Recruited:   t.recruited,
			TumorRadius: s.TumorRadius,
		},
		Cells: make([]observerproto.CellState, 0, len(t.cells)),
	}
	for _, c := range t.cells {
		if kinds != nil && !kinds[c.Type.Kind] {
			continue
		}
		partner, attached := t.arena.Partner(c.ID)
		cs := observerproto.CellState{
			ID:          uint64(c.ID),
			Kind:        c.Type.Kind.String(),
			Pos:         [3]float64{c.Pos.X, c.Pos.Y, c.Pos.Z},
			Radius:      c.Phenotype.Radius,
			Colors:      coloring.For(c, attached),
			Oncoprotein: c.Oncoprotein,
			PDL1:        c.PDL1,
			Phase:       c.Phenotype.Death.Phase.String(),
		}
		if attached {
			cs.AttachedTo = uint64(partner)
		}
		msg.Cells = append(msg.Cells, cs)
	}
	return msg
}

func parseKind(s string) (model.Kind, bool) {
	for _, k := range []model.Kind{model.KindTumor, model.KindImmune, model.KindMacrophage} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

func trySend(ch chan []byte, b []byte) {
	select {
	case ch <- b:
	default:
		// Slow observer; drop the frame.
	}
}
