// Package attach stores the symmetric docking relation between cells.
//
// Relations live in one arena of records indexed by cell id; every cell is in
// at most one live record. A single mutex guards all mutation so both sides of
// a pair are updated together and no lock ordering between cells exists.
package attach

import (
	"sort"
	"sync"

	"cancerimmune.bio/internal/sim/model"
)

type Pair struct {
	A model.CellID `json:"a"`
	B model.CellID `json:"b"`
}

type record struct {
	pair Pair
	live bool
}

type Arena struct {
	mu      sync.Mutex
	records []record
	free    []int
	byCell  map[model.CellID]int
}

func New() *Arena {
	return &Arena{byCell: map[model.CellID]int{}}
}

// Attach pairs a and b. It returns true only when a new relation was created:
// re-attaching an existing pair is a no-op, and a cell already docked to
// someone else is refused.
func (r *Arena) Attach(a, b model.CellID) bool {
	if a == b {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, aBusy := r.byCell[a]
	_, bBusy := r.byCell[b]
	if aBusy || bBusy {
		return false
	}

	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		r.records[idx] = record{pair: Pair{A: a, B: b}, live: true}
	} else {
		idx = len(r.records)
		r.records = append(r.records, record{pair: Pair{A: a, B: b}, live: true})
	}
	r.byCell[a] = idx
	r.byCell[b] = idx
	return true
}

// Detach removes the relation between a and b, if any.
func (r *Arena) Detach(a, b model.CellID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byCell[a]
	if !ok {
		return false
	}
	p := r.records[idx].pair
	if !(p.A == a && p.B == b) && !(p.A == b && p.B == a) {
		return false
	}
	r.releaseLocked(idx)
	return true
}

// DetachAll drops whatever relation id takes part in and returns the former partner.
func (r *Arena) DetachAll(id model.CellID) (model.CellID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byCell[id]
	if !ok {
		return 0, false
	}
	other := otherSide(r.records[idx].pair, id)
	r.releaseLocked(idx)
	return other, true
}

func (r *Arena) releaseLocked(idx int) {
	p := r.records[idx].pair
	delete(r.byCell, p.A)
	delete(r.byCell, p.B)
	r.records[idx] = record{}
	r.free = append(r.free, idx)
}

func (r *Arena) Partner(id model.CellID) (model.CellID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byCell[id]
	if !ok {
		return 0, false
	}
	return otherSide(r.records[idx].pair, id), true
}

func (r *Arena) IsAttached(id model.CellID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byCell[id]
	return ok
}

// Len is the number of live relations.
func (r *Arena) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCell) / 2
}

// Pairs returns live relations ordered by their first cell id.
func (r *Arena) Pairs() []Pair {
	r.mu.Lock()
	out := make([]Pair, 0, len(r.byCell)/2)
	for _, rec := range r.records {
		if rec.live {
			out = append(out, rec.pair)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func (r *Arena) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.free = nil
	r.byCell = map[model.CellID]int{}
}

func otherSide(p Pair, id model.CellID) model.CellID {
	if p.A == id {
		return p.B
	}
	return p.A
}
