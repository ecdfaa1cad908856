package tissue

import (
	"context"
	"errors"
)

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Step uint64
	Err  string
}

// RequestSnapshot asks the loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (t *Tissue) RequestSnapshot(ctx context.Context) (step uint64, err error) {
	if t == nil || t.admin == nil {
		return 0, errors.New("admin snapshot not available")
	}
	resp := make(chan adminSnapshotResp, 1)
	req := adminSnapshotReq{Resp: resp}

	select {
	case t.admin <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Step, errors.New(r.Err)
		}
		return r.Step, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *Tissue) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	errStr := ""
	step := t.step.Load()
	if t.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case t.snapshotSink <- t.ExportSnapshot():
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	resp := adminSnapshotResp{Step: step, Err: errStr}
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}
