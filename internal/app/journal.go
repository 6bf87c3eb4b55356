package app

import (
	"context"
	"time"

	"delta-hedger/internal/hedge"
	"delta-hedger/internal/state"
	"delta-hedger/internal/timescale"

	"go.uber.org/zap"
)

// journal persists the controller's transitions and snapshots to the state
// store and mirrors transitions to timescale when enabled.
type journal struct {
	store     state.Store
	timescale *timescale.Writer
	log       *zap.Logger
	now       func() time.Time
}

var _ hedge.Recorder = (*journal)(nil)

func newJournal(store state.Store, ts *timescale.Writer, log *zap.Logger) *journal {
	return &journal{store: store, timescale: ts, log: log, now: time.Now}
}

func (j *journal) RecordTransition(ctx context.Context, t hedge.Transition) {
	if err := state.AppendJournal(ctx, j.store, t); err != nil {
		j.log.Warn("journal append failed", zap.Uint64("seq", t.Seq), zap.Error(err))
	}
	j.timescale.EnqueueTransition(timescale.OrderTransition{
		Time:     t.At,
		Seq:      int64(t.Seq),
		From:     string(t.From),
		To:       string(t.To),
		Event:    t.Event,
		OrderKey: string(t.Key),
		Detail:   t.Detail,
	})
}

func (j *journal) SaveSnapshot(ctx context.Context, snap hedge.Snapshot) error {
	if j.store == nil {
		return nil
	}
	return state.SaveControllerSnapshot(ctx, j.store, state.FromHedgeSnapshot(snap, j.now()))
}
