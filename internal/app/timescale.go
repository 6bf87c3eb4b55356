package app

import (
	"context"

	"delta-hedger/internal/hedge"
	"delta-hedger/internal/timescale"

	"go.uber.org/zap"
)

func (a *App) recordTimescale(ctx context.Context, res hedge.Result) {
	if a.timescale == nil {
		return
	}
	pos, err := a.controller.Position(ctx)
	if err != nil {
		a.log.Debug("timescale snapshot skipped", zap.Error(err))
		return
	}
	target := res.Target
	if res.Action == "" {
		if t, err := a.controller.CappedTarget(ctx); err == nil {
			target = t
		}
	}
	snap := timescale.HedgeSnapshot{
		Time:          a.now().UTC(),
		Asset:         a.cfg.Venue.Asset,
		State:         string(a.controller.State()),
		Direction:     string(pos.Direction),
		Size:          pos.Signed().InexactFloat64(),
		Collateral:    pos.Collateral.InexactFloat64(),
		EntryPrice:    pos.EntryPrice.InexactFloat64(),
		UnrealizedPnl: pos.UnrealizedPnl.InexactFloat64(),
		TargetSize:    target.InexactFloat64(),
		Pending:       a.controller.Pending() != nil,
		Paused:        a.isPaused(),
	}
	if ref, err := a.oracle.Price(ctx, hedge.SideReference); err == nil {
		snap.ReferencePrice = ref.InexactFloat64()
		if lev, ok := hedge.Leverage(pos, ref); ok {
			snap.Leverage = lev.InexactFloat64()
			snap.HasLeverage = true
		}
	}
	a.timescale.EnqueueSnapshot(snap)
}
