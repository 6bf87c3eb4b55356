package hedge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"delta-hedger/internal/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Deps struct {
	Risk     RiskEngine
	Oracle   SpotOracle
	Pool     LiquidityLedger
	Venue    VenueGateway
	Recorder Recorder
	Alerter  Alerter
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// Controller runs every step under one mutex, including the venue calls a
// step makes, so a callback can never observe a half-applied submission.
// Alerts raised during a step are sent after the mutex is released.
type Controller struct {
	mu     sync.Mutex
	m      machine
	seq    uint64
	outbox []string

	params atomic.Pointer[Params]

	exposure *ExposureCalculator
	ledger   *PositionLedger
	oracle   SpotOracle
	pool     LiquidityLedger
	venue    VenueGateway
	recorder Recorder
	alerter  Alerter
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func New(deps Deps, params Params, log *zap.Logger) (*Controller, error) {
	if deps.Risk == nil {
		return nil, errors.New("risk engine is required")
	}
	if deps.Oracle == nil {
		return nil, errors.New("spot oracle is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("liquidity ledger is required")
	}
	if deps.Venue == nil {
		return nil, errors.New("venue gateway is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		m:        machine{state: StateIdle},
		exposure: NewExposureCalculator(deps.Risk),
		ledger:   NewPositionLedger(deps.Venue),
		oracle:   deps.Oracle,
		pool:     deps.Pool,
		venue:    deps.Venue,
		recorder: deps.Recorder,
		alerter:  deps.Alerter,
		metrics:  deps.Metrics,
		log:      log,
		now:      deps.Clock,
	}
	if c.recorder == nil {
		c.recorder = noopRecorder{}
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNoop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.params.Store(&params)
	return c, nil
}

func (c *Controller) Params() Params {
	return *c.params.Load()
}

// UpdateParams validates p and swaps it in. A step already running keeps the
// params it started with.
func (c *Controller) UpdateParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.params.Store(&p)
	c.log.Info("params updated",
		zap.Duration("interaction_delay", p.Hedger.InteractionDelay),
		zap.Stringer("hedge_cap", p.Hedger.HedgeCap),
		zap.Stringer("target_leverage", p.Leverage.TargetLeverage),
		zap.Stringer("leverage_buffer", p.Leverage.LeverageBuffer),
		zap.Stringer("acceptable_slippage", p.Leverage.AcceptableSlippage),
		zap.Duration("min_cancel_delay", p.Leverage.MinCancelDelay),
	)
	return nil
}

func (c *Controller) CappedTarget(ctx context.Context) (decimal.Decimal, error) {
	return c.exposure.CappedTarget(ctx, c.params.Load().Hedger)
}

func (c *Controller) Position(ctx context.Context) (HedgePosition, error) {
	return c.ledger.Snapshot(ctx)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.state
}

func (c *Controller) Pending() *PendingOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m.pending == nil {
		return nil
	}
	order := *c.m.pending
	return &order
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           c.m.state,
		LastInteraction: c.m.lastInteraction,
		LastSubmittedAt: c.m.lastSubmittedAt,
	}
	if c.m.pending != nil {
		order := *c.m.pending
		snap.Pending = &order
	}
	return snap
}

// Restore loads persisted state into an idle controller.
func (c *Controller) Restore(ctx context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.unlock(ctx)
	_, err := c.apply(ctx, c.params.Load(), EventRestore{Snapshot: snap})
	return err
}

// Hedge moves the venue position one step toward the capped target.
func (c *Controller) Hedge(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.unlock(ctx)
	p := c.params.Load()

	if _, err := transition(c.m, p, EventHedge{}); err != nil {
		return Result{Action: ActionNoOp, Reason: err.Error()}, err
	}
	target, err := c.exposure.CappedTarget(ctx, p.Hedger)
	if err != nil {
		return Result{Action: ActionNoOp}, err
	}
	c.metrics.TargetExposure.Set(target.InexactFloat64())
	pos, ref, err := c.observe(ctx)
	if err != nil {
		return Result{Action: ActionNoOp, Target: target}, err
	}
	res := Result{Action: ActionNoOp, Target: target, Position: pos}
	if pos.DualLeg() {
		return c.heal(ctx, p, pos, target, ref, res)
	}

	pl, ok := planDirectional(pos, target, ref, *p)
	if !ok {
		res.Reason = pl.reason
		return res, nil
	}
	if !Elapsed(c.m.lastInteraction, p.Hedger.InteractionDelay, c.now()) {
		c.metrics.Throttled.Inc()
		res.Action = ActionThrottled
		res.Reason = ErrThrottled.Error()
		return res, nil
	}
	return c.execute(ctx, p, pl, pos, ref, res, func(req OrderRequest) Event {
		return EventHedge{Request: &req}
	}, true)
}

// Rebalance adjusts collateral only, toward the target leverage. It is not
// subject to the interaction delay.
func (c *Controller) Rebalance(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.unlock(ctx)
	p := c.params.Load()

	if _, err := transition(c.m, p, EventRebalance{}); err != nil {
		return Result{Action: ActionNoOp, Reason: err.Error()}, err
	}
	pos, ref, err := c.observe(ctx)
	if err != nil {
		return Result{Action: ActionNoOp}, err
	}
	res := Result{Action: ActionNoOp, Position: pos}
	if pos.DualLeg() {
		target, err := c.exposure.CappedTarget(ctx, p.Hedger)
		if err != nil {
			return res, err
		}
		res.Target = target
		return c.heal(ctx, p, pos, target, ref, res)
	}

	pl, ok := planLeverage(pos, ref, p.Leverage)
	if !ok {
		res.Reason = pl.reason
		return res, nil
	}
	res, err = c.execute(ctx, p, pl, pos, ref, res, func(req OrderRequest) Event {
		return EventRebalance{Request: &req}
	}, false)
	if err == nil && res.Action == ActionSubmitted {
		c.metrics.LeverageRebalances.Inc()
	}
	return res, err
}

// Cancel drops the pending order once MinCancelDelay has passed since it was
// submitted. A failed venue cancel leaves the order pending.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock(ctx)
	p := c.params.Load()

	var key OrderKey
	if c.m.pending != nil {
		key = c.m.pending.Key
	}
	if _, err := c.apply(ctx, p, EventCancel{Now: c.now()}); err != nil {
		return err
	}
	c.metrics.OrdersCancelled.Inc()
	c.log.Info("pending order cancelled", zap.String("order_key", string(key)))
	return nil
}

// OnOrderExecuted is the venue executor's callback. Callbacks for any key
// other than the pending order's are ignored.
func (c *Controller) OnOrderExecuted(ctx context.Context, key OrderKey, success bool) {
	c.mu.Lock()
	defer c.unlock(ctx)
	p := c.params.Load()

	st, err := c.apply(ctx, p, EventExecuted{Key: key, Success: success})
	if err != nil {
		c.log.Warn("execution callback failed", zap.String("order_key", string(key)), zap.Error(err))
		return
	}
	if st.ignored {
		c.metrics.CallbacksIgnored.Inc()
		c.log.Debug("ignoring execution callback", zap.String("order_key", string(key)), zap.Bool("success", success))
		return
	}
	if success {
		c.metrics.OrdersExecuted.Inc()
		c.log.Info("order executed", zap.String("order_key", string(key)))
		return
	}
	c.metrics.OrdersFailed.Inc()
	c.log.Warn("order failed at venue", zap.String("order_key", string(key)))
}

func (c *Controller) observe(ctx context.Context) (HedgePosition, decimal.Decimal, error) {
	pos, err := c.ledger.Snapshot(ctx)
	if err != nil {
		return HedgePosition{}, decimal.Zero, err
	}
	ref, err := c.price(ctx, SideReference)
	if err != nil {
		return pos, decimal.Zero, err
	}
	c.metrics.HedgeSize.Set(pos.Signed().InexactFloat64())
	if lev, ok := Leverage(pos, ref); ok {
		c.metrics.Leverage.Set(lev.InexactFloat64())
	} else {
		c.metrics.Leverage.Set(0)
	}
	return pos, ref, nil
}

func (c *Controller) price(ctx context.Context, side PriceSide) (decimal.Decimal, error) {
	price, err := c.oracle.Price(ctx, side)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle %s price: %w", side, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("oracle %s price %s: %w", side, price, ErrInvalidPrice)
	}
	return price, nil
}

func (c *Controller) heal(ctx context.Context, p *Params, pos HedgePosition, target, ref decimal.Decimal, res Result) (Result, error) {
	pl := planHeal(pos, target)
	c.log.Warn("dual-leg position detected",
		zap.Stringer("long_size", pos.Long.Size),
		zap.Stringer("short_size", pos.Short.Size),
		zap.String("closing", string(pl.direction)),
	)
	res, err := c.execute(ctx, p, pl, pos, ref, res, func(req OrderRequest) Event {
		return EventHeal{Request: req}
	}, false)
	if err == nil && res.Action == ActionSubmitted {
		c.metrics.DualLegHealed.Inc()
	}
	return res, err
}

func (c *Controller) execute(ctx context.Context, p *Params, pl plan, pos HedgePosition, ref decimal.Decimal, res Result, wrap func(OrderRequest) Event, directional bool) (Result, error) {
	sidePrice, err := c.price(ctx, pl.side())
	if err != nil {
		return res, err
	}
	if pl.needsCapital() {
		granted, err := c.pool.RequestCapital(ctx, pl.collateral)
		if err != nil {
			return res, fmt.Errorf("request capital: %w", err)
		}
		if granted.GreaterThan(pl.collateral) {
			c.returnCapital(ctx, granted.Sub(pl.collateral))
			granted = pl.collateral
		}
		if granted.LessThan(pl.collateral) {
			fitted, ok := fitToCapital(pl, pos, granted, ref, p.Leverage)
			if !ok {
				if granted.IsPositive() {
					c.returnCapital(ctx, granted)
				}
				c.metrics.InsufficientCapital.Inc()
				c.log.Warn("insufficient capital for order",
					zap.Stringer("requested", pl.collateral),
					zap.Stringer("granted", granted),
				)
				c.alert(ctx, fmt.Sprintf("%v: requested %s, pool granted %s", ErrInsufficientCapital, pl.collateral, granted))
				res.Reason = ErrInsufficientCapital.Error()
				return res, nil
			}
			c.log.Info("sizing order to available capital",
				zap.Stringer("planned_size", pl.size),
				zap.Stringer("size", fitted.size),
				zap.Stringer("collateral", fitted.collateral),
			)
			pl = fitted
		}
	}

	req := OrderRequest{
		ClientID:        uuid.NewString(),
		Kind:            pl.kind,
		Direction:       pl.direction,
		SizeDelta:       pl.size,
		CollateralDelta: pl.collateral,
		AcceptablePrice: acceptablePrice(sidePrice, pl.side(), p.Leverage.AcceptableSlippage),
	}
	order, err := c.submit(ctx, p, wrap(req), directional)
	if err != nil {
		res.Reason = err.Error()
		return res, err
	}
	res.Action = ActionSubmitted
	res.Reason = pl.reason
	res.Order = order
	return res, nil
}

func (c *Controller) submit(ctx context.Context, p *Params, ev Event, directional bool) (*PendingOrder, error) {
	st, err := transition(c.m, p, ev)
	if err != nil {
		return nil, err
	}
	var req OrderRequest
	found := false
	for _, eff := range st.effects {
		if s, ok := eff.(EffectSubmit); ok {
			req = s.Request
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%s step produced no submission", ev.name())
	}

	var key OrderKey
	if req.Kind == KindIncrease {
		key, err = c.venue.SubmitIncrease(ctx, req)
	} else {
		key, err = c.venue.SubmitDecrease(ctx, req)
	}
	if err != nil {
		c.metrics.SubmitErrors.Inc()
		c.log.Warn("order submission failed",
			zap.String("kind", string(req.Kind)),
			zap.String("direction", string(req.Direction)),
			zap.Error(err),
		)
		if _, ferr := c.apply(ctx, p, EventSubmitFailed{Request: req, Err: err}); ferr != nil {
			c.log.Error("submit failure transition", zap.Error(ferr))
		}
		return nil, fmt.Errorf("submit %s %s: %w", req.Kind, req.Direction, err)
	}

	order := PendingOrder{
		Key:             key,
		ClientID:        req.ClientID,
		Kind:            req.Kind,
		Direction:       req.Direction,
		SizeDelta:       req.SizeDelta,
		CollateralDelta: req.CollateralDelta,
		AcceptablePrice: req.AcceptablePrice,
		SubmittedAt:     c.now(),
	}
	if _, err := c.apply(ctx, p, EventSubmitted{Order: order, Directional: directional}); err != nil {
		return nil, err
	}
	c.metrics.OrdersSubmitted.Inc()
	c.log.Info("order submitted",
		zap.String("event", ev.name()),
		zap.String("order_key", string(key)),
		zap.String("kind", string(req.Kind)),
		zap.String("direction", string(req.Direction)),
		zap.Stringer("size_delta", req.SizeDelta),
		zap.Stringer("collateral_delta", req.CollateralDelta),
		zap.Stringer("acceptable_price", req.AcceptablePrice),
	)
	pending := *c.m.pending
	return &pending, nil
}

// apply runs one transition and its effects. A venue cancel is requested
// before the new state is committed; everything else runs after.
func (c *Controller) apply(ctx context.Context, p *Params, ev Event) (step, error) {
	st, err := transition(c.m, p, ev)
	if err != nil {
		return st, err
	}
	if st.ignored {
		return st, nil
	}
	for _, eff := range st.effects {
		if cancel, ok := eff.(EffectRequestCancel); ok {
			if err := c.venue.RequestCancel(ctx, cancel.Key); err != nil {
				return st, fmt.Errorf("request cancel %s: %w", cancel.Key, err)
			}
		}
	}

	from := c.m
	c.m = st.next
	c.commit(ctx, from, ev)

	for _, eff := range st.effects {
		switch e := eff.(type) {
		case EffectSweepResidual:
			c.sweep(ctx)
		case EffectReturnCapital:
			c.returnCapital(ctx, e.Amount)
		case EffectAlert:
			c.alert(ctx, e.Message)
		}
	}
	return st, nil
}

func (c *Controller) commit(ctx context.Context, from machine, ev Event) {
	c.seq++
	var key OrderKey
	switch {
	case c.m.pending != nil:
		key = c.m.pending.Key
	case from.pending != nil:
		key = from.pending.Key
	}
	t := Transition{
		Seq:    c.seq,
		At:     c.now(),
		From:   from.state,
		To:     c.m.state,
		Event:  ev.name(),
		Key:    key,
		Detail: describe(ev),
	}
	c.recorder.RecordTransition(ctx, t)
	if err := c.recorder.SaveSnapshot(ctx, c.snapshotLocked()); err != nil {
		c.log.Warn("persist controller snapshot", zap.Error(err))
	}
	if c.m.pending != nil {
		c.metrics.PendingOrder.Set(1)
	} else {
		c.metrics.PendingOrder.Set(0)
	}
	if from.state != c.m.state {
		c.log.Info("state transition",
			zap.String("from", string(from.state)),
			zap.String("to", string(c.m.state)),
			zap.String("event", ev.name()),
			zap.String("order_key", string(key)),
		)
	}
}

func describe(ev Event) string {
	switch ev := ev.(type) {
	case EventSubmitted:
		return fmt.Sprintf("%s %s size=%s collateral=%s price=%s",
			ev.Order.Kind, ev.Order.Direction, ev.Order.SizeDelta, ev.Order.CollateralDelta, ev.Order.AcceptablePrice)
	case EventSubmitFailed:
		return fmt.Sprintf("%s %s: %v", ev.Request.Kind, ev.Request.Direction, ev.Err)
	case EventExecuted:
		return fmt.Sprintf("success=%t", ev.Success)
	case EventRestore:
		if ev.Snapshot.Pending != nil {
			return "restored pending order"
		}
		return "restored idle"
	}
	return ""
}

func (c *Controller) sweep(ctx context.Context) {
	amount, err := c.venue.SweepResidual(ctx)
	if err != nil {
		c.log.Warn("sweep residual", zap.Error(err))
		return
	}
	if !amount.IsPositive() {
		return
	}
	c.returnCapital(ctx, amount)
	c.metrics.ResidualSweeps.Inc()
	c.log.Info("residual returned to pool", zap.Stringer("amount", amount))
}

func (c *Controller) returnCapital(ctx context.Context, amount decimal.Decimal) {
	if err := c.pool.ReturnCapital(ctx, amount); err != nil {
		c.log.Error("return capital to pool", zap.Stringer("amount", amount), zap.Error(err))
		c.alert(ctx, fmt.Sprintf("failed to return %s to pool: %v", amount, err))
	}
}

// alert queues message for delivery once the current step unlocks.
func (c *Controller) alert(_ context.Context, message string) {
	if c.alerter == nil {
		return
	}
	c.outbox = append(c.outbox, message)
}

// unlock ends a step and delivers the alerts it queued.
func (c *Controller) unlock(ctx context.Context) {
	queued := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	for _, message := range queued {
		if err := c.alerter.Send(ctx, message); err != nil {
			c.log.Warn("alert send failed", zap.Error(err))
		}
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(context.Context, Transition) {}

func (noopRecorder) SaveSnapshot(context.Context, Snapshot) error { return nil }
